package main

import (
	"fmt"
	"time"

	"github.com/meridianlabs/postvault/storage"
	"github.com/meridianlabs/postvault/utils/dotenv"
	. "github.com/meridianlabs/postvault/utils/log"
)

// Print an aggregate snapshot of the vault on stdout.
func init() {
	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}
}

func main() {
	db, err := storage.GetDBConnection()
	if err != nil {
		panic(err)
	}
	if err := storage.Migrate(db); err != nil {
		panic(err)
	}
	gateway := storage.NewGateway(db)

	stats, err := gateway.Stats(time.Now())
	if err != nil {
		Log.Fatalf("fail to compute stats: %s", err)
	}

	fmt.Printf("posts:        %d\n", stats.TotalPosts)
	for source, count := range stats.PostsBySource {
		fmt.Printf("  %-10s  %d\n", source, count)
	}
	fmt.Printf("likes:        %d (avg %.2f per post)\n", stats.TotalLikes, stats.AvgLikesPerPost)
	fmt.Printf("retweets:     %d (avg %.2f per post)\n", stats.TotalRetweets, stats.AvgRetweetsPerPost)
	fmt.Printf("replies:      %d\n", stats.TotalReplies)
	fmt.Printf("with media:   %d\n", stats.PostsWithMedia)
	if stats.EarliestPost != nil && stats.LatestPost != nil {
		fmt.Printf("date range:   %s .. %s\n",
			stats.EarliestPost.UTC().Format("2006-01-02 15:04"),
			stats.LatestPost.UTC().Format("2006-01-02 15:04"))
	}
	fmt.Printf("last 24h/7d:  %d / %d\n", stats.PostsLast24h, stats.PostsLast7d)
	fmt.Printf("jobs:         %d total, %d completed\n", stats.TotalJobs, stats.CompletedJobs)
}
