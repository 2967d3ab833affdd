package main

import (
	"encoding/json"
	"flag"
	"os"

	"github.com/araddon/dateparse"

	"github.com/meridianlabs/postvault/model"
	"github.com/meridianlabs/postvault/storage"
	"github.com/meridianlabs/postvault/utils/dotenv"
	. "github.com/meridianlabs/postvault/utils/log"
)

// Dump stored posts to a JSON file, newest first. Useful for handing the
// vault's content to analysis tools without going through the HTTP surface.
var (
	output    = flag.String("output", "", "path of the JSON file to write")
	account   = flag.String("account", "", "only export posts of this account")
	startDate = flag.String("start_date", "", "only export posts created at or after this date")
	limit     = flag.Int("limit", 1000, "maximum number of posts to export")
)

func init() {
	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}
}

func main() {
	flag.Parse()
	if *output == "" {
		Log.Fatal("-output is required")
	}

	filter := storage.PostSearchFilter{Author: *account}
	if *startDate != "" {
		ts, err := dateparse.ParseAny(*startDate)
		if err != nil {
			Log.Fatalf("invalid -start_date %q: %s", *startDate, err)
		}
		filter.StartDate = &ts
	}

	db, err := storage.GetDBConnection()
	if err != nil {
		panic(err)
	}
	if err := storage.Migrate(db); err != nil {
		panic(err)
	}
	gateway := storage.NewGateway(db)

	// Page through the store; the gateway caps single reads at 500.
	posts := []model.Post{}
	for len(posts) < *limit {
		batch := *limit - len(posts)
		if batch > 500 {
			batch = 500
		}
		filter.Limit = batch
		filter.Offset = len(posts)

		page, err := gateway.SearchPosts(filter)
		if err != nil {
			Log.Fatalf("fail to read posts: %s", err)
		}
		posts = append(posts, page...)
		if len(page) < batch {
			break
		}
	}

	encoded, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		Log.Fatalf("fail to encode posts: %s", err)
	}
	if err := os.WriteFile(*output, encoded, 0644); err != nil {
		Log.Fatalf("fail to write %s: %s", *output, err)
	}
	Log.Infof("exported %d posts to %s", len(posts), *output)
}
