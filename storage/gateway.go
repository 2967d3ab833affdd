package storage

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meridianlabs/postvault/model"
)

// UpsertOutcome is the dedup decision for one normalized post.
type UpsertOutcome string

const (
	UpsertInserted  UpsertOutcome = "inserted"
	UpsertUpdated   UpsertOutcome = "updated"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

var (
	// ErrAccountBusy is returned by ClaimAccount when another job already
	// holds the running marker for the account.
	ErrAccountBusy = errors.New("account already claimed by a running job")

	ErrJobNotFound = errors.New("job not found")
)

// Gateway is the storage contract the engine uses: sync cursor reads, post
// upserts, job records and the per-account claim protocol. Different
// accounts may be written concurrently; the claim row serializes jobs
// within one account.
type Gateway struct {
	db *gorm.DB
}

func NewGateway(db *gorm.DB) *Gateway {
	return &Gateway{db: db}
}

// ReadSyncCursor returns the highest post id already stored for the
// account, or empty when nothing is stored yet. Numeric post ids are
// compared by length first so "100" sorts above "99". Recomputed from the
// store at each job start, so it tolerates external writes.
func (g *Gateway) ReadSyncCursor(account string) (string, error) {
	var post model.Post
	err := g.db.
		Where("author_username = ?", account).
		Order("length(post_id) DESC, post_id DESC").
		First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "read sync cursor")
	}
	return post.PostID, nil
}

// UpsertPost applies the dedup decision rule: insert when the post id is
// unknown, update mutable fields when the fingerprint or counters differ,
// otherwise write nothing. The rule is commutative and idempotent, which
// is what makes re-running collection over already-seen posts safe.
func (g *Gateway) UpsertPost(post *model.Post) (UpsertOutcome, error) {
	outcome := UpsertUnchanged

	err := g.db.Transaction(func(tx *gorm.DB) error {
		var existing model.Post
		err := tx.Where("post_id = ?", post.PostID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := tx.Create(post).Error; err != nil {
				return errors.Wrap(err, "insert post")
			}
			outcome = UpsertInserted
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "lookup post")
		}

		if existing.ContentHash == post.ContentHash && existing.CountersEqual(post) {
			outcome = UpsertUnchanged
			return nil
		}

		// Counters may even decrease upstream; we record whatever was
		// observed rather than clamping.
		updates := map[string]interface{}{
			"text":          post.Text,
			"media_urls":    post.MediaUrls,
			"content_hash":  post.ContentHash,
			"like_count":    post.LikeCount,
			"retweet_count": post.RetweetCount,
			"reply_count":   post.ReplyCount,
			"quote_count":   post.QuoteCount,
			"view_count":    post.ViewCount,
			"source":        post.Source,
			"collected_at":  post.CollectedAt,
			"raw_payload":   post.RawPayload,
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return errors.Wrap(err, "update post")
		}
		outcome = UpsertUpdated
		return nil
	})

	return outcome, err
}

// WriteJob persists the job record, creating or updating as needed.
func (g *Gateway) WriteJob(job *model.Job) error {
	return errors.Wrap(g.db.Save(job).Error, "write job")
}

func (g *Gateway) GetJob(jobID string) (*model.Job, error) {
	var job model.Job
	err := g.db.Where("job_id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get job")
	}
	return &job, nil
}

// ListJobs returns jobs newest-first, optionally filtered by status.
func (g *Gateway) ListJobs(status *model.JobStatus) ([]model.Job, error) {
	q := g.db.Order("created_at DESC")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var jobs []model.Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	return jobs, nil
}

// HasRunningJob is the optimistic half of the mutual-exclusion check, used
// at submission time. The authoritative check is ClaimAccount.
func (g *Gateway) HasRunningJob(account string) (bool, error) {
	var count int64
	err := g.db.Model(&model.Job{}).
		Where("account = ? AND status = ?", account, model.JobStatusRunning).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "count running jobs")
	}
	return count > 0, nil
}

// ClaimAccount atomically claims the running marker for an account. The
// claim is an insert that does nothing on conflict; zero affected rows
// means somebody else holds it.
func (g *Gateway) ClaimAccount(account, jobID string) error {
	claim := model.AccountClaim{
		Account:   account,
		JobID:     jobID,
		ClaimedAt: time.Now(),
	}
	res := g.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&claim)
	if res.Error != nil {
		return errors.Wrap(res.Error, "claim account")
	}
	if res.RowsAffected == 0 {
		return ErrAccountBusy
	}
	return nil
}

// ReleaseAccount drops the claim, but only if this job holds it; a
// watchdog may have reassigned a stuck account in the meantime.
func (g *Gateway) ReleaseAccount(account, jobID string) error {
	err := g.db.
		Where("account = ? AND job_id = ?", account, jobID).
		Delete(&model.AccountClaim{}).Error
	return errors.Wrap(err, "release account claim")
}

// PostFilter narrows ListPosts. Zero values mean "no constraint".
type PostFilter struct {
	Author string
	Source model.PostSource
	Limit  int
	Offset int
}

// ListPosts returns stored posts newest-first for the routing layer.
func (g *Gateway) ListPosts(filter PostFilter) ([]model.Post, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	q := g.db.Where("is_deleted = ?", false).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset)
	if filter.Author != "" {
		q = q.Where("author_username = ?", filter.Author)
	}
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}

	var posts []model.Post
	if err := q.Find(&posts).Error; err != nil {
		return nil, errors.Wrap(err, "list posts")
	}
	return posts, nil
}

func (g *Gateway) GetPost(postID string) (*model.Post, error) {
	var post model.Post
	err := g.db.Where("post_id = ?", postID).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gorm.ErrRecordNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get post")
	}
	return &post, nil
}

// PostSearchFilter is the advanced query surface on top of PostFilter:
// case-insensitive text match, a date window on the platform timestamp and
// engagement floors. Zero values mean "no constraint".
type PostSearchFilter struct {
	Query       string
	Author      string
	Source      model.PostSource
	StartDate   *time.Time
	EndDate     *time.Time
	MinLikes    *int
	MinRetweets *int
	Limit       int
	Offset      int
}

// SearchPosts returns matching posts newest-first.
func (g *Gateway) SearchPosts(filter PostSearchFilter) ([]model.Post, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	q := g.db.Where("is_deleted = ?", false).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset)
	if filter.Query != "" {
		q = q.Where("LOWER(text) LIKE ?", "%"+strings.ToLower(filter.Query)+"%")
	}
	if filter.Author != "" {
		q = q.Where("author_username = ?", filter.Author)
	}
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}
	if filter.StartDate != nil {
		q = q.Where("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		q = q.Where("created_at <= ?", *filter.EndDate)
	}
	if filter.MinLikes != nil {
		q = q.Where("like_count >= ?", *filter.MinLikes)
	}
	if filter.MinRetweets != nil {
		q = q.Where("retweet_count >= ?", *filter.MinRetweets)
	}

	var posts []model.Post
	if err := q.Find(&posts).Error; err != nil {
		return nil, errors.Wrap(err, "search posts")
	}
	return posts, nil
}

// PostStats is the aggregate snapshot of the vault: totals, engagement
// sums, media coverage and recency counters. Soft-deleted posts are
// excluded everywhere.
type PostStats struct {
	TotalPosts    int64                      `json:"total_posts"`
	PostsBySource map[model.PostSource]int64 `json:"posts_by_source"`

	TotalLikes         int64   `json:"total_likes"`
	TotalRetweets      int64   `json:"total_retweets"`
	TotalReplies       int64   `json:"total_replies"`
	AvgLikesPerPost    float64 `json:"avg_likes_per_post"`
	AvgRetweetsPerPost float64 `json:"avg_retweets_per_post"`

	PostsWithMedia int64 `json:"posts_with_media"`

	EarliestPost *time.Time `json:"earliest_post,omitempty"`
	LatestPost   *time.Time `json:"latest_post,omitempty"`

	PostsLast24h int64 `json:"posts_last_24h"`
	PostsLast7d  int64 `json:"posts_last_7d"`

	TotalJobs     int64 `json:"total_jobs"`
	CompletedJobs int64 `json:"completed_jobs"`
}

func (g *Gateway) livePosts() *gorm.DB {
	return g.db.Model(&model.Post{}).Where("is_deleted = ?", false)
}

// Stats computes the aggregate snapshot. The recency windows are anchored
// on the caller-provided clock.
func (g *Gateway) Stats(now time.Time) (*PostStats, error) {
	stats := &PostStats{PostsBySource: map[model.PostSource]int64{}}

	if err := g.livePosts().Count(&stats.TotalPosts).Error; err != nil {
		return nil, errors.Wrap(err, "count posts")
	}

	var bySource []struct {
		Source model.PostSource
		N      int64
	}
	err := g.livePosts().
		Select("source, COUNT(*) AS n").
		Group("source").
		Scan(&bySource).Error
	if err != nil {
		return nil, errors.Wrap(err, "count posts by source")
	}
	for _, row := range bySource {
		stats.PostsBySource[row.Source] = row.N
	}

	var totals struct {
		Likes    int64
		Retweets int64
		Replies  int64
	}
	err = g.livePosts().
		Select("COALESCE(SUM(like_count), 0) AS likes, COALESCE(SUM(retweet_count), 0) AS retweets, COALESCE(SUM(reply_count), 0) AS replies").
		Scan(&totals).Error
	if err != nil {
		return nil, errors.Wrap(err, "sum engagement counters")
	}
	stats.TotalLikes = totals.Likes
	stats.TotalRetweets = totals.Retweets
	stats.TotalReplies = totals.Replies
	if stats.TotalPosts > 0 {
		stats.AvgLikesPerPost = round2(float64(totals.Likes) / float64(stats.TotalPosts))
		stats.AvgRetweetsPerPost = round2(float64(totals.Retweets) / float64(stats.TotalPosts))
	}

	// media_urls is a json column on postgres and text on sqlite; the cast
	// makes the emptiness check portable across both.
	err = g.livePosts().
		Where("media_urls IS NOT NULL AND CAST(media_urls AS TEXT) NOT IN ('[]', 'null', '')").
		Count(&stats.PostsWithMedia).Error
	if err != nil {
		return nil, errors.Wrap(err, "count posts with media")
	}

	if stats.TotalPosts > 0 {
		var earliest, latest model.Post
		if err := g.livePosts().Order("created_at ASC").First(&earliest).Error; err != nil {
			return nil, errors.Wrap(err, "earliest post")
		}
		if err := g.livePosts().Order("created_at DESC").First(&latest).Error; err != nil {
			return nil, errors.Wrap(err, "latest post")
		}
		stats.EarliestPost = &earliest.CreatedAt
		stats.LatestPost = &latest.CreatedAt
	}

	if err := g.livePosts().Where("created_at >= ?", now.Add(-24*time.Hour)).Count(&stats.PostsLast24h).Error; err != nil {
		return nil, errors.Wrap(err, "count posts last 24h")
	}
	if err := g.livePosts().Where("created_at >= ?", now.AddDate(0, 0, -7)).Count(&stats.PostsLast7d).Error; err != nil {
		return nil, errors.Wrap(err, "count posts last 7d")
	}

	if err := g.db.Model(&model.Job{}).Count(&stats.TotalJobs).Error; err != nil {
		return nil, errors.Wrap(err, "count jobs")
	}
	err = g.db.Model(&model.Job{}).
		Where("status = ?", model.JobStatusCompleted).
		Count(&stats.CompletedJobs).Error
	if err != nil {
		return nil, errors.Wrap(err, "count completed jobs")
	}

	return stats, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CountPosts returns the number of stored, non-deleted posts for an
// account.
func (g *Gateway) CountPosts(account string) (int64, error) {
	var count int64
	err := g.db.Model(&model.Post{}).
		Where("author_username = ? AND is_deleted = ?", account, false).
		Count(&count).Error
	return count, errors.Wrap(err, "count posts")
}
