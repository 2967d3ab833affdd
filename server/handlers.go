package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"

	"github.com/meridianlabs/postvault/engine"
	"github.com/meridianlabs/postvault/model"
	"github.com/meridianlabs/postvault/storage"
	Logger "github.com/meridianlabs/postvault/utils/log"
)

// Handlers binds the HTTP surface to the orchestrator (job control) and the
// storage gateway (post reads). The HTTP layer does no business logic: it
// translates requests and maps the orchestrator's verdicts to status codes.
type Handlers struct {
	Orchestrator *engine.Orchestrator
	Gateway      *storage.Gateway
}

// SubmitJobRequest is the body of POST /api/v1/jobs. Account falls back to
// the engine's configured default when empty.
type SubmitJobRequest struct {
	JobType  string `json:"job_type" binding:"required"`
	Account  string `json:"account"`
	MaxPosts int    `json:"max_posts"`
	SinceID  string `json:"since_id"`
}

// PostView is the external shape of a post. The raw backend payload and the
// surrogate primary key stay internal.
type PostView struct {
	PostID         string           `json:"post_id"`
	AuthorUsername string           `json:"author_username"`
	AuthorID       string           `json:"author_id,omitempty"`
	AuthorName     string           `json:"author_name,omitempty"`
	Text           string           `json:"text"`
	Language       string           `json:"language,omitempty"`
	LikeCount      int              `json:"like_count"`
	RetweetCount   int              `json:"retweet_count"`
	ReplyCount     int              `json:"reply_count"`
	QuoteCount     int              `json:"quote_count"`
	ViewCount      *int             `json:"view_count,omitempty"`
	IsReply        bool             `json:"is_reply"`
	IsRetweet      bool             `json:"is_retweet"`
	IsQuote        bool             `json:"is_quote"`
	MediaUrls      []string         `json:"media_urls,omitempty"`
	Source         model.PostSource `json:"source"`
	CreatedAt      string           `json:"created_at"`
	CollectedAt    string           `json:"collected_at"`
}

func (h *Handlers) SubmitJob(c *gin.Context) {
	req := SubmitJobRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := map[string]interface{}{}
	if req.Account != "" {
		params[model.ParamUsername] = req.Account
	}
	if req.MaxPosts > 0 {
		params[model.ParamMaxPosts] = req.MaxPosts
	}
	if req.SinceID != "" {
		params[model.ParamSinceID] = req.SinceID
	}

	jobID, err := h.Orchestrator.Submit(req.JobType, params)
	switch {
	case errors.Is(err, engine.ErrJobConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrUnknownJobType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		Logger.Log.Errorf("fail to submit job: %s", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submission failed"})
	default:
		c.JSON(http.StatusCreated, gin.H{"job_id": jobID, "status": model.JobStatusPending})
	}
}

func (h *Handlers) GetJob(c *gin.Context) {
	job, err := h.Orchestrator.GetStatus(c.Param("id"))
	if errors.Is(err, storage.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		Logger.Log.Errorf("fail to load job %s: %s", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handlers) ListJobs(c *gin.Context) {
	var status *model.JobStatus
	if raw := c.Query("status"); raw != "" {
		s := model.JobStatus(raw)
		switch s {
		case model.JobStatusPending, model.JobStatusRunning,
			model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled:
			status = &s
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + raw})
			return
		}
	}

	jobs, err := h.Orchestrator.ListJobs(status)
	if err != nil {
		Logger.Log.Errorf("fail to list jobs: %s", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *Handlers) CancelJob(c *gin.Context) {
	jobID := c.Param("id")
	switch h.Orchestrator.Cancel(jobID) {
	case engine.CancelAccepted:
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "result": "cancellation requested"})
	case engine.CancelAlreadyTerminal:
		c.JSON(http.StatusConflict, gin.H{"job_id": jobID, "error": "job already finished"})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	}
}

func (h *Handlers) ListPosts(c *gin.Context) {
	filter := storage.PostFilter{
		Author: c.Query("author"),
		Source: model.PostSource(c.Query("source")),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		filter.Offset = n
	}

	posts, err := h.Gateway.ListPosts(filter)
	if err != nil {
		Logger.Log.Errorf("fail to list posts: %s", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}

	views := make([]PostView, 0, len(posts))
	for i := range posts {
		views = append(views, toPostView(&posts[i]))
	}
	c.JSON(http.StatusOK, gin.H{"posts": views})
}

// SearchPosts is the advanced read path: free-text match plus date-range
// and engagement filters on top of the plain listing.
func (h *Handlers) SearchPosts(c *gin.Context) {
	filter := storage.PostSearchFilter{
		Query:  c.Query("q"),
		Author: c.Query("author"),
		Source: model.PostSource(c.Query("source")),
	}

	if raw := c.Query("start_date"); raw != "" {
		ts, err := dateparse.ParseAny(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date"})
			return
		}
		filter.StartDate = &ts
	}
	if raw := c.Query("end_date"); raw != "" {
		ts, err := dateparse.ParseAny(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date"})
			return
		}
		filter.EndDate = &ts
	}
	if raw := c.Query("min_likes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_likes"})
			return
		}
		filter.MinLikes = &n
	}
	if raw := c.Query("min_retweets"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_retweets"})
			return
		}
		filter.MinRetweets = &n
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		filter.Offset = n
	}

	posts, err := h.Gateway.SearchPosts(filter)
	if err != nil {
		Logger.Log.Errorf("fail to search posts: %s", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	views := make([]PostView, 0, len(posts))
	for i := range posts {
		views = append(views, toPostView(&posts[i]))
	}
	c.JSON(http.StatusOK, gin.H{"posts": views})
}

func (h *Handlers) StatsOverview(c *gin.Context) {
	stats, err := h.Gateway.Stats(time.Now())
	if err != nil {
		Logger.Log.Errorf("fail to compute stats: %s", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handlers) GetPost(c *gin.Context) {
	post, err := h.Gateway.GetPost(c.Param("postID"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	c.JSON(http.StatusOK, toPostView(post))
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func toPostView(post *model.Post) PostView {
	view := PostView{}
	// Field-for-field copy of the overlapping columns; the json-typed and
	// time columns below need explicit handling.
	if err := copier.Copy(&view, post); err != nil {
		Logger.Log.Errorf("fail to map post %s: %s", post.PostID, err)
	}
	view.MediaUrls = decodeMediaUrls(post)
	view.CreatedAt = post.CreatedAt.UTC().Format(time.RFC3339)
	view.CollectedAt = post.CollectedAt.UTC().Format(time.RFC3339)
	return view
}

func decodeMediaUrls(post *model.Post) []string {
	if len(post.MediaUrls) == 0 {
		return nil
	}
	urls := []string{}
	if err := json.Unmarshal(post.MediaUrls, &urls); err != nil {
		Logger.Log.Errorf("fail to decode media urls of post %s: %s", post.PostID, err)
		return nil
	}
	return urls
}
