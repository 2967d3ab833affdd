package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/meridianlabs/postvault/engine"
	"github.com/meridianlabs/postvault/model"
	"github.com/meridianlabs/postvault/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *storage.Gateway) {
	db, err := gorm.Open(sqlite.Open("file:server"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))
	gateway := storage.NewGateway(db)

	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 100}, watermill.NopLogger{})
	orch := engine.NewOrchestrator(engine.Config{Account: "nasa"}, gateway, bus, nil)
	return NewRouter(&Handlers{Orchestrator: orch, Gateway: gateway}), gateway
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitJobEndpoint(t *testing.T) {
	router, gateway := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/jobs", `{"job_type": "collect_posts", "account": "nasa", "max_posts": 25}`)
	require.Equal(t, http.StatusCreated, w.Code)

	created := map[string]string{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created["job_id"])
	require.Equal(t, "pending", created["status"])

	// Unknown job types are rejected outright.
	w = doJSON(router, http.MethodPost, "/api/v1/jobs", `{"job_type": "reindex"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Missing job_type fails binding.
	w = doJSON(router, http.MethodPost, "/api/v1/jobs", `{"account": "nasa"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// An account with a running job refuses a second submission.
	require.NoError(t, gateway.WriteJob(&model.Job{
		JobID: "busy", JobType: model.JobTypeCollectPosts,
		Status: model.JobStatusRunning, Account: "nasa", CreatedAt: time.Now(),
	}))
	w = doJSON(router, http.MethodPost, "/api/v1/jobs", `{"job_type": "collect_posts", "account": "nasa"}`)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestJobStatusAndCancelEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/jobs", `{"job_type": "collect_posts", "account": "nasa"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	created := map[string]string{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	jobID := created["job_id"]

	w = doJSON(router, http.MethodGet, "/api/v1/jobs/"+jobID, "")
	require.Equal(t, http.StatusOK, w.Code)
	job := model.Job{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	require.Equal(t, model.JobStatusPending, job.Status)
	require.Equal(t, "nasa", job.Account)

	w = doJSON(router, http.MethodPost, "/api/v1/jobs/"+jobID+"/cancel", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/jobs/"+jobID, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	require.Equal(t, model.JobStatusCancelled, job.Status)

	// Terminal jobs cannot be cancelled twice.
	w = doJSON(router, http.MethodPost, "/api/v1/jobs/"+jobID+"/cancel", "")
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/jobs/does-not-exist", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/jobs?status=cancelled", "")
	require.Equal(t, http.StatusOK, w.Code)
	listing := struct {
		Jobs []model.Job `json:"jobs"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Jobs, 1)

	w = doJSON(router, http.MethodGet, "/api/v1/jobs?status=bogus", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostEndpoints(t *testing.T) {
	router, gateway := newTestRouter(t)

	_, err := gateway.UpsertPost(&model.Post{
		PostID: "100", AuthorUsername: "nasa", Text: "hello",
		CreatedAt: time.Now(), CollectedAt: time.Now(),
		ContentHash: "h1", Source: model.PostSourceAPI,
		LikeCount: 7,
		MediaUrls: datatypes.JSON(`["https://pbs.twimg.com/media/a.jpg"]`),
	})
	require.NoError(t, err)
	_, err = gateway.UpsertPost(&model.Post{
		PostID: "101", AuthorUsername: "spacex", Text: "other",
		CreatedAt: time.Now(), CollectedAt: time.Now(),
		ContentHash: "h2", Source: model.PostSourceScraper,
	})
	require.NoError(t, err)

	w := doJSON(router, http.MethodGet, "/api/v1/posts?author=nasa", "")
	require.Equal(t, http.StatusOK, w.Code)
	listing := struct {
		Posts []PostView `json:"posts"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Posts, 1)
	require.Equal(t, "100", listing.Posts[0].PostID)
	require.Equal(t, 7, listing.Posts[0].LikeCount)
	require.Equal(t, []string{"https://pbs.twimg.com/media/a.jpg"}, listing.Posts[0].MediaUrls)

	w = doJSON(router, http.MethodGet, "/api/v1/posts/100", "")
	require.Equal(t, http.StatusOK, w.Code)
	view := PostView{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Equal(t, "hello", view.Text)
	require.Equal(t, model.PostSourceAPI, view.Source)

	w = doJSON(router, http.MethodGet, "/api/v1/posts/999", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/posts?limit=abc", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchPostsEndpoint(t *testing.T) {
	router, gateway := newTestRouter(t)

	_, err := gateway.UpsertPost(&model.Post{
		PostID: "100", AuthorUsername: "nasa", Text: "Rocket launch tonight",
		CreatedAt:   time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC),
		CollectedAt: time.Now(),
		ContentHash: "h1", Source: model.PostSourceAPI, LikeCount: 20,
	})
	require.NoError(t, err)
	_, err = gateway.UpsertPost(&model.Post{
		PostID: "101", AuthorUsername: "nasa", Text: "moon photos",
		CreatedAt:   time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC),
		CollectedAt: time.Now(),
		ContentHash: "h2", Source: model.PostSourceAPI, LikeCount: 2,
	})
	require.NoError(t, err)

	listing := struct {
		Posts []PostView `json:"posts"`
	}{}

	w := doJSON(router, http.MethodGet, "/api/v1/posts/search?q=rocket", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Posts, 1)
	require.Equal(t, "100", listing.Posts[0].PostID)

	w = doJSON(router, http.MethodGet, "/api/v1/posts/search?start_date=2023-05-15&end_date=2023-06-15", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Posts, 1)
	require.Equal(t, "101", listing.Posts[0].PostID)

	w = doJSON(router, http.MethodGet, "/api/v1/posts/search?min_likes=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Posts, 1)
	require.Equal(t, "100", listing.Posts[0].PostID)

	w = doJSON(router, http.MethodGet, "/api/v1/posts/search?start_date=not-a-date", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/posts/search?min_likes=abc", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsOverviewEndpoint(t *testing.T) {
	router, gateway := newTestRouter(t)

	_, err := gateway.UpsertPost(&model.Post{
		PostID: "100", AuthorUsername: "nasa", Text: "hello",
		CreatedAt: time.Now(), CollectedAt: time.Now(),
		ContentHash: "h1", Source: model.PostSourceAPI, LikeCount: 6,
	})
	require.NoError(t, err)
	_, err = gateway.UpsertPost(&model.Post{
		PostID: "101", AuthorUsername: "nasa", Text: "again",
		CreatedAt: time.Now(), CollectedAt: time.Now(),
		ContentHash: "h2", Source: model.PostSourceScraper, LikeCount: 2,
	})
	require.NoError(t, err)

	w := doJSON(router, http.MethodGet, "/api/v1/stats/overview", "")
	require.Equal(t, http.StatusOK, w.Code)

	stats := storage.PostStats{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.EqualValues(t, 2, stats.TotalPosts)
	require.EqualValues(t, 1, stats.PostsBySource[model.PostSourceAPI])
	require.EqualValues(t, 1, stats.PostsBySource[model.PostSourceScraper])
	require.EqualValues(t, 8, stats.TotalLikes)
	require.EqualValues(t, 2, stats.PostsLast24h)
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
}
