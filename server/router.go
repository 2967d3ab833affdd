package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// NewRouter assembles the REST surface:
//
//	POST /api/v1/jobs             submit a collection job
//	GET  /api/v1/jobs             list jobs, optionally ?status=
//	GET  /api/v1/jobs/:id         job status and metrics
//	POST /api/v1/jobs/:id/cancel  request cancellation
//	GET  /api/v1/posts            list collected posts
//	GET  /api/v1/posts/search     text/date-range/engagement search
//	GET  /api/v1/posts/:postID    one post by platform id
//	GET  /api/v1/stats/overview   aggregate collection statistics
//	GET  /healthz                 liveness
func NewRouter(h *Handlers) *gin.Engine {
	// Default With the Logger and Recovery middleware already attached
	router := gin.Default()
	router.Use(cors.Default())

	v1 := router.Group("/api/v1")
	{
		v1.POST("/jobs", h.SubmitJob)
		v1.GET("/jobs", h.ListJobs)
		v1.GET("/jobs/:id", h.GetJob)
		v1.POST("/jobs/:id/cancel", h.CancelJob)

		v1.GET("/posts", h.ListPosts)
		v1.GET("/posts/search", h.SearchPosts)
		v1.GET("/posts/:postID", h.GetPost)

		v1.GET("/stats/overview", h.StatsOverview)
	}

	router.GET("/healthz", h.Healthz)
	return router
}
