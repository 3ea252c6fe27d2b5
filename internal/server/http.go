package server

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/veritas-ed/docproc/constants"
	"github.com/veritas-ed/docproc/internal/common"
	"github.com/veritas-ed/docproc/internal/export"
	"github.com/veritas-ed/docproc/internal/status"
	"github.com/veritas-ed/docproc/internal/webhook"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// NewRouter wires the HTTP surface: the completion webhook, a health
// probe, the job report export, and the progress read path. CORS is
// permissive because the webhook is reachable over plain HTTP; the push
// channel, not browsers, is the expected caller.
func NewRouter(handler *webhook.Handler, exporter *export.Service, tracker *status.Tracker, log *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Client-Info", "Apikey"}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "docproc"})
	})

	v1 := router.Group("/v1")
	v1.POST("/doc-ai/webhook", webhookHandler(handler))
	v1.GET("/jobs/report", reportHandler(exporter))
	v1.GET("/jobs/status", jobStatusHandler(tracker))

	return router
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"took", time.Since(start),
		)
	}
}

func webhookHandler(handler *webhook.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			return
		}

		res, err := handler.Process(c.Request.Context(), body)
		if err != nil {
			c.JSON(common.HTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// jobStatusHandler serves the last progress entry mirrored into Redis.
// References contain slashes, so the route takes a query parameter
// rather than a path segment.
func jobStatusHandler(tracker *status.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref := c.Query("ref")
		if ref == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ref query parameter is required"})
			return
		}

		entry, err := tracker.Get(c.Request.Context(), ref)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if entry == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no progress recorded for reference"})
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

func reportHandler(exporter *export.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := constants.JobStatus(c.DefaultQuery("status", string(constants.JobStatusCompleted)))
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "500"))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}

		data, err := exporter.ExportJobsXLSX(c.Request.Context(), status, limit)
		if err != nil {
			c.JSON(common.HTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="job-report.xlsx"`)
		c.Data(http.StatusOK, xlsxContentType, data)
	}
}
