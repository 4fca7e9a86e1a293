package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andresuchdata/dergi/internal/api/handlers"
	"github.com/andresuchdata/dergi/internal/api/middleware"
)

// Services holds what the router exposes. Nil members are not routed.
type Services struct {
	Uploads handlers.Uploader
	Issues  handlers.IssueManager
	Drive   handlers.DriveBrowser
	Ingest  handlers.DriveIngester
	// Metrics is served on /metrics when set.
	Metrics prometheus.Gatherer
	// MaxUploadBytes limits each uploaded file. Zero disables the limit.
	MaxUploadBytes int64
}

// MaxMultipartMemory is the part of a multipart form kept in memory.
const MaxMultipartMemory = 32 << 20

func NewRouter(services *Services, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = MaxMultipartMemory

	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	defaultOrigins := []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	corsConfig := cors.Config{
		AllowOrigins:     defaultOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) > 0 {
		normalizedOrigins, allowAll := normalizeAllowedOrigins(allowedOrigins)
		if allowAll {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowOriginFunc = func(origin string) bool { return true }
		} else if len(normalizedOrigins) > 0 {
			corsConfig.AllowOrigins = normalizedOrigins
		}
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if services == nil {
		return router
	}

	if services.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(services.Metrics, promhttp.HandlerOpts{})))
	}

	apiGroup := router.Group("/api/v1")

	if services.Issues != nil {
		issueHandler := handlers.NewIssueHandler(services.Uploads, services.Issues, services.MaxUploadBytes)
		issueGroup := apiGroup.Group("/issues")
		{
			if services.Uploads != nil {
				issueGroup.POST("", issueHandler.UploadIssue)
			}
			issueGroup.GET("", issueHandler.ListIssues)
			issueGroup.GET("/:id", issueHandler.GetIssue)
			issueGroup.GET("/number/:number", issueHandler.GetIssueByNumber)
			issueGroup.DELETE("/:id", issueHandler.DeleteIssue)
			issueGroup.POST("/:id/rename", issueHandler.RenameIssue)
		}
	}

	if services.Drive != nil {
		driveHandler := handlers.NewDriveHandler(services.Drive, services.Ingest)
		driveGroup := apiGroup.Group("/drive")
		{
			driveGroup.GET("/files", driveHandler.ListFiles)
			if services.Ingest != nil {
				driveGroup.POST("/ingest", driveHandler.IngestFile)
			}
		}
	}

	return router
}

func normalizeAllowedOrigins(origins []string) ([]string, bool) {
	var (
		parsed   []string
		allowAll bool
	)
	for _, origin := range origins {
		parts := strings.Split(origin, ",")
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			if trimmed == "*" {
				allowAll = true
				continue
			}
			parsed = append(parsed, trimmed)
		}
	}
	return parsed, allowAll
}
