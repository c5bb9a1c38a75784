// Package api is the HTTP surface: identity and location management,
// synchronous analysis, the ingestion endpoints and the live feed.
package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stableguard/stableguard/internal/api/handlers"
	"github.com/stableguard/stableguard/internal/api/ws"
	"github.com/stableguard/stableguard/internal/detection"
	"github.com/stableguard/stableguard/internal/identity"
	"github.com/stableguard/stableguard/internal/ingest"
	"github.com/stableguard/stableguard/internal/storage"
)

type RouterConfig struct {
	Store    storage.Store
	Frames   storage.FrameStore
	Horses   *identity.Service
	Catalog  *identity.Catalog
	Analyzer *detection.Analyzer
	Ingest   *ingest.Service
	Hub      *ws.Hub
	Checks   []handlers.Check

	MaxUploadBytes   int64
	UploadRatePerSec float64
	UploadBurst      int
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())
	r.MaxMultipartMemory = 32 << 20

	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	resolver := handlers.NewScoreResolver(cfg.Catalog)

	ingestH := handlers.NewIngestionHandler(cfg.Ingest, cfg.Store, cfg.Store, resolver)
	ing := r.Group("/ingestion")
	ing.POST("/frame", RateLimitMiddleware(cfg.UploadRatePerSec, cfg.UploadBurst), ingestH.UploadFrame)
	ing.GET("/health", ingestH.Health)
	ing.GET("/events/:id", ingestH.GetEvent)
	ing.GET("/events/:id/detections", ingestH.EventDetections)
	ing.GET("/jobs/:id", ingestH.GetJob)
	ing.POST("/jobs/:id/resubmit", ingestH.Resubmit)
	ing.GET("/queue", ingestH.QueueStats)

	v1 := r.Group("/api")

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	horseH := handlers.NewHorseHandler(cfg.Horses, cfg.Store, resolver, cfg.MaxUploadBytes)
	v1.POST("/horses", horseH.Create)
	v1.GET("/horses", horseH.List)
	v1.POST("/horses/reembed-all", horseH.ReembedAll)
	v1.GET("/horses/:id", horseH.Get)
	v1.POST("/horses/:id/reembed", horseH.Reembed)
	v1.DELETE("/horses/:id", horseH.Delete)

	locH := handlers.NewLocationHandler(cfg.Store)
	v1.POST("/locations", locH.Create)
	v1.GET("/locations", locH.List)
	v1.DELETE("/locations/:id", locH.Delete)

	detH := handlers.NewDetectionHandler(cfg.Store, cfg.Frames, cfg.Analyzer, resolver, cfg.MaxUploadBytes)
	if cfg.Hub != nil {
		detH.OnCreated = cfg.Hub.BroadcastDetection
	}
	v1.POST("/detections/analyze", detH.Analyze)
	v1.GET("/detections", detH.List)
	v1.GET("/detections/:horse_id/timeline", detH.Timeline)

	return r
}
