// Package api implements the external interface layer (C11): HTTP
// handlers that bind spec §6's contract onto C4 (via a direct ingest
// path), C7, C8, and C10. Router wiring only — auth, rate-limiting, and
// CORS are out of scope (spec §1) and are assumed to run upstream of this
// router as gin middleware the caller supplies.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/iff-guardian/siem-platform/internal/config"
	"github.com/iff-guardian/siem-platform/internal/health"
	"github.com/iff-guardian/siem-platform/internal/metrics"
	"github.com/iff-guardian/siem-platform/internal/rulepack"
	"github.com/iff-guardian/siem-platform/internal/search"
	"github.com/iff-guardian/siem-platform/pkg/bus"
)

// Server bundles everything the handlers need.
type Server struct {
	cfg       *config.Config
	search    *search.Service
	scheduler *health.Scheduler
	planner   *rulepack.Planner
	uploader  *rulepack.Uploader
	applier   *rulepack.Applier
	producer  *bus.Producer
	devIngest IngestFunc
	dom       *metrics.Domain
}

// IngestFunc runs a raw envelope through the full ingest pipeline
// synchronously, bypassing the bus. Used only by the dev/events/inject
// endpoint (SPEC_FULL.md §C.2), which must work without a live broker.
type IngestFunc func(raw []byte) (*IngestOutcome, error)

func NewServer(cfg *config.Config, svc *search.Service, sched *health.Scheduler, planner *rulepack.Planner, uploader *rulepack.Uploader, applier *rulepack.Applier, producer *bus.Producer, devIngest IngestFunc, dom *metrics.Domain) *Server {
	return &Server{cfg: cfg, search: svc, scheduler: sched, planner: planner, uploader: uploader, applier: applier, producer: producer, devIngest: devIngest, dom: dom}
}

// RegisterRoutes mounts every handler under the /api/v1 group passed in,
// matching the teacher's RegisterRoutes(api *gin.RouterGroup) convention.
func (s *Server) RegisterRoutes(api *gin.RouterGroup) {
	events := api.Group("/events")
	events.POST("/ingest", s.handleIngestEvent)
	events.POST("/batch", s.handleIngestBatch)
	events.GET("/search", s.handleSearch)
	events.GET("/:id", s.handleGetEvent)
	events.GET("/stream/:backend", s.handleStream)

	api.GET("/health", s.handleHealthSummary)
	api.GET("/health/detailed", s.handleHealthDetailed)

	rulePacks := api.Group("/rule-packs")
	rulePacks.POST("", s.handleUploadRulePack)
	rulePacks.POST("/:pack_id/plan", s.handlePlanRulePack)
	rulePacks.POST("/:pack_id/apply", s.handleApplyRulePack)

	deployments := api.Group("/deployments")
	deployments.POST("/:deploy_id/rollback", s.handleRollback)
	deployments.POST("/:deploy_id/canary", s.handleCanaryControl)

	if !s.cfg.IsProduction() {
		api.POST("/dev/events/inject", s.handleDevEventInject)
	}
}
