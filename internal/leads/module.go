package leads

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"chathub_backend/internal/geo"
	"chathub_backend/internal/leads/features"
	"chathub_backend/internal/leads/handler"
	"chathub_backend/internal/leads/repository"
	"chathub_backend/internal/leads/scoring"
	"chathub_backend/internal/leads/transport"
	"chathub_backend/platform/httpkit"
	"chathub_backend/platform/logger"
	"chathub_backend/platform/validator"
)

// Module bundles the lead pipeline behind the HTTP API.
type Module struct {
	handler *handler.Handler
	limiter *httpkit.IPRateLimiter
}

// ModuleDeps are the collaborators the module does not own.
type ModuleDeps struct {
	Enricher   *geo.Enricher
	Scorer     *scoring.Service
	Repository *repository.Repository
	Queue      SyncEnqueuer
	Validator  *validator.Validator
	Logger     *logger.Logger
}

// NewModule wires extraction, enrichment, scoring, persistence, and the
// ingestion endpoint into one mountable unit.
func NewModule(deps ModuleDeps) (*Module, error) {
	if err := transport.RegisterCustomValidations(deps.Validator); err != nil {
		return nil, err
	}
	orchestrator := NewOrchestrator(
		features.NewExtractor(),
		deps.Enricher,
		deps.Scorer,
		deps.Repository,
		deps.Queue,
		deps.Logger,
	)

	// The ingestion endpoint is public (chat widgets post here), so it gets
	// its own per-IP limiter.
	limiter := httpkit.NewIPRateLimiter(rate.Limit(5), 10, deps.Logger)

	return &Module{
		handler: handler.New(orchestrator, deps.Repository, deps.Validator, deps.Logger),
		limiter: limiter,
	}, nil
}

func (m *Module) Name() string { return "leads" }

func (m *Module) RegisterRoutes(group *gin.RouterGroup) {
	conversations := group.Group("/conversations")
	conversations.POST("/convert", m.limiter.Middleware(), m.handler.ConvertChat)

	leads := group.Group("/leads")
	leads.GET("/:identifier", m.handler.GetLead)
}
