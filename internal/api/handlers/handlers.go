package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acme/campaign-dialer/internal/orchestrator"
	"github.com/acme/campaign-dialer/internal/repository"
	callsvc "github.com/acme/campaign-dialer/internal/service/call"
	"github.com/acme/campaign-dialer/pkg/logger"
)

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options are the collaborators of the handler set. Archive and Checks
// are optional.
type Options struct {
	Sessions *orchestrator.Manager
	Calls    *callsvc.Service
	Archive  repository.RunArchive
	Checks   map[string]Pinger
	Logger   *logger.Logger
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	sessions *orchestrator.Manager
	calls    *callsvc.Service
	archive  repository.RunArchive
	checks   map[string]Pinger
	logger   *logger.Logger
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(opts Options) *HandlerSet {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &HandlerSet{
		sessions: opts.Sessions,
		calls:    opts.Calls,
		archive:  opts.Archive,
		checks:   opts.Checks,
		logger:   log.Named("http"),
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	v1.Get("/sessions", h.listSessions)

	campaigns := v1.Group("/campaigns")
	campaigns.Post("/:id/session", h.openSession)
	campaigns.Delete("/:id/session", h.closeSession)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Post("/:id/refresh", h.refreshCampaign)
	campaigns.Put("/:id/agent", h.selectAgent)
	campaigns.Post("/:id/start", h.startRun)
	campaigns.Post("/:id/pause", h.pauseRun)
	campaigns.Post("/:id/resume", h.resumeRun)
	campaigns.Post("/:id/stop", h.stopRun)
	campaigns.Post("/:id/reset", h.resetRun)
	campaigns.Delete("/:id/notice", h.clearNotice)
	campaigns.Get("/:id/calls", h.listCampaignCalls)
	campaigns.Post("/:id/calls/more", h.loadMoreCalls)
	campaigns.Post("/:id/batch", h.triggerBatch)
	campaigns.Get("/:id/transcripts", h.viewedTranscripts)
	campaigns.Get("/:id/transcripts/:documentId", h.getTranscript)
	campaigns.Get("/:id/live/:uniqueId", h.liveTranscript)
	campaigns.Get("/:id/history", h.runHistory)
	campaigns.Get("/:id/runs/:runId/attempts", h.listAttempts)

	calls := v1.Group("/calls")
	calls.Post("/", h.triggerCall)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", ctx.Path()), zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(healthCtx)
	type outcome struct {
		name string
		err  error
	}
	out := make(chan outcome, len(h.checks))
	for name, check := range h.checks {
		name, check := name, check
		g.Go(func() error {
			out <- outcome{name: name, err: check.Ping(gctx)}
			return nil
		})
	}
	_ = g.Wait()
	close(out)

	errs := make(map[string]string)
	for o := range out {
		if o.err != nil {
			errs[o.name] = o.err.Error()
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		state = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": state, "errors": errs})
}
