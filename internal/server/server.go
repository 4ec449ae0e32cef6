package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pwdemo/internal/engine"
	"pwdemo/internal/metrics"
	"pwdemo/internal/repo"
	"pwdemo/internal/webhook"
)

const (
	ServiceName     = "protocol-webhook-demo"
	DefaultBasePath = "/api"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     *engine.Engine
	Dispatcher *webhook.Dispatcher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	BasePath   string
}

// apiError models the error envelope {error, currentStatus?}.
type apiError struct {
	status        int
	Message       string   `json:"error" example:"Protocol not found"`
	CurrentStatus string   `json:"currentStatus,omitempty" example:"closed"`
	Details       []string `json:"details,omitempty"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

type service struct {
	engine     *engine.Engine
	dispatcher *webhook.Dispatcher
	log        *slog.Logger
}

// New returns an HTTP handler exposing the protocol API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("server: webhook dispatcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = DefaultBasePath
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg, errs...)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		return newAPIError(status, msg, errs...)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger, cfg.Metrics))
	router.Use(middleware.Recoverer)

	hcfg := huma.DefaultConfig("Protocol Webhook Demo API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	// Bodies match the documented shapes exactly, without a $schema link.
	hcfg.CreateHooks = nil
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := &service{engine: cfg.Engine, dispatcher: cfg.Dispatcher, log: logger}
	registerHealth(group, s)
	registerUsers(group, s)
	registerProtocols(group, s)
	registerWebhookConfig(group, s)
	registerReset(group, s)
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	return router, nil
}

func newAPIError(status int, msg string, errs ...error) *apiError {
	var details []string
	for _, err := range errs {
		if err != nil {
			details = append(details, err.Error())
		}
	}
	return &apiError{status: status, Message: msg, Details: details}
}

// fail maps domain errors to HTTP responses. Only unexpected errors are
// logged as errors.
func (s *service) fail(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ise *repo.InvalidStateError
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return &apiError{status: http.StatusNotFound, Message: "Protocol not found"}
	case errors.As(err, &ise):
		return &apiError{status: http.StatusBadRequest, Message: "Protocol already completed", CurrentStatus: ise.Current}
	default:
		s.log.ErrorContext(ctx, "request failed", "error", err, "request_id", middleware.GetReqID(ctx))
		return &apiError{status: http.StatusInternalServerError, Message: err.Error()}
	}
}

func registerHealth(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		return &healthOutput{Body: HealthResponse{
			OK:       true,
			Service:  ServiceName,
			Database: s.engine.Store.Kind(),
		}}, nil
	})
}

func registerUsers(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
		Tags:        []string{"users"},
	}, func(ctx context.Context, _ *struct{}) (*usersOutput, error) {
		users, err := s.engine.Users(ctx)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return &usersOutput{Body: users}, nil
	})
}

func registerProtocols(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-protocols",
		Method:      http.MethodGet,
		Path:        "/protocols",
		Summary:     "List protocols",
		Description: "Filters are combined with AND; omitted filters match everything.",
		Tags:        []string{"protocols"},
	}, func(ctx context.Context, in *ProtocolListInput) (*protocolsOutput, error) {
		list, err := s.engine.Protocols(ctx, repo.ProtocolFilter{UserID: in.UserID, Status: in.Status})
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return &protocolsOutput{Body: list}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-protocol",
		Method:      http.MethodGet,
		Path:        "/protocols/{id}",
		Summary:     "Get a protocol with its assignee and remaining open work",
		Tags:        []string{"protocols"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, in *ProtocolIDInput) (*protocolDetailOutput, error) {
		detail, err := s.engine.ProtocolDetail(ctx, in.ID)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return &protocolDetailOutput{Body: detail}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-protocol",
		Method:      http.MethodPost,
		Path:        "/protocols/{id}/complete",
		Summary:     "Close an open protocol and notify the webhook",
		Description: "The status change stands even when webhook delivery fails; see webhookDetail.",
		Tags:        []string{"protocols"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, in *ProtocolIDInput) (*completionOutput, error) {
		res, err := s.engine.Complete(ctx, in.ID)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return &completionOutput{Body: res}, nil
	})
}

func registerWebhookConfig(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "get-webhook-config",
		Method:      http.MethodGet,
		Path:        "/webhook-config",
		Summary:     "Show the effective webhook configuration",
		Tags:        []string{"webhook"},
	}, func(ctx context.Context, _ *struct{}) (*webhookConfigOutput, error) {
		cfg := s.dispatcher.Config()
		return &webhookConfigOutput{Body: WebhookConfigResponse{
			URL:     urlOrNull(cfg.URL),
			Enabled: cfg.Enabled,
			Source:  cfg.Source,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-webhook-config",
		Method:      http.MethodPost,
		Path:        "/webhook-config",
		Summary:     "Override the webhook URL or toggle delivery",
		Tags:        []string{"webhook"},
	}, func(ctx context.Context, in *WebhookConfigInput) (*webhookConfigUpdateOutput, error) {
		var update webhook.ConfigUpdate
		if in.Body != nil {
			update = webhook.ConfigUpdate{URL: in.Body.URL, Enabled: in.Body.Enabled}
		}
		cfg := s.dispatcher.Update(update)
		return &webhookConfigUpdateOutput{Body: WebhookConfigUpdateResponse{
			URL:     urlOrNull(cfg.URL),
			Enabled: cfg.Enabled,
		}}, nil
	})
}

func registerReset(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "reset",
		Method:      http.MethodPost,
		Path:        "/reset",
		Summary:     "Restore the seed data",
		Tags:        []string{"system"},
	}, func(ctx context.Context, _ *struct{}) (*resetOutput, error) {
		n, err := s.engine.Reset(ctx)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
		return &resetOutput{Body: ResetResponse{Message: "Mock data reset", ProtocolCount: n}}, nil
	})
}
