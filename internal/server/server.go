// Package server exposes the hive engine and claim coordinator over
// HTTP with an OpenAPI description.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"hive/internal/coordinator"
	"hive/internal/domain"
	"hive/internal/engine"
	"hive/internal/graph"
	"hive/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine      engine.Engine
	Coordinator *coordinator.Coordinator
	BasePath    string
	Auth        AuthConfig
	Logger      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_claimed"`
	Message string         `json:"message" example:"project already claimed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Hive API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Hive API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	started := time.Now()
	registerDocs(router, basePath)
	registerHealth(group, cfg.Coordinator, started)
	registerClaims(group, cfg.Coordinator)
	registerReady(group, cfg.Engine)
	registerGraph(group, cfg.Engine)
	registerRecords(group, cfg.Engine)
	registerOwners(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// requestLogger emits one structured line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var owned *engine.OwnedError
	if errors.As(err, &owned) {
		return newAPIError(http.StatusConflict, "owner_conflict", err.Error(), map[string]any{"owner": owned.Owner})
	}
	var notOwner *engine.NotOwnerError
	if errors.As(err, &notOwner) {
		return newAPIError(http.StatusConflict, "owner_conflict", err.Error(), map[string]any{"owner": notOwner.Owner})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, coordinator.ErrNoClaim):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, repo.ErrStale):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, coordinator.ErrTokenMismatch):
		return newAPIError(http.StatusConflict, "token_mismatch", err.Error(), nil)
	case errors.Is(err, graph.ErrDepthExceeded):
		return newAPIError(http.StatusUnprocessableEntity, "graph_too_deep", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "cycle"),
		strings.Contains(lowered, "cannot transition"),
		strings.Contains(lowered, "cannot complete"):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	case strings.Contains(lowered, "already exists"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API, coord *coordinator.Coordinator, started time.Time) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{
			Status:        "ok",
			ActiveClaims:  len(coord.Reservations()),
			UptimeSeconds: int64(time.Since(started).Seconds()),
		}}, nil
	})
}

func registerClaims(api huma.API, coord *coordinator.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID:   "acquire-claim",
		Method:        http.MethodPost,
		Path:          "/claims",
		Summary:       "Claim a project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body ClaimRequest `json:"body"`
	}) (*struct {
		Body ClaimResponse `json:"body"`
	}, error) {
		agent, authErr := agentFromContext(ctx, input.Body.AgentName)
		if authErr != nil {
			return nil, authErr
		}
		claim, conflict, err := coord.Acquire(input.Body.ProjectID, agent, time.Duration(input.Body.TTLSeconds)*time.Second)
		if err != nil {
			return nil, handleError(err)
		}
		if conflict != nil {
			return nil, newAPIError(http.StatusConflict, "already_claimed",
				fmt.Sprintf("project %s already claimed by %s", input.Body.ProjectID, conflict.CurrentOwner),
				map[string]any{
					"current_owner": conflict.CurrentOwner,
					"claimed_at":    conflict.ClaimedAt,
					"expires_at":    conflict.ExpiresAt,
				})
		}
		return &struct {
			Body ClaimResponse `json:"body"`
		}{Body: ClaimResponse{Claim: claim}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-claim",
		Method:      http.MethodDelete,
		Path:        "/claims/{project_id}",
		Summary:     "Release a claim",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ClaimID   string `query:"claim_id"`
		Body      *ReleaseRequest
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		claimID := input.ClaimID
		if claimID == "" && input.Body != nil {
			claimID = input.Body.ClaimID
		}
		if claimID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "claim_id is required", nil)
		}
		if err := coord.Release(input.ProjectID, claimID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"released": true, "project_id": input.ProjectID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "extend-claim",
		Method:      http.MethodPost,
		Path:        "/claims/{project_id}/extend",
		Summary:     "Extend a claim lease",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      ExtendRequest `json:"body"`
	}) (*struct {
		Body ClaimResponse `json:"body"`
	}, error) {
		if input.Body.ClaimID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "claim_id is required", nil)
		}
		claim, err := coord.Extend(input.ProjectID, input.Body.ClaimID, time.Duration(input.Body.TTLSeconds)*time.Second)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClaimResponse `json:"body"`
		}{Body: ClaimResponse{Claim: claim}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-status",
		Method:      http.MethodGet,
		Path:        "/claims/{project_id}",
		Summary:     "Claim status",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ClaimStatusResponse `json:"body"`
	}, error) {
		resp := ClaimStatusResponse{ProjectID: input.ProjectID}
		if claim, ok := coord.Status(input.ProjectID); ok {
			resp.IsClaimed = true
			resp.Claim = &claim
		}
		return &struct {
			Body ClaimStatusResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reservations",
		Method:      http.MethodGet,
		Path:        "/reservations",
		Summary:     "List live claims",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ReservationsResponse `json:"body"`
	}, error) {
		claims := coord.Reservations()
		return &struct {
			Body ReservationsResponse `json:"body"`
		}{Body: ReservationsResponse{Count: len(claims), Claims: claims}}, nil
	})
}

func registerReady(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ready-work",
		Method:      http.MethodGet,
		Path:        "/ready",
		Summary:     "Ordered list of claimable records",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ReadyResponse `json:"body"`
	}, error) {
		items, err := e.ReadyWorkFromStore(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReadyResponse `json:"body"`
		}{Body: ReadyResponse{Count: len(items), Items: items}}, nil
	})
}

func registerGraph(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dependency-graph",
		Method:      http.MethodGet,
		Path:        "/graph",
		Summary:     "Dependency graph with cycles and blocking reasons",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.GraphSummary `json:"body"`
	}, error) {
		summary, err := e.GraphSummaryFromStore(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.GraphSummary `json:"body"`
		}{Body: summary}, nil
	})
}

func registerRecords(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-records",
		Method:      http.MethodGet,
		Path:        "/records",
		Summary:     "List records",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RecordsResponse `json:"body"`
	}, error) {
		records, err := e.Repo.ListRecords(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordsResponse `json:"body"`
		}{Body: RecordsResponse{Count: len(records), Records: records}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-record",
		Method:        http.MethodPost,
		Path:          "/records",
		Summary:       "Create record",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateRecordRequest `json:"body"`
	}) (*struct {
		Body domain.Record `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		agent, authErr := agentFromContext(ctx, "")
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.CreateRecord(ctx, engine.RecordCreateOptions{
			ID:             input.Body.ID,
			Status:         domain.Status(input.Body.Status),
			Priority:       domain.Priority(input.Body.Priority),
			Tags:           input.Body.Tags,
			BlockedBy:      input.Body.BlockedBy,
			Blocks:         input.Body.Blocks,
			Related:        input.Body.Related,
			Parent:         input.Body.Parent,
			BlockingReason: input.Body.BlockingReason,
			ActorID:        agent,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Record `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-record",
		Method:      http.MethodGet,
		Path:        "/records/{id}",
		Summary:     "Get record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Record `json:"body"`
	}, error) {
		rec, err := e.Repo.GetRecord(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Record `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-record",
		Method:      http.MethodPatch,
		Path:        "/records/{id}",
		Summary:     "Update record",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateRecordRequest `json:"body"`
	}) (*struct {
		Body domain.Record `json:"body"`
	}, error) {
		agent, authErr := agentFromContext(ctx, "")
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.RecordUpdateOptions{
			ID:             input.ID,
			Blocked:        input.Body.Blocked,
			BlockingReason: input.Body.BlockingReason,
			Tags:           input.Body.Tags,
			SetParent:      input.Body.Parent,
			ClearParent:    input.Body.ClearParent,
			AddBlockedBy:   input.Body.AddBlockedBy,
			DropBlockedBy:  input.Body.DropBlockedBy,
			AddBlocks:      input.Body.AddBlocks,
			DropBlocks:     input.Body.DropBlocks,
			AddRelated:     input.Body.AddRelated,
			DropRelated:    input.Body.DropRelated,
			ActorID:        agent,
			Force:          input.Body.Force,
		}
		if input.Body.Status != nil {
			status := domain.Status(*input.Body.Status)
			opts.Status = &status
		}
		if input.Body.Priority != nil {
			priority := domain.Priority(*input.Body.Priority)
			opts.Priority = &priority
		}
		rec, err := e.UpdateRecord(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Record `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-record",
		Method:      http.MethodDelete,
		Path:        "/records/{id}",
		Summary:     "Delete record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		agent, authErr := agentFromContext(ctx, "")
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteRecord(ctx, input.ID, agent); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-reasons",
		Method:      http.MethodGet,
		Path:        "/records/{id}/reasons",
		Summary:     "Why a record is not claimable",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.Reasons `json:"body"`
	}, error) {
		reasons, err := e.BlockingReasonsFor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Reasons `json:"body"`
		}{Body: reasons}, nil
	})
}

func registerOwners(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "claim-owner",
		Method:      http.MethodPost,
		Path:        "/records/{id}/claim",
		Summary:     "Durably claim record ownership",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body *OwnerRequest
	}) (*struct {
		Body domain.Record `json:"body"`
	}, error) {
		explicit := ""
		if input.Body != nil {
			explicit = input.Body.AgentName
		}
		agent, authErr := agentFromContext(ctx, explicit)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.ClaimOwner(ctx, input.ID, agent)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Record `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-owner",
		Method:      http.MethodPost,
		Path:        "/records/{id}/release",
		Summary:     "Release durable record ownership",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body *OwnerRequest
	}) (*struct {
		Body domain.Record `json:"body"`
	}, error) {
		explicit := ""
		force := false
		if input.Body != nil {
			explicit = input.Body.AgentName
			force = input.Body.Force
		}
		agent, authErr := agentFromContext(ctx, explicit)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.ReleaseOwner(ctx, input.ID, agent, force)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Record `json:"body"`
		}{Body: rec}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event log tail",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" doc:"Max events to return, newest first"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		events, err := e.Repo.ListEvents(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: EventsResponse{Events: events}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Hive API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}
