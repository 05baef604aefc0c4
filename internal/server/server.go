package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"fieldline/internal/domain"
	"fieldline/internal/engine"
	"fieldline/internal/events"
	"fieldline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Events   *events.Reader
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"illegal_transition"`
	Message string         `json:"message" example:"reviewer cannot move submitted to started"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"submitted\",\"to\":\"started\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Fieldline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors are 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Fieldline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerSolicitations(group, cfg.Engine)
	registerQueues(group, cfg.Engine)
	registerEvents(group, cfg.Events)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var mf engine.MissingFieldError
	if errors.As(err, &mf) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": mf.Field})
	}
	var it engine.IllegalTransitionError
	if errors.As(err, &it) {
		return newAPIError(http.StatusUnprocessableEntity, "illegal_transition", err.Error(), map[string]any{
			"role": string(it.Role),
			"from": string(it.From),
			"to":   string(it.To),
		})
	}
	if errors.Is(err, store.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, store.ErrDuplicateID) {
		return newAPIError(http.StatusConflict, "duplicate_id", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "duplicate_id"
	case http.StatusUnprocessableEntity:
		return "illegal_transition"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	open := map[string]struct{}{
		path.Join("/", basePath, "health"):         {},
		path.Join("/", basePath, "auth/dev/token"): {},
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if _, ok := open[route]; ok {
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
    <title>Fieldline API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerSolicitations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-solicitation",
		Method:        http.MethodPost,
		Path:          "/solicitations",
		Summary:       "Submit a solicitation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateSolicitationRequest `json:"body"`
	}) (*struct {
		Body SolicitationResponse `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role != domain.RoleSubmitter {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "only a submitter may create solicitations", map[string]any{"role": string(actor.Role)})
		}
		sol, err := e.CreateSolicitation(ctx, engine.CreateOptions{
			ID:       input.Body.ID,
			Actor:    actor,
			PhotoRef: input.Body.PhotoRef,
			Location: input.Body.Location,
			Address:  input.Body.Address,
			Note:     input.Body.Note,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SolicitationResponse `json:"body"`
		}{Body: solicitationResponse(sol)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-solicitations",
		Method:      http.MethodGet,
		Path:        "/solicitations",
		Summary:     "List solicitations",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SolicitationResponse `json:"body"`
	}, error) {
		if _, authErr := requireActor(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListSolicitations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SolicitationResponse `json:"body"`
		}{Body: mapSolicitations(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-solicitation",
		Method:      http.MethodGet,
		Path:        "/solicitations/{id}",
		Summary:     "Get solicitation",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SolicitationResponse `json:"body"`
	}, error) {
		if _, authErr := requireActor(ctx); authErr != nil {
			return nil, authErr
		}
		sol, err := e.GetSolicitation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SolicitationResponse `json:"body"`
		}{Body: solicitationResponse(sol)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-solicitation",
		Method:      http.MethodPost,
		Path:        "/solicitations/{id}/transition",
		Summary:     "Advance a solicitation's status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body SolicitationResponse `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		target := domain.Status(input.Body.TargetStatus)
		if !domain.ValidStatus(target) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "target_status is required", map[string]any{"field": "target_status"})
		}
		sol, err := e.ApplyTransition(ctx, actor, input.ID, target)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SolicitationResponse `json:"body"`
		}{Body: solicitationResponse(sol)}, nil
	})
}

func registerQueues(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "reviewer-queue",
		Method:      http.MethodGet,
		Path:        "/queues/reviewer",
		Summary:     "Reviewer queue",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ReviewerQueueResponse `json:"body"`
	}, error) {
		if _, authErr := requireActor(ctx); authErr != nil {
			return nil, authErr
		}
		pending, err := e.ReviewerQueue(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		processed, err := e.ReviewerHistory(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviewerQueueResponse `json:"body"`
		}{Body: ReviewerQueueResponse{
			Pending:   mapSolicitations(pending),
			Processed: mapSolicitations(processed),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "executor-queue",
		Method:      http.MethodGet,
		Path:        "/queues/executor",
		Summary:     "Executor queue",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ExecutorQueueResponse `json:"body"`
	}, error) {
		if _, authErr := requireActor(ctx); authErr != nil {
			return nil, authErr
		}
		buckets, err := e.ExecutorQueue(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExecutorQueueResponse `json:"body"`
		}{Body: ExecutorQueueResponse{
			Active:   mapSolicitations(buckets.Active),
			Finished: mapSolicitations(buckets.Finished),
		}}, nil
	})
}

func registerEvents(api huma.API, reader *events.Reader) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
		Errors:      []int{http.StatusUnauthorized, http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit          int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
		Type           string `query:"type"`
		SolicitationID string `query:"solicitation_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := requireActor(ctx); authErr != nil {
			return nil, authErr
		}
		if reader == nil {
			return &struct {
				Body []EventResponse `json:"body"`
			}{Body: []EventResponse{}}, nil
		}
		items, err := reader.Latest(ctx, input.Limit, input.Type, input.SolicitationID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, len(items))
		for i, ev := range items {
			out[i] = eventResponse(ev)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerDevAuth(api huma.API, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-token",
		Method:      http.MethodPost,
		Path:        "/auth/dev/token",
		Summary:     "Mint a development token",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body DevTokenRequest `json:"body"`
	}) (*struct {
		Body DevTokenResponse `json:"body"`
	}, error) {
		if !auth.AllowDevTokens {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "dev tokens are disabled", nil)
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", map[string]any{"field": "actor_id"})
		}
		role := domain.Role(input.Body.Role)
		if !domain.ValidRole(role) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "role must be submitter, reviewer or executor", map[string]any{"field": "role"})
		}
		name := input.Body.DisplayName
		if name == "" {
			name = input.Body.ActorID
		}
		token, err := MintToken(auth.JWTSecret, domain.Actor{ID: input.Body.ActorID, DisplayName: name, Role: role}, 24*time.Hour)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DevTokenResponse `json:"body"`
		}{Body: DevTokenResponse{Token: token}}, nil
	})
}
