package server

import (
	"bytes"
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
	"github.com/google/uuid"

	"opsline/internal/config"
	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"cannot transition from draft to complete"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Opsline API.
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
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Opsline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerWorkItems(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerReminders(group, cfg.Engine)
	registerOrgs(group, cfg.Engine)
	registerMetrics(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerConfig(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
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
	var ite engine.InvalidTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": ite.From, "to": ite.To})
	}
	var pfe engine.PreconditionFailedError
	if errors.As(err, &pfe) {
		return newAPIError(http.StatusConflict, "precondition_failed", err.Error(), map[string]any{"gate": pfe.Gate})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
    <title>Opsline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
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

func registerWorkItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-work-item",
		Method:        http.MethodPost,
		Path:          "/work-items",
		Summary:       "Create work item",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkItemRequest `json:"body"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.WorkItemCreateOptions{
			ID:               stringOrEmpty(input.Body.ID),
			Module:           input.Body.Module,
			Type:             input.Body.Type,
			Title:            input.Body.Title,
			Description:      stringOrEmpty(input.Body.Description),
			NGOID:            stringOrEmpty(input.Body.NGOID),
			DepartmentID:     stringOrEmpty(input.Body.DepartmentID),
			OwnerUserID:      stringOrEmpty(input.Body.OwnerUserID),
			Priority:         stringOrEmpty(input.Body.Priority),
			DueDate:          stringOrEmpty(input.Body.DueDate),
			StartDate:        stringOrEmpty(input.Body.StartDate),
			Dependencies:     input.Body.Dependencies,
			EvidenceRequired: input.Body.EvidenceRequired,
			ApprovalRequired: input.Body.ApprovalRequired,
			ApproverUserID:   stringOrEmpty(input.Body.ApproverUserID),
			ApprovalPolicy:   input.Body.ApprovalPolicy,
			ExternalVisible:  input.Body.ExternalVisible,
			TrelloSync:       input.Body.TrelloSync,
			TrelloCardID:     stringOrEmpty(input.Body.TrelloCardID),
			ActorID:          actorID,
		}
		w, err := e.CreateWorkItem(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-items",
		Method:      http.MethodGet,
		Path:        "/work-items",
		Summary:     "List work items",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Module       string `query:"module"`
		Type         string `query:"type"`
		Status       string `query:"status"`
		NGOID        string `query:"ngo_id"`
		DepartmentID string `query:"department_id"`
		OwnerUserID  string `query:"owner_user_id"`
		Limit        int    `query:"limit" default:"50"`
		Cursor       string `query:"cursor"`
	}) (*struct {
		Body paginatedWorkItems `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filter := repo.WorkItemFilters{
			Module:          input.Module,
			Type:            input.Type,
			Status:          input.Status,
			NGOID:           input.NGOID,
			DepartmentID:    input.DepartmentID,
			OwnerUserID:     input.OwnerUserID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		items, err := e.Repo.ListWorkItems(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedWorkItems{Items: []domain.WorkItem{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		resp.Items = nonNilItems(items)
		return &struct {
			Body paginatedWorkItems `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-item",
		Method:      http.MethodGet,
		Path:        "/work-items/{id}",
		Summary:     "Get work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		w, err := e.Repo.GetWorkItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-work-item",
		Method:      http.MethodPatch,
		Path:        "/work-items/{id}",
		Summary:     "Update work item",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateWorkItemRequest `json:"body"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bodyMap := rawBodyMap(ctx)
		opts := engine.WorkItemUpdateOptions{
			ID:              input.ID,
			Title:           input.Body.Title,
			Description:     input.Body.Description,
			Priority:        input.Body.Priority,
			DueDate:         input.Body.DueDate,
			StartDate:       input.Body.StartDate,
			OwnerUserID:     input.Body.OwnerUserID,
			DepartmentID:    input.Body.DepartmentID,
			ApproverUserID:  input.Body.ApproverUserID,
			ExternalVisible: input.Body.ExternalVisible,
			TrelloCardID:    input.Body.TrelloCardID,
			ActorID:         actorID,
		}
		if _, ok := bodyMap["dependencies"]; ok {
			opts.SetDependencies = true
			opts.Dependencies = input.Body.Dependencies
		}
		w, err := e.UpdateWorkItem(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-work-item",
		Method:      http.MethodDelete,
		Path:        "/work-items/{id}",
		Summary:     "Delete work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteWorkItem(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-work-item",
		Method:      http.MethodPost,
		Path:        "/work-items/{id}/transition",
		Summary:     "Transition work item status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.Transition(ctx, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-approval-decision",
		Method:      http.MethodPost,
		Path:        "/work-items/{id}/approval",
		Summary:     "Record approval decision",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body ApprovalDecisionRequest `json:"body"`
	}) (*struct {
		Body domain.WorkItem `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.RecordApprovalDecision(ctx, input.ID, input.Body.Decision, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkItem `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-work-items",
		Method:      http.MethodPost,
		Path:        "/work-items/bulk",
		Summary:     "Apply a bulk operation",
		Errors: []int{
			http.StatusBadRequest,
		},
	}, func(ctx context.Context, input *struct {
		Body BulkRequest `json:"body"`
	}) (*struct {
		Body []engine.BulkItemResult `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if len(input.Body.IDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "ids is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		op := engine.BulkOperation{Kind: input.Body.Op}
		if input.Body.Status != nil {
			op.Status = *input.Body.Status
		}
		if input.Body.OwnerUserID != nil {
			op.OwnerUserID = *input.Body.OwnerUserID
		}
		if input.Body.DeltaDays != nil {
			op.DeltaDays = *input.Body.DeltaDays
		}
		results, err := e.ApplyBulk(ctx, input.Body.IDs, op, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.BulkItemResult `json:"body"`
		}{Body: results}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "attach-document",
		Method:        http.MethodPost,
		Path:          "/work-items/{id}/documents",
		Summary:       "Attach evidence document",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body AttachDocumentRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.AttachDocument(ctx, engine.DocumentAttachOptions{
			ID:         stringOrEmpty(input.Body.ID),
			WorkItemID: input.ID,
			NGOID:      stringOrEmpty(input.Body.NGOID),
			FileName:   input.Body.FileName,
			FilePath:   input.Body.FilePath,
			FileSize:   input.Body.FileSize,
			FileType:   input.Body.FileType,
			Category:   input.Body.Category,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-item-documents",
		Method:      http.MethodGet,
		Path:        "/work-items/{id}/documents",
		Summary:     "List work item documents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Document `json:"body"`
	}, error) {
		if _, err := e.Repo.GetWorkItem(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		docs, err := e.Repo.ListWorkItemDocuments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if docs == nil {
			docs = []domain.Document{}
		}
		return &struct {
			Body []domain.Document `json:"body"`
		}{Body: docs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-document",
		Method:      http.MethodPost,
		Path:        "/documents/{id}/review",
		Summary:     "Review evidence document",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body ReviewDocumentRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.RecordReview(ctx, input.ID, input.Body.Decision, actorID, stringOrEmpty(input.Body.Notes))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})
}

func registerReminders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "schedule-reminder",
		Method:        http.MethodPost,
		Path:          "/work-items/{id}/reminders",
		Summary:       "Schedule reminder",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body ScheduleReminderRequest `json:"body"`
	}) (*struct {
		Body domain.Reminder `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		remindAt := input.Body.RemindAt
		if remindAt == "" && input.Body.In != "" {
			d, err := parseRemindOffset(input.Body.In)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			remindAt = time.Now().UTC().Add(d).Format(time.RFC3339)
		}
		rem, err := e.Schedule(ctx, input.ID, input.Body.UserID, remindAt, input.Body.Channel)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Reminder `json:"body"`
		}{Body: rem}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upcoming-reminders",
		Method:      http.MethodGet,
		Path:        "/reminders/upcoming",
		Summary:     "List upcoming reminders",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		UserID      string `query:"user_id"`
		WithinHours int    `query:"within_hours"`
	}) (*struct {
		Body []domain.Reminder `json:"body"`
	}, error) {
		userID := input.UserID
		if userID == "" {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			userID = actorID
		}
		rems, err := e.ListUpcoming(ctx, userID, input.WithinHours)
		if err != nil {
			return nil, handleError(err)
		}
		if rems == nil {
			rems = []domain.Reminder{}
		}
		return &struct {
			Body []domain.Reminder `json:"body"`
		}{Body: rems}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-reminder-seen",
		Method:      http.MethodPost,
		Path:        "/reminders/{id}/seen",
		Summary:     "Mark reminder seen",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Reminder `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rem, err := e.MarkSeen(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Reminder `json:"body"`
		}{Body: rem}, nil
	})
}

func registerOrgs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-org-unit",
		Method:        http.MethodPost,
		Path:          "/orgs",
		Summary:       "Create org unit",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateOrgUnitRequest `json:"body"`
	}) (*struct {
		Body domain.OrgUnit `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.CreateOrgUnit(ctx, input.Body.Name, stringOrEmpty(input.Body.ParentID), stringOrEmpty(input.Body.LeadUserID), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OrgUnit `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-org-units",
		Method:      http.MethodGet,
		Path:        "/orgs",
		Summary:     "List org units",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.OrgUnit `json:"body"`
	}, error) {
		orgs, err := e.Repo.ListOrgUnits(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if orgs == nil {
			orgs = []domain.OrgUnit{}
		}
		return &struct {
			Body []domain.OrgUnit `json:"body"`
		}{Body: orgs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-ngo",
		Method:        http.MethodPost,
		Path:          "/ngos",
		Summary:       "Register NGO",
		Errors: []int{
			http.StatusBadRequest,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateNGORequest `json:"body"`
	}) (*struct {
		Body domain.NGO `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.RegisterNGO(ctx, domain.NGO{
			ID:      stringOrEmpty(input.Body.ID),
			Name:    input.Body.Name,
			Status:  input.Body.Status,
			Bundle:  input.Body.Bundle,
			Country: input.Body.Country,
			Region:  input.Body.Region,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.NGO `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-ngos",
		Method:      http.MethodGet,
		Path:        "/ngos",
		Summary:     "List NGOs",
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status"`
		Bundle  string `query:"bundle"`
		Country string `query:"country"`
		Region  string `query:"region"`
		Limit   int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.NGO `json:"body"`
	}, error) {
		ngos, err := e.Repo.ListNGOs(ctx, repo.NGOFilters{
			Status:  input.Status,
			Bundle:  input.Bundle,
			Country: input.Country,
			Region:  input.Region,
			Limit:   normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if ngos == nil {
			ngos = []domain.NGO{}
		}
		return &struct {
			Body []domain.NGO `json:"body"`
		}{Body: ngos}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-ngo-status",
		Method:      http.MethodPatch,
		Path:        "/ngos/{id}/status",
		Summary:     "Update NGO status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body SetNGOStatusRequest `json:"body"`
	}) (*struct {
		Body domain.NGO `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.SetNGOStatus(ctx, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.NGO `json:"body"`
		}{Body: n}, nil
	})
}

type metricsQuery struct {
	Bundle       string `query:"bundle"`
	Country      string `query:"country"`
	Region       string `query:"region"`
	Module       string `query:"module"`
	DepartmentID string `query:"department_id"`
	NGOIDs       string `query:"ngo_ids" doc:"Comma-separated NGO ids"`
}

func (q metricsQuery) scope() engine.MetricsScope {
	s := engine.MetricsScope{
		Bundle:       q.Bundle,
		Country:      q.Country,
		Region:       q.Region,
		Module:       q.Module,
		DepartmentID: q.DepartmentID,
	}
	if q.NGOIDs != "" {
		for _, id := range strings.Split(q.NGOIDs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				s.NGOIDs = append(s.NGOIDs, id)
			}
		}
	}
	return s
}

func registerMetrics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "metrics-snapshot",
		Method:      http.MethodGet,
		Path:        "/metrics/snapshot",
		Summary:     "Operational snapshot",
	}, func(ctx context.Context, input *metricsQuery) (*struct {
		Body engine.Snapshot `json:"body"`
	}, error) {
		snap, err := e.Snapshot(ctx, input.scope())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Snapshot `json:"body"`
		}{Body: snap}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "metrics-workload",
		Method:      http.MethodGet,
		Path:        "/metrics/workload",
		Summary:     "Workload by department",
	}, func(ctx context.Context, input *metricsQuery) (*struct {
		Body []repo.DepartmentCount `json:"body"`
	}, error) {
		rows, err := e.Workload(ctx, input.scope())
		if err != nil {
			return nil, handleError(err)
		}
		if rows == nil {
			rows = []repo.DepartmentCount{}
		}
		return &struct {
			Body []repo.DepartmentCount `json:"body"`
		}{Body: rows}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "metrics-evidence-pending",
		Method:      http.MethodGet,
		Path:        "/metrics/evidence-pending",
		Summary:     "Items awaiting evidence approval",
	}, func(ctx context.Context, input *struct {
		metricsQuery
		Limit int `query:"limit"`
	}) (*struct {
		Body []domain.WorkItem `json:"body"`
	}, error) {
		items, err := e.EvidencePending(ctx, input.scope(), input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkItem `json:"body"`
		}{Body: nonNilItems(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "metrics-at-risk",
		Method:      http.MethodGet,
		Path:        "/metrics/at-risk",
		Summary:     "At-risk NGOs",
	}, func(ctx context.Context, input *struct {
		metricsQuery
		Limit int `query:"limit"`
	}) (*struct {
		Body []domain.NGO `json:"body"`
	}, error) {
		ngos, err := e.AtRiskNGOs(ctx, input.scope(), input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if ngos == nil {
			ngos = []domain.NGO{}
		}
		return &struct {
			Body []domain.NGO `json:"body"`
		}{Body: ngos}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the audit log",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		evts, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(evts))
		for _, evt := range evts {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerConfig(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Get workspace config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetWorkspaceConfig(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-config",
		Method:      http.MethodPut,
		Path:        "/config",
		Summary:     "Import workspace config",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ImportConfigRequest `json:"body"`
	}) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		if input.Body.YAML == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "yaml is required", nil)
		}
		cfg, err := config.FromYAML([]byte(input.Body.YAML))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		if err := e.Repo.UpsertWorkspaceConfig(ctx, cfg); err != nil {
			return nil, handleError(err)
		}
		if e.Config != nil {
			*e.Config = *cfg
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: cfg}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Create API key",
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		secret := uuid.New().String() + uuid.New().String()
		key := domain.APIKey{
			ID:      uuid.New().String(),
			ActorID: input.Body.ActorID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(secret),
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{
			ID:      key.ID,
			ActorID: key.ActorID,
			Name:    key.Name,
			Key:     secret,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		if keys == nil {
			keys = []domain.APIKey{}
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-api-key",
		Method:      http.MethodDelete,
		Path:        "/keys/{id}",
		Summary:     "Revoke API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	data := bodyBytes(ctx)
	if len(data) == 0 {
		return map[string]json.RawMessage{}
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return map[string]json.RawMessage{}
	}
	if inner, ok := outer["body"]; ok {
		var innerMap map[string]json.RawMessage
		if err := json.Unmarshal(inner, &innerMap); err == nil {
			return innerMap
		}
	}
	return outer
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
