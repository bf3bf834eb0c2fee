package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"appregistry/internal/domain"
	"appregistry/internal/httpserver/deps"
	"appregistry/internal/logger"
	"appregistry/internal/service"
)

var validate = validator.New()

type createRequest struct {
	Name        string  `json:"name" validate:"required,min=1"`
	Description *string `json:"description" validate:"omitempty,max=256"`
}

// CreateApplication handles POST /applications.
//
// Requires Authorization (opaque bearer token, the idempotency and
// rate-limit scoping key) and Idempotency-Key headers. Replays the
// original outcome for a repeated key, answers 409 on a normalized
// name collision and 429 + Retry-After when the token exceeded its
// create quota.
func CreateApplication(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusBadRequest, "missing Authorization header")
			return
		}
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			writeError(w, http.StatusBadRequest, "missing Idempotency-Key header")
			return
		}

		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeValidationError(w, err)
			return
		}

		out, err := d.Service.Create(r.Context(), token, key, req.Name, req.Description)
		if err != nil {
			writeCreateError(w, r, d, err)
			return
		}

		w.Header().Set("ETag", out.Application.ETag)
		writeJSON(w, out.Status, out.Application)
	}
}

// GetApplication handles GET /applications/{id}.
func GetApplication(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app, err := d.Service.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "application not found")
			return
		}
		w.Header().Set("ETag", app.ETag)
		writeJSON(w, http.StatusOK, app)
	}
}

// patchRequest distinguishes absent fields from explicit nulls: the
// raw description is kept unparsed so `"description": null` clears the
// field while an absent key leaves it untouched.
type patchRequest struct {
	Name        *string         `json:"name"`
	Description json.RawMessage `json:"description"`
	IsActive    *bool           `json:"is_active"`
}

type activatingResponse struct {
	Status string `json:"status"`
}

// PatchApplication handles PATCH /applications/{id}.
//
// The If-Match header carries the precondition: either the exact etag
// or a weak version form W/"<version>". ?force=true bypasses the
// name-content activation rule. Answers 200 with the final state, or
// 202 {"status":"activating"} when the activation flip is deferred.
func PatchApplication(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		match, ok := parseIfMatch(r.Header.Get("If-Match"))
		if !ok {
			writeError(w, http.StatusPreconditionFailed, "missing or malformed If-Match header")
			return
		}
		force := false
		if v := r.URL.Query().Get("force"); v != "" {
			force, _ = strconv.ParseBool(v)
		}

		var raw patchRequest
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req, err := buildPatch(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		out, err := d.Service.Patch(r.Context(), id, match, req, force)
		if err != nil {
			writePatchError(w, err)
			return
		}

		if out.Activating {
			writeJSON(w, http.StatusAccepted, activatingResponse{Status: "activating"})
			return
		}
		w.Header().Set("ETag", out.Application.ETag)
		writeJSON(w, http.StatusOK, out.Application)
	}
}

func buildPatch(raw patchRequest) (service.PatchRequest, error) {
	req := service.PatchRequest{
		Name:     raw.Name,
		IsActive: raw.IsActive,
	}
	if raw.Name != nil && strings.TrimSpace(*raw.Name) == "" {
		return service.PatchRequest{}, errors.New("name must not be empty")
	}
	if len(raw.Description) > 0 {
		if string(raw.Description) == "null" {
			req.ClearDescription = true
		} else {
			var desc string
			if err := json.Unmarshal(raw.Description, &desc); err != nil {
				return service.PatchRequest{}, errors.New("description must be a string or null")
			}
			if len(desc) > 256 {
				return service.PatchRequest{}, errors.New("description must be at most 256 characters")
			}
			req.Description = &desc
		}
	}
	return req, nil
}

// parseIfMatch understands the exact etag form (`"..."`) and the weak
// version form (`W/"3"`).
func parseIfMatch(header string) (domain.Precondition, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return domain.Precondition{}, false
	}
	if rest, isWeak := strings.CutPrefix(header, `W/"`); isWeak {
		rest, closed := strings.CutSuffix(rest, `"`)
		if !closed {
			return domain.Precondition{}, false
		}
		version, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return domain.Precondition{}, false
		}
		return domain.MatchVersion(version), true
	}
	return domain.MatchETag(header), true
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

func writeValidationError(w http.ResponseWriter, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation failed",
			"fields": fields,
		})
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
}

func writeCreateError(w http.ResponseWriter, r *http.Request, d deps.Deps, err error) {
	var limited *domain.RateLimitedError
	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterSeconds()))
		writeError(w, http.StatusTooManyRequests, "too many requests")
	case errors.Is(err, domain.ErrNameConflict):
		writeError(w, http.StatusConflict, err.Error())
	case r.Context().Err() != nil:
		// Timed out waiting on an in-flight duplicate; the key stays
		// pending on the winner, the caller should simply retry.
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "request timed out, retry")
	default:
		d.Logger.Error("create failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writePatchError(w http.ResponseWriter, err error) {
	var rule *domain.BusinessRuleError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrPreconditionFailed):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	case errors.Is(err, domain.ErrNameConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &rule):
		writeJSON(w, http.StatusUnprocessableEntity, ruleErrorResponse{
			Code:    rule.Code,
			Message: rule.Message,
		})
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
