package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/godamri/helix-audit/audit"
	"github.com/godamri/helix-audit/http/response"
)

// ErrEntityNotFound is returned by a Repository when the live entity is gone.
var ErrEntityNotFound = errors.New("api: entity not found")

// Repository loads and saves live entities of one type so the API can revert
// them. Save is expected to go through the audited update path.
type Repository interface {
	Load(ctx context.Context, id string) (audit.Entity, error)
	Save(ctx context.Context, entity audit.Entity) error
}

// NotFoundFunc reports whether a repository error means the entity is missing.
type NotFoundFunc func(err error) bool

// Handler exposes audit history and the transition operations over HTTP.
type Handler struct {
	auditor  *audit.Auditor
	logger   *slog.Logger
	validate *validator.Validate
	notFound NotFoundFunc

	mu    sync.RWMutex
	repos map[string]Repository
}

func New(auditor *audit.Auditor, logger *slog.Logger, notFound NotFoundFunc) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if notFound == nil {
		notFound = func(err error) bool { return errors.Is(err, ErrEntityNotFound) }
	}
	return &Handler{
		auditor:  auditor,
		logger:   logger,
		validate: newValidator(),
		notFound: notFound,
		repos:    make(map[string]Repository),
	}
}

// RegisterRepository makes entityType revertible through the API.
func (h *Handler) RegisterRepository(entityType string, repo Repository) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.repos[entityType] = repo
}

// Register mounts the audit endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/audits/{entityType}/{entityID}", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/first", h.HandleFirst)
		r.Get("/last", h.HandleLast)
		r.Post("/revert", h.HandleRevert)
		r.Post("/transition", h.HandleTransition)
	})
}

type listResponse struct {
	Records []audit.Record `json:"records"`
	Count   int            `json:"count"`
}

// TransitionRequest applies one side of a stored record to the live entity.
type TransitionRequest struct {
	RecordID int64  `json:"record_id" validate:"required,gt=0"`
	Values   string `json:"values" validate:"required,oneof=old new"`
}

type entityResponse struct {
	EntityType string       `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Attributes audit.Values `json:"attributes"`
	RecordID   int64        `json:"applied_record_id,omitempty"`
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func keys(r *http.Request) (string, string) {
	return chi.URLParam(r, "entityType"), chi.URLParam(r, "entityID")
}

// HandleList handles GET /v1/audits/{entityType}/{entityID}.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	entityType, entityID := keys(r)
	recs, err := h.auditor.ListAudits(r.Context(), entityType, entityID)
	if err != nil {
		h.fail(w, r, "list audits", err)
		return
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	response.JSON(w, r, http.StatusOK, listResponse{Records: recs, Count: len(recs)})
}

// HandleFirst handles GET /v1/audits/{entityType}/{entityID}/first.
func (h *Handler) HandleFirst(w http.ResponseWriter, r *http.Request) {
	entityType, entityID := keys(r)
	rec, err := h.auditor.FirstAudit(r.Context(), entityType, entityID)
	h.writeOne(w, r, "first audit", rec, err)
}

// HandleLast handles GET /v1/audits/{entityType}/{entityID}/last.
func (h *Handler) HandleLast(w http.ResponseWriter, r *http.Request) {
	entityType, entityID := keys(r)
	rec, err := h.auditor.LastAudit(r.Context(), entityType, entityID)
	h.writeOne(w, r, "last audit", rec, err)
}

func (h *Handler) writeOne(w http.ResponseWriter, r *http.Request, op string, rec *audit.Record, err error) {
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if rec == nil {
		response.ErrorJSON(w, r, http.StatusNotFound, response.ErrNoHistory, "no audit history for this entity")
		return
	}
	response.JSON(w, r, http.StatusOK, rec)
}

// HandleRevert handles POST /v1/audits/{entityType}/{entityID}/revert. The
// reverted entity is saved through its repository, which records the revert
// as an ordinary update.
func (h *Handler) HandleRevert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityType, entityID := keys(r)

	repo, entity, ok := h.load(w, r, entityType, entityID)
	if !ok {
		return
	}

	if err := h.auditor.Revert(ctx, entity); err != nil {
		h.fail(w, r, "revert", err)
		return
	}
	if err := repo.Save(ctx, entity); err != nil {
		h.fail(w, r, "save reverted entity", err)
		return
	}

	h.logger.InfoContext(ctx, "entity reverted",
		"entity_type", entityType,
		"entity_id", entityID,
	)
	response.JSON(w, r, http.StatusOK, entityResponse{
		EntityType: entityType,
		EntityID:   entityID,
		Attributes: entity.AuditAttributes(),
	})
}

// HandleTransition handles POST /v1/audits/{entityType}/{entityID}/transition.
func (h *Handler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityType, entityID := keys(r)

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.ErrorJSON(w, r, http.StatusBadRequest, response.ErrInvalidFormat, "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.ValidationProblem(w, r, err)
		return
	}

	recs, err := h.auditor.ListAudits(ctx, entityType, entityID)
	if err != nil {
		h.fail(w, r, "list audits", err)
		return
	}
	var rec *audit.Record
	for i := range recs {
		if recs[i].ID == req.RecordID {
			rec = &recs[i]
			break
		}
	}
	if rec == nil {
		response.ErrorJSON(w, r, http.StatusNotFound, response.ErrNotFound,
			fmt.Sprintf("audit record %d not found for %s %s", req.RecordID, entityType, entityID))
		return
	}

	repo, entity, ok := h.load(w, r, entityType, entityID)
	if !ok {
		return
	}

	if err := h.auditor.TransitionTo(entity, *rec, audit.Side(req.Values)); err != nil {
		h.fail(w, r, "transition", err)
		return
	}
	if err := repo.Save(ctx, entity); err != nil {
		h.fail(w, r, "save transitioned entity", err)
		return
	}

	response.JSON(w, r, http.StatusOK, entityResponse{
		EntityType: entityType,
		EntityID:   entityID,
		Attributes: entity.AuditAttributes(),
		RecordID:   rec.ID,
	})
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request, entityType, entityID string) (Repository, audit.Entity, bool) {
	h.mu.RLock()
	repo, ok := h.repos[entityType]
	h.mu.RUnlock()
	if !ok {
		response.ErrorJSON(w, r, http.StatusNotFound, response.ErrNotFound,
			fmt.Sprintf("entity type %q is not revertible", entityType))
		return nil, nil, false
	}

	entity, err := repo.Load(r.Context(), entityID)
	if err != nil {
		if h.notFound(err) {
			response.ErrorJSON(w, r, http.StatusNotFound, response.ErrNotFound,
				fmt.Sprintf("%s %s not found", entityType, entityID))
			return nil, nil, false
		}
		h.fail(w, r, "load entity", err)
		return nil, nil, false
	}
	return repo, entity, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code, status := response.FromAuditError(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "audit api: "+op+" failed", "error", err, "code", code)
	}
	response.AuditError(w, r, err)
}
