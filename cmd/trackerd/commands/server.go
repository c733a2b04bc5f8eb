package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
	"github.com/CivityNL/ckanext-tracker/pkg/stores"
	"github.com/CivityNL/ckanext-tracker/pkg/telemetry"
)

// maxBodyBytes bounds request bodies; package snapshots with many resources
// are large but not unbounded.
const maxBodyBytes = 8 << 20

// server is the HTTP intake of the daemon.
type server struct {
	app      *app
	validate *validator.Validate
	logger   zerolog.Logger
}

func newServer(a *app) *server {
	return &server{
		app:      a,
		validate: validator.New(),
		logger:   a.logger.With().Str("component", "http").Logger(),
	}
}

// routes builds the chi router.
func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.withTelemetry)

	r.Get("/healthz", s.handleHealth)
	if s.app.cfg.Telemetry.Metrics.Enabled {
		r.Handle(s.metricsPath(), s.app.tel.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/events", s.handleEvent)
		r.Post("/upload", s.handleUpload)
		r.Post("/callback/{tracker}", s.handleCallback)
		r.Get("/task_status", s.handleShowTaskStatus)
		r.Post("/task_status", s.handleReport)
		r.Get("/trackers", s.handleListTrackers)
		r.Get("/trackers/{kind}/{id}", s.handleOverview)
	})

	return r
}

func (s *server) metricsPath() string {
	if p := s.app.cfg.Telemetry.Metrics.Path; p != "" {
		return p
	}
	return "/metrics"
}

// withTelemetry puts the telemetry bundle and a request scoped logger into
// the request context.
func (s *server) withTelemetry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := s.app.tel.WithContext(r.Context())
		if id := chimiddleware.GetReqID(ctx); id != "" {
			ctx = telemetry.FromContext(ctx).WithField("request_id", id).WithContext(ctx)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// apiError is the error body of every failed request.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *server) respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		s.logger.Warn().Err(err).Str("code", code).Msg("API error")
	}
	respondJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}

// respondEngineError maps engine error classes onto status codes.
func (s *server) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsValidation(err):
		s.respondError(w, http.StatusBadRequest, engine.ErrCodeValidation, err.Error(), nil)
	case engine.IsNotFound(err):
		s.respondError(w, http.StatusNotFound, engine.ErrCodeNotFound, err.Error(), nil)
	default:
		s.respondError(w, http.StatusInternalServerError, engine.ErrCodeInternal, "internal error", err)
	}
}

// decode reads and validates a JSON body into v.
func (s *server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, engine.ErrCodeValidation, "invalid JSON body: "+err.Error(), nil)
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.respondError(w, http.StatusBadRequest, engine.ErrCodeValidation, validationMessage(err), nil)
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok", "store": "ok"}
	code := http.StatusOK
	if err := s.app.store.HealthCheck(ctx); err != nil {
		status["status"] = "degraded"
		status["store"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if s.app.publisher != nil {
		status["queue_breaker"] = s.app.publisher.BreakerState()
	}
	respondJSON(w, code, status)
}

// dispatchView is the JSON form of one dispatch result.
type dispatchView struct {
	Tracker     string             `json:"tracker,omitempty"`
	Outcome     string             `json:"outcome"`
	Command     string             `json:"command,omitempty"`
	JobID       string             `json:"job_id,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Error       string             `json:"error,omitempty"`
	Compensated bool               `json:"compensated,omitempty"`
	Status      *stores.TaskStatus `json:"status,omitempty"`
}

func viewResults(results []engine.DispatchResult) []dispatchView {
	views := make([]dispatchView, 0, len(results))
	for _, r := range results {
		v := dispatchView{
			Outcome:     string(r.Outcome),
			Command:     string(r.Command),
			Reason:      r.Reason,
			Compensated: r.Compensated,
			Status:      r.Status,
		}
		if r.Job != nil {
			v.Tracker = r.Job.Tracker
			v.JobID = r.Job.ID
		} else if r.Status != nil {
			v.Tracker = r.Status.TaskType
		}
		if r.Err != nil {
			v.Error = r.Err.Error()
		}
		views = append(views, v)
	}
	return views
}

// eventRequest is one host lifecycle event.
type eventRequest struct {
	Action string `json:"action" validate:"required,oneof=create update delete purge"`
	Kind   string `json:"kind" validate:"required,oneof=package resource datastore"`
	// Before and After are the entity around the action. Package snapshots
	// embed their resources.
	Before engine.Snapshot `json:"before"`
	After  engine.Snapshot `json:"after"`
	// Package is the owning package of resource events.
	Package engine.Snapshot `json:"package"`
	User    string          `json:"user"`
	// TransactionID resolves the package pair from the revision history
	// instead of Before and After.
	TransactionID string `json:"transaction_id"`
	EntityID      string `json:"entity_id"`
}

func (e *eventRequest) entity() engine.Snapshot {
	if e.After != nil {
		return e.After
	}
	return e.Before
}

func (e *eventRequest) entityID() string {
	if id := e.entity().ID(); id != "" {
		return id
	}
	return e.EntityID
}

func (s *server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !s.decode(w, r, &req) {
		return
	}

	ev := telemetry.StartEvent(r.Context(), req.Action, req.Kind, req.entityID())
	results, err := s.applyEvent(ev.Ctx, &req)
	ev.End(err)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"results": viewResults(results)})
}

func (s *server) applyEvent(ctx context.Context, req *eventRequest) ([]engine.DispatchResult, error) {
	lc := s.app.lifecycle
	kind := engine.EntityKind(req.Kind)

	if req.Action == "purge" {
		entity := req.entity()
		if entity == nil && req.EntityID != "" {
			entity = engine.Snapshot{"id": req.EntityID}
		}
		if entity.ID() == "" {
			return nil, engine.NewValidationError("purge requires an entity id")
		}
		return lc.Purge(ctx, kind, entity, req.Package, req.User), nil
	}

	if kind != engine.KindPackage {
		if req.Package == nil {
			return nil, engine.NewValidationError("resource events require the owning package")
		}
		phase := engine.Phase(req.Action)
		return lc.Resource(ctx, phase, req.Before, req.After, req.Package, req.User), nil
	}

	if req.TransactionID == "" {
		return lc.Evaluate(ctx, req.Before, req.After, req.User), nil
	}

	id := req.entityID()
	if id == "" {
		return nil, engine.NewValidationError("transaction events require a package id")
	}
	if req.After != nil {
		if err := s.app.revisions.Record(ctx, engine.KindPackage, req.After, req.TransactionID, req.User); err != nil {
			return nil, err
		}
	}
	return lc.EvaluateTransaction(ctx, id, req.TransactionID, req.User), nil
}

type uploadRequest struct {
	Resource engine.Snapshot `json:"resource" validate:"required"`
	Package  engine.Snapshot `json:"package" validate:"required"`
	User     string          `json:"user"`
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if !s.decode(w, r, &req) {
		return
	}

	ev := telemetry.StartEvent(r.Context(), "upload", string(engine.KindDatastore), req.Resource.ID())
	results := s.app.lifecycle.UploadCompleted(ev.Ctx, req.Resource, req.Package, req.User)
	ev.End(nil)
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"results": viewResults(results)})
}

type callbackRequest struct {
	State    string          `json:"state" validate:"required,oneof=created updated deleted"`
	Resource engine.Snapshot `json:"resource" validate:"required"`
	Package  engine.Snapshot `json:"package" validate:"required"`
	User     string          `json:"user"`
}

func (s *server) handleCallback(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "tracker")
	var req callbackRequest
	if !s.decode(w, r, &req) {
		return
	}

	ev := telemetry.StartEvent(r.Context(), "callback", string(engine.KindResource), req.Resource.ID())
	results := s.app.lifecycle.Callback(ev.Ctx, source, engine.CallbackState(req.State), req.Resource, req.Package, req.User)
	ev.End(nil)
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"results": viewResults(results)})
}

func (s *server) handleShowTaskStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := stores.TaskKey{
		EntityID:   q.Get("entity_id"),
		EntityType: q.Get("entity_type"),
		TaskType:   q.Get("task_type"),
	}
	if err := key.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, engine.ErrCodeValidation, err.Error(), nil)
		return
	}

	status, err := s.app.store.ShowTaskStatus(r.Context(), key)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, engine.ErrCodeLedger, "failed to read task status", err)
		return
	}
	if status == nil {
		s.respondError(w, http.StatusNotFound, engine.ErrCodeNotFound, "no task status for "+key.String(), nil)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// reportRequest is a worker's state update.
type reportRequest struct {
	EntityID   string `json:"entity_id" validate:"required"`
	EntityType string `json:"entity_type" validate:"required,oneof=package resource datastore"`
	TaskType   string `json:"task_type" validate:"required"`
	State      string `json:"state" validate:"required"`
	JobID      string `json:"job_id"`
	Command    string `json:"job_command"`
	RemoteID   string `json:"remote_id"`
	Error      string `json:"error"`
}

func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if !s.decode(w, r, &req) {
		return
	}

	key := stores.TaskKey{EntityID: req.EntityID, EntityType: req.EntityType, TaskType: req.TaskType}
	value := stores.TaskValue{JobID: req.JobID, Command: req.Command, RemoteID: req.RemoteID}
	status, err := engine.Report(r.Context(), s.app.store, key, stores.TaskState(req.State), value, req.Error)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	s.app.tel.Metrics.RecordReport(req.TaskType, req.State)
	s.app.audit(r.Context(), "task_status.reported", req.TaskType, req.EntityID, req.State)
	respondJSON(w, http.StatusOK, status)
}

func (s *server) handleListTrackers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"trackers": descriptors(s.app.registry)})
}

func (s *server) handleOverview(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, engine.ErrCodeValidation, err.Error(), nil)
		return
	}

	overview, err := engine.Overview(r.Context(), s.app.registry, s.app.store, kind, chi.URLParam(r, "id"))
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"trackers": overview})
}

// descriptors lists the registered trackers.
func descriptors(registry *engine.Registry) []engine.Descriptor {
	list := registry.GetTrackers()
	out := make([]engine.Descriptor, 0, len(list))
	for _, t := range list {
		out = append(out, t.Descriptor)
	}
	return out
}
