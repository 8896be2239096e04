// Package httpapi implements the control plane's HTTP Surface: a thin
// adapter that validates input shapes, calls the Dataset Catalog or Job
// Coordinator, and translates outcomes to status codes. It holds no state
// of its own.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/trace"

	"github.com/paulpriyanshu/elytra/internal/catalog"
	"github.com/paulpriyanshu/elytra/internal/coordinator"
	"github.com/paulpriyanshu/elytra/internal/observability"
	"github.com/paulpriyanshu/elytra/internal/ops"
	"github.com/paulpriyanshu/elytra/internal/registry"
)

const defaultRole = registry.RoleWorker

// maxRequestBody bounds how much of a request body the HTTP Surface will
// read before giving up; the job/dataset API surface never needs more.
const maxRequestBody = 8 << 20 // 8 MiB

// Catalog is the subset of the Dataset Catalog the HTTP Surface calls.
type Catalog interface {
	Register(name, storageKey, bucket string, rowGroups []catalog.RowGroup) (string, error)
	Get(id string) (catalog.Metadata, error)
	List() []catalog.Summary
	Delete(id string) error
}

// JobSubmitter is the subset of the Job Coordinator the HTTP Surface calls.
type JobSubmitter interface {
	Submit(datasetID string, pipeline ops.Pipeline) (<-chan coordinator.Result, error)
}

// ConnectionAcceptor is the subset of the Connection Registry the HTTP
// Surface calls to admit a new message-channel connection.
type ConnectionAcceptor interface {
	Accept(conn *websocket.Conn, role registry.Role, isMobile bool) *registry.Connection
	Drop(handle *registry.Connection)
}

// Pumper runs the inbound read loop for one accepted connection.
type Pumper interface {
	Pump(conn *registry.Connection)
}

// Server holds the collaborators the HTTP Surface dispatches into. It is
// stateless beyond these references.
type Server struct {
	catalog  Catalog
	jobs     JobSubmitter
	conns    ConnectionAcceptor
	pump     Pumper
	metrics  *observability.DomainMetrics
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a Server wired to its collaborators. A nil logger falls back
// to slog.Default.
func New(cat Catalog, jobs JobSubmitter, conns ConnectionAcceptor, pump Pumper, metrics *observability.DomainMetrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	return &Server{
		catalog: cat,
		jobs:    jobs,
		conns:   conns,
		pump:    pump,
		metrics: metrics,
		log:     log,
		upgrader: websocket.Upgrader{
			// This is a control plane for trusted worker/observer processes,
			// not a browser-facing endpoint; origin checks do not apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// NewMux builds the full HTTP mux: the job/dataset API surface plus the
// ambient health, readiness, and metrics endpoints, wrapped in the tracing
// and access-log middleware.
func NewMux(srv *Server, tracer trace.Tracer, promHandler http.Handler, ready ...observability.ReadyCheck) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/api/register-dataset", srv.handleRegisterDataset).Methods(http.MethodPost)
	router.HandleFunc("/api/datasets", srv.handleListDatasets).Methods(http.MethodGet)
	router.HandleFunc("/api/datasets/{id}", srv.handleDeleteDataset).Methods(http.MethodDelete)
	router.HandleFunc("/api/jobs", srv.handleSubmitJob).Methods(http.MethodPost)
	router.HandleFunc("/ws", srv.handleWebSocket)

	router.Handle("/healthz", observability.HealthHandler())
	router.Handle("/readyz", observability.ReadyHandler(ready...))
	router.Handle("/metrics", promHandler)

	return observability.HTTPMiddleware(tracer, srv.log, router)
}

type registerDatasetRequest struct {
	Name       string            `json:"name"`
	StorageKey string            `json:"storageKey"`
	Bucket     string            `json:"bucket"`
	RowGroups  []requestRowGroup `json:"rowGroups"`
}

type requestRowGroup struct {
	ID       int `json:"id"`
	RowCount int `json:"rowCount"`
}

type registerDatasetResponse struct {
	DatasetID     string `json:"datasetId"`
	RowGroupCount int    `json:"rowGroupCount"`
}

func (s *Server) handleRegisterDataset(w http.ResponseWriter, r *http.Request) {
	body, violation, err := readAndValidate(r, registerDatasetLoader)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body")

		return
	}

	if violation != "" {
		writeError(w, http.StatusBadRequest, violation)

		return
	}

	var req registerDatasetRequest

	err = json.Unmarshal(body, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")

		return
	}

	rowGroups := make([]catalog.RowGroup, len(req.RowGroups))
	for i, rg := range req.RowGroups {
		rowGroups[i] = catalog.RowGroup{GroupID: rg.ID, RowCount: rg.RowCount}
	}

	datasetID, err := s.catalog.Register(req.Name, req.StorageKey, req.Bucket, rowGroups)
	if err != nil {
		s.log.Error("httpapi: register dataset failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register dataset")

		return
	}

	s.metrics.RecordDatasetRegistered(r.Context())

	writeJSON(w, http.StatusOK, registerDatasetResponse{DatasetID: datasetID, RowGroupCount: len(rowGroups)})
}

func (s *Server) handleListDatasets(w http.ResponseWriter, _ *http.Request) {
	summaries := s.catalog.List()
	if summaries == nil {
		summaries = []catalog.Summary{}
	}

	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := s.catalog.Delete(id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dataset not found")

			return
		}

		s.log.Error("httpapi: delete dataset failed", "datasetId", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete dataset")

		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type submitJobRequest struct {
	APIKey    string       `json:"apiKey"`
	DatasetID string       `json:"datasetId"`
	Ops       ops.Pipeline `json:"ops"`
}

type submitJobResponse struct {
	Result any `json:"result"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	body, violation, err := readAndValidate(r, submitJobLoader)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body")

		return
	}

	if violation != "" {
		writeError(w, http.StatusBadRequest, violation)

		return
	}

	var req submitJobRequest

	err = json.Unmarshal(body, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")

		return
	}

	if req.APIKey == "" {
		writeError(w, http.StatusUnauthorized, "missing apiKey")

		return
	}

	resolver, err := s.jobs.Submit(req.DatasetID, req.Ops)
	if err != nil {
		s.dispatchSubmitError(w, err)

		return
	}

	result := <-resolver
	if result.Err != nil {
		s.metrics.RecordJobFailed(r.Context())
		writeError(w, http.StatusInternalServerError, result.Err.Error())

		return
	}

	writeJSON(w, http.StatusOK, submitJobResponse{Result: result.Value})
}

func (s *Server) dispatchSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrDatasetNotFound):
		writeError(w, http.StatusNotFound, "dataset not found")
	case errors.Is(err, coordinator.ErrNoWorkers):
		writeError(w, http.StatusServiceUnavailable, "no workers available")
	default:
		s.log.Error("httpapi: submit job failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to submit job")
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	role := registry.Role(r.URL.Query().Get("role"))
	if role == "" {
		role = defaultRole
	}

	isMobile, _ := strconv.ParseBool(r.URL.Query().Get("isMobile"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("httpapi: websocket upgrade failed", "error", err)

		return
	}

	handle := s.conns.Accept(conn, role, isMobile)
	if role == registry.RoleWorker {
		s.metrics.SetWorkersConnected(r.Context(), 1)
	}

	defer func() {
		s.conns.Drop(handle)

		if role == registry.RoleWorker {
			s.metrics.SetWorkersConnected(r.Context(), -1)
		}
	}()

	s.pump.Pump(handle)
}

// readAndValidate reads the request body (bounded) and validates it against
// schemaLoader. A non-empty violation string means the body was well-formed
// JSON but failed schema validation; a non-nil error means the body could
// not be read or is not parseable JSON.
func readAndValidate(r *http.Request, schemaLoader gojsonschema.JSONLoader) ([]byte, string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, "", err
	}

	violation, err := validateAgainst(schemaLoader, body)
	if err != nil {
		return nil, "", err
	}

	return body, violation, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Default().Warn("httpapi: failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
