package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	m "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"genai-assessor/internal/assess"
	"genai-assessor/internal/db"
	"genai-assessor/internal/metrics"
	"genai-assessor/internal/notebook"
	"genai-assessor/internal/rubric"
	"genai-assessor/internal/schemas"
	"genai-assessor/internal/storage"
	"genai-assessor/internal/workflow"
)

const maxRubricBytes = 1 << 20

type Server struct {
	Svc *assess.Service
	Log *zap.Logger
}

func NewServer(addr string, svc *assess.Service, log *zap.Logger, mx *metrics.Metrics) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(svc, log, mx),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func NewRouter(svc *assess.Service, log *zap.Logger, mx *metrics.Metrics) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{Svc: svc, Log: log}
	r := chi.NewRouter()
	r.Use(m.RequestID, m.RealIP, AccessLog(log, mx), m.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/evaluate", s.evaluate)
		r.Get("/rubrics", s.listRubrics)
		r.Get("/rubrics/{name}", s.getRubric)
		r.Put("/rubrics/{name}", s.saveRubric)
		r.Get("/workflows", s.listWorkflows)
		r.Get("/workflows/{name}", s.getWorkflow)
		r.Get("/colab-workflows", s.listNotebooks)
		r.Post("/colab-workflows/execute", s.executeNotebook)
		r.Post("/colab-workflows/execute-async", s.enqueueNotebook)
		r.Get("/executions/{id}", s.getExecution)
		r.Post("/live-interview", s.interview)
	})

	r.Get("/healthz", s.healthz)
	if mx != nil {
		r.Method(http.MethodGet, "/metrics", mx.Handler())
	}
	return r
}

type errResp = schemas.Error

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rubric.ErrNotFound),
		errors.Is(err, workflow.ErrNotFound),
		errors.Is(err, notebook.ErrNotFound),
		errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrMissingParameter),
		errors.Is(err, rubric.ErrInvalidRubric),
		errors.Is(err, storage.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, assess.ErrAsyncUnavailable),
		errors.Is(err, assess.ErrHistoryDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.Log.Error("request failed", zap.String("path", r.URL.Path), zap.String("request_id", m.GetReqID(r.Context())), zap.Error(err))
	}
	writeJSON(w, code, errResp{Error: err.Error()})
}

// failNotebook reports notebook errors with the status field clients of
// the notebook endpoints expect.
func (s *Server) failNotebook(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.Log.Error("notebook request failed", zap.String("path", r.URL.Path), zap.String("request_id", m.GetReqID(r.Context())), zap.Error(err))
	}
	writeJSON(w, code, errResp{Status: "error", Error: err.Error()})
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	var req schemas.EvaluateRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{Error: err.Error()})
		return
	}
	resp, err := s.Svc.Evaluate(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listRubrics(w http.ResponseWriter, r *http.Request) {
	names, err := s.Svc.ListRubrics()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) getRubric(w http.ResponseWriter, r *http.Request) {
	rb, err := s.Svc.Rubric(chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rb)
}

func (s *Server) saveRubric(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRubricBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{Error: err.Error()})
		return
	}
	rb, err := s.Svc.SaveRubric(chi.URLParam(r, "name"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rb)
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	names, err := s.Svc.ListWorkflows()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.Svc.Workflow(chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) listNotebooks(w http.ResponseWriter, r *http.Request) {
	infos, err := s.Svc.ListNotebooks(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) executeNotebook(w http.ResponseWriter, r *http.Request) {
	var req schemas.NotebookRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{Status: "error", Error: err.Error()})
		return
	}
	resp, err := s.Svc.ExecuteNotebook(r.Context(), req)
	if err != nil {
		s.failNotebook(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) enqueueNotebook(w http.ResponseWriter, r *http.Request) {
	var req schemas.NotebookRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{Status: "error", Error: err.Error()})
		return
	}
	id, err := s.Svc.EnqueueNotebook(r.Context(), req)
	if err != nil {
		s.failNotebook(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, schemas.QueuedResponse{Status: "queued", ExecutionID: id})
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	e, err := s.Svc.Execution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) interview(w http.ResponseWriter, r *http.Request) {
	var req schemas.InterviewRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp{Error: err.Error()})
		return
	}
	resp, err := s.Svc.Interview(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.Svc.History != nil {
		if err := s.Svc.History.DB().PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "db error"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
