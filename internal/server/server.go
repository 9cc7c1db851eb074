// Package server exposes stored features and policy sampling over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/vbprojects/finagg/internal/batch"
	"github.com/vbprojects/finagg/internal/dist"
	"github.com/vbprojects/finagg/internal/events"
	"github.com/vbprojects/finagg/internal/features"
	"github.com/vbprojects/finagg/internal/metrics"
	"github.com/vbprojects/finagg/internal/model"
	"github.com/vbprojects/finagg/internal/policy"
	"github.com/vbprojects/finagg/internal/store"
	"github.com/vbprojects/finagg/internal/tensor"
)

const maxSampleBody = 1 << 20

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Server serves from. Nil Fundamental or
// Economic disables the matching route with 503.
type Deps struct {
	Sampler     policy.Sampler
	Fundamental *features.Fundamental
	Economic    *features.Economic
	Health      Pinger
	Publisher   events.Publisher
	Metrics     *metrics.Collector
}

// Server wires HTTP handlers to the feature store and policy.
type Server struct {
	deps           Deps
	logger         zerolog.Logger
	requestsPerSec float64
}

// NewServer constructs a Server. Sampler calls are serialised.
func NewServer(deps Deps, requestsPerSec float64, logger zerolog.Logger) *Server {
	if deps.Sampler != nil {
		deps.Sampler = policy.NewLocked(deps.Sampler)
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}
	return &Server{deps: deps, logger: logger, requestsPerSec: requestsPerSec}
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(CorrelationID)
	r.Use(RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if s.deps.Metrics != nil {
		r.Use(Metrics(s.deps.Metrics))
	}
	r.Use(RateLimiter(s.requestsPerSec))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/features/{ticker}", s.handleFundamental)
		r.Get("/economic", s.handleEconomic)
		r.Post("/policy/sample", s.handleSample)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// FrameResponse is the JSON form of a feature frame. Missing cells are
// null.
type FrameResponse struct {
	Ticker  string       `json:"ticker,omitempty"`
	Columns []string     `json:"columns"`
	Dates   []string     `json:"dates"`
	Values  [][]*float64 `json:"values"`
}

func frameResponse(ticker string, f *features.Frame) FrameResponse {
	resp := FrameResponse{Ticker: ticker, Columns: f.Columns(), Dates: f.Dates(), Values: [][]*float64{}}
	if m := f.Matrix(); m != nil {
		rows, cols := m.Dims()
		for i := 0; i < rows; i++ {
			row := make([]*float64, cols)
			for j, v := range m.RawRowView(i) {
				if !math.IsNaN(v) && !math.IsInf(v, 0) {
					v := v
					row[j] = &v
				}
			}
			resp.Values = append(resp.Values, row)
		}
	}
	return resp
}

func (s *Server) handleFundamental(w http.ResponseWriter, r *http.Request) {
	if s.deps.Fundamental == nil {
		s.writeError(w, http.StatusServiceUnavailable, "fundamental features unavailable")
		return
	}
	ticker := chi.URLParam(r, "ticker")
	q := r.URL.Query()
	frame, err := s.deps.Fundamental.FromStore(r.Context(), ticker, q.Get("start"), q.Get("end"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, frameResponse(ticker, frame))
}

func (s *Server) handleEconomic(w http.ResponseWriter, r *http.Request) {
	if s.deps.Economic == nil {
		s.writeError(w, http.StatusServiceUnavailable, "economic features unavailable")
		return
	}
	q := r.URL.Query()
	frame, err := s.deps.Economic.FromStore(r.Context(), q.Get("start"), q.Get("end"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, frameResponse("", frame))
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sampler == nil {
		s.writeError(w, http.StatusServiceUnavailable, "policy unavailable")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSampleBody)
	defer r.Body.Close()
	var req policy.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid sample payload")
		return
	}

	start := time.Now()
	out, rows, err := policy.SampleRequest(s.deps.Sampler, req)
	event := events.SampleEvent{
		RequestID:     r.Header.Get(CorrelationHeader),
		Transport:     "http",
		Kind:          req.Kind,
		Rows:          rows,
		Deterministic: req.Deterministic,
	}
	if err != nil {
		event.LastError = err.Error()
	} else if s.deps.Metrics != nil {
		s.deps.Metrics.PolicySample("http", req.Kind, rows, time.Since(start))
	}
	if perr := s.deps.Publisher.PublishSample(r.Context(), event); perr != nil {
		s.logger.Error().Err(perr).Msg("Failed to publish sample event")
	}
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, features.ErrNoData):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, policy.ErrBadRequest), errors.Is(err, model.ErrInvalidKind):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, batch.ErrShapeMismatch), errors.Is(err, tensor.ErrShapeMismatch),
		errors.Is(err, batch.ErrMissingField), errors.Is(err, dist.ErrNonFinite):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeJSON encodes payload before writing the header so an encoding
// failure is reported as a 500.
func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to encode response"}` + "\n"))
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Error().Err(err).Msg("failed to write response")
	}
}
