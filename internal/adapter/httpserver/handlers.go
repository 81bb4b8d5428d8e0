package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/ai-essay-grader/internal/config"
	"github.com/fairyhunter13/ai-essay-grader/internal/domain"
	"github.com/fairyhunter13/ai-essay-grader/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-essay-grader/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Submit     usecase.SubmitService
	Results    usecase.ResultService
	Limiter    ratelimiter.Limiter
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, submit usecase.SubmitService, results usecase.ResultService, limiter ratelimiter.Limiter, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Submit: submit, Results: results, Limiter: limiter, DBCheck: dbCheck, RedisCheck: redisCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// SubmitHandler accepts an essay and enqueues it for scoring.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]any{"accept": a}}})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

		var req struct {
			Topic   string `json:"topic" validate:"required,min=10"`
			Content string `json:"content" validate:"required,min=50,max=5000"`
			UserID  string `json:"user_id" validate:"omitempty,max=128"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}

		ctx := r.Context()
		limiterKey := req.UserID
		if limiterKey == "" {
			limiterKey = clientIP(r)
		}
		if s.Limiter != nil {
			allowed, retryAfter, _ := s.Limiter.Allow(ctx, limiterKey)
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				}
				writeError(w, r, fmt.Errorf("%w: submission limit reached", domain.ErrRateLimited), nil)
				return
			}
		}

		jobID, err := s.Submit.Submit(ctx, req.Topic, req.Content, req.UserID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": jobID, "status": string(domain.JobReceived)})
	}
}

// ResultHandler returns the job status and, once completed, the scored
// result.
func (s *Server) ResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		status, res, etag, err := s.Results.Fetch(r.Context(), id, r.Header.Get("If-None-Match"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("ETag", etag)
		if status == http.StatusNotModified {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, status, res)
	}
}

// HealthzHandler reports process liveness.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes the dependencies the submission path needs.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make([]check, 0, 2)
		ok := true
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", Details: err.Error()})
				ok = false
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", Details: err.Error()})
				ok = false
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}

		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": ok, "checks": checks})
	}
}

// clientIP extracts the caller address for limiter keying when no user id
// is supplied.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return host
}
