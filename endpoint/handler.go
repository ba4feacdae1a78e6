// Package endpoint serves the visit increment routes:
//
//	POST /profiles/public/{slug}/visit
//	POST /family-profiles/public/{slug}/visit
//	POST /couple-profiles/public/{slug}/visit
//
// Responses: 200 {"success":true,"visit_count":N}; 429 with Retry-After when
// the client counted the resource too recently; 404 for unknown or
// unpublished slugs; 500 otherwise. Error bodies are {"error":"..."}.
package endpoint

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eternovinculo/visitguard"
	"github.com/eternovinculo/visitguard/counter"
	"github.com/eternovinculo/visitguard/ratelimit"
)

// User-facing messages, shown as is by the client.
const (
	MsgRateLimited = "Ya registramos tu visita recientemente"
	MsgNotFound    = "Perfil no encontrado"
	MsgInternal    = visitguard.DefaultErrorMessage
)

type Options struct {
	Counter counter.Counter
	Limiter ratelimit.Limiter // nil disables rate limiting
	Logger  *zap.Logger       // nil => zap.NewNop()
	Metrics *Metrics          // optional
	// Gatherer, when set, is served at GET /metrics.
	Gatherer prometheus.Gatherer
	// TrustForwardedFor takes the client from the first X-Forwarded-For hop.
	// Enable only behind a proxy that sets it.
	TrustForwardedFor bool
}

type Handler struct {
	counter counter.Counter
	limiter ratelimit.Limiter
	log     *zap.Logger
	metrics *Metrics
	trustFF bool
	router  chi.Router
	now     func() time.Time
}

func New(opts Options) (*Handler, error) {
	if opts.Counter == nil {
		return nil, errors.New("endpoint: Counter is required")
	}
	h := &Handler{
		counter: opts.Counter,
		limiter: opts.Limiter,
		log:     opts.Logger,
		metrics: opts.Metrics,
		trustFF: opts.TrustForwardedFor,
		now:     time.Now,
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	for _, kind := range visitguard.Kinds() {
		r.Post("/"+kind.Route()+"/public/{slug}/visit", h.visit(kind))
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	h.router = r
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) visit(kind visitguard.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := h.now()
		ctx := r.Context()
		slug, ok := slugParam(r)
		client := h.clientID(r)
		log := h.log.With(
			zap.String("kind", string(kind)),
			zap.String("slug", slug),
			zap.String("request_id", middleware.GetReqID(ctx)),
		)

		if !ok || strings.TrimSpace(slug) == "" {
			h.metrics.observe(string(kind), OutcomeNotFound, h.now().Sub(start))
			writeError(w, http.StatusNotFound, MsgNotFound)
			return
		}

		if h.limiter != nil {
			res, err := h.limiter.Allow(ctx, client, kind, slug)
			if err != nil {
				log.Error("rate limiter failed", zap.Error(err))
				h.metrics.observe(string(kind), OutcomeError, h.now().Sub(start))
				writeError(w, http.StatusInternalServerError, MsgInternal)
				return
			}
			if !res.Allowed {
				log.Debug("visit rate limited", zap.Duration("retry_after", res.RetryAfter))
				h.metrics.observe(string(kind), OutcomeRateLimited, h.now().Sub(start))
				w.Header().Set("Retry-After", retryAfter(res.RetryAfter))
				writeError(w, http.StatusTooManyRequests, MsgRateLimited)
				return
			}
		}

		n, err := h.counter.Increment(ctx, kind, slug)
		switch {
		case err == nil:
			h.metrics.observe(string(kind), OutcomeCounted, h.now().Sub(start))
			writeJSON(w, http.StatusOK, visitResponse{Success: true, VisitCount: n})

		case errors.Is(err, counter.ErrNotFound):
			h.release(r, log, client, kind, slug)
			h.metrics.observe(string(kind), OutcomeNotFound, h.now().Sub(start))
			writeError(w, http.StatusNotFound, MsgNotFound)

		default:
			log.Error("increment failed", zap.Error(err))
			h.release(r, log, client, kind, slug)
			h.metrics.observe(string(kind), OutcomeError, h.now().Sub(start))
			writeError(w, http.StatusInternalServerError, MsgInternal)
		}
	}
}

// slugParam returns the decoded slug. chi matches on RawPath when the request
// carried escapes the default encoding would not produce (an escaped "/"), and
// then the parameter is still escaped.
func slugParam(r *http.Request) (string, bool) {
	slug := chi.URLParam(r, "slug")
	if r.URL.RawPath == "" {
		return slug, true
	}
	dec, err := url.PathUnescape(slug)
	if err != nil {
		return "", false
	}
	return dec, true
}

// release hands the allowance back so an uncounted visit is not rate limited
// on retry.
func (h *Handler) release(r *http.Request, log *zap.Logger, client string, kind visitguard.Kind, slug string) {
	rel, ok := h.limiter.(ratelimit.Releaser)
	if !ok {
		return
	}
	if err := rel.Release(r.Context(), client, kind, slug); err != nil {
		log.Warn("rate limit release failed", zap.Error(err))
	}
}

func (h *Handler) clientID(r *http.Request) string {
	if h.trustFF {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// first value is client
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := h.now()
		defer func() {
			h.log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", h.now().Sub(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

type visitResponse struct {
	Success    bool  `json:"success"`
	VisitCount int64 `json:"visit_count"`
}

// retryAfter rounds up to whole seconds, minimum 1.
func retryAfter(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
