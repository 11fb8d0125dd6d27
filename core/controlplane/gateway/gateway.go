// Package gateway exposes the packaging pipeline over HTTP: package
// requests, job polling, a WebSocket progress stream, and published
// package metadata.
package gateway

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paydeck/packager/core/infra/logging"
	infraMetrics "github.com/paydeck/packager/core/infra/metrics"
	"github.com/paydeck/packager/core/packaging"
	"github.com/paydeck/packager/core/packaging/jobs"
	"github.com/paydeck/packager/core/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server routes packaging API traffic to the pipeline and storage.
type Server struct {
	packager     *packaging.Packager
	bucket       storage.Bucket
	metrics      infraMetrics.GatewayMetrics
	signedURLTTL time.Duration
}

// Options wires the server's collaborators.
type Options struct {
	Packager     *packaging.Packager
	Bucket       storage.Bucket
	Metrics      infraMetrics.GatewayMetrics
	SignedURLTTL time.Duration
}

func New(opts Options) *Server {
	return &Server{
		packager:     opts.Packager,
		bucket:       opts.Bucket,
		metrics:      opts.Metrics,
		signedURLTTL: opts.SignedURLTTL,
	}
}

// Handler builds the full route table with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/v1/packages", s.instrumented("/api/v1/packages", s.handleCreatePackage))
	mux.HandleFunc("GET /api/v1/packages/jobs/{id}", s.instrumented("/api/v1/packages/jobs/{id}", s.handleGetJob))
	mux.HandleFunc("GET /api/v1/packages/jobs/{id}/stream", s.instrumented("/api/v1/packages/jobs/{id}/stream", s.handleStreamJob))
	mux.HandleFunc("GET /api/v1/packages/{brand}", s.instrumented("/api/v1/packages/{brand}", s.handleGetPackage))
	mux.HandleFunc("DELETE /api/v1/packages/{brand}", s.instrumented("/api/v1/packages/{brand}", s.handleDeletePackage))

	return corsMiddleware(mux)
}

// Run serves the API on httpAddr and Prometheus metrics on metricsAddr,
// blocking until the API listener fails.
func (s *Server) Run(httpAddr, metricsAddr string) error {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", infraMetrics.Handler())
	go func() {
		srv := &http.Server{
			Addr:         metricsAddr,
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		logging.Info("gateway", "metrics listening", "addr", metricsAddr+"/metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("gateway", "metrics server error", "error", err)
		}
	}()

	logging.Info("gateway", "http listening", "addr", httpAddr)
	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Error("gateway", "http server error", "error", err)
		return err
	}
	return nil
}

type packageRequest struct {
	BrandKey string `json:"brand_key"`
	Endpoint string `json:"endpoint"`
}

func (s *Server) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid JSON body", packaging.ErrMalformedRequest))
		return
	}
	if err := validatePackageRequest(raw); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", packaging.ErrMalformedRequest, err))
		return
	}
	var req packageRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid JSON body", packaging.ErrMalformedRequest))
		return
	}

	endpoint, err := normalizeEndpoint(req.Endpoint)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %v", packaging.ErrMalformedRequest, err))
		return
	}

	job := s.packager.Start(req.BrandKey, endpoint)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":    job.ID,
		"brand_key": job.BrandKey,
		"status":    job.Status,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.packager.Registry().Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStreamJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	ch, cancel, err := s.packager.Broadcaster().Subscribe(jobID)
	if errors.Is(err, packaging.ErrNoStream) {
		// Pipeline already finished or never existed; serve the registry
		// record as a single snapshot event if there is one.
		job, regErr := s.packager.Registry().Get(r.Context(), jobID)
		if errors.Is(regErr, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, regErr)
			return
		}
		if regErr != nil {
			writeError(w, http.StatusInternalServerError, regErr)
			return
		}
		ws, upErr := upgrader.Upgrade(w, r, nil)
		if upErr != nil {
			logging.Error("gateway", "ws upgrade failed", "error", upErr)
			return
		}
		defer ws.Close()
		writeEvent(ws, packaging.Event{
			JobID:       job.ID,
			Status:      job.Status,
			Message:     job.Progress,
			Source:      job.Source,
			DownloadURL: job.DownloadURL,
			SignedURL:   job.SignedURL,
			Error:       job.Error,
			Timestamp:   job.UpdatedAt,
		})
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	defer cancel()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("gateway", "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logging.Info("gateway", "stream attached", "job", jobID, "remote", r.RemoteAddr)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !writeEvent(ws, ev) {
				// Client went away; the pipeline keeps running.
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(ws *websocket.Conn, ev packaging.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.Error("gateway", "marshal event failed", "error", err)
		return true
	}
	return ws.WriteMessage(websocket.TextMessage, data) == nil
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	brandKey := r.PathValue("brand")
	key := packaging.PublishKey(brandKey)
	info, err := s.bucket.Stat(r.Context(), key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no published package for brand %s", brandKey))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := map[string]any{
		"brand_key":    brandKey,
		"key":          key,
		"size_bytes":   info.Size,
		"updated_at":   info.Updated,
		"download_url": s.bucket.URL(key),
	}
	if signedURL, err := s.bucket.SignedURL(key, s.signedURLTTL); err == nil {
		resp["signed_url"] = signedURL
	} else if !errors.Is(err, storage.ErrNoURLSigner) {
		logging.Error("gateway", "signed url unavailable", "brand", brandKey, "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	brandKey := r.PathValue("brand")
	err := s.bucket.Delete(r.Context(), packaging.PublishKey(brandKey))
	if errors.Is(err, storage.ErrObjectNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no published package for brand %s", brandKey))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	logging.Info("gateway", "package deleted", "brand", brandKey)
	w.WriteHeader(http.StatusNoContent)
}

// normalizeEndpoint coerces the optional endpoint to an absolute http(s)
// URL. Bare hosts get an https scheme; anything else is rejected before
// pipeline work starts.
func normalizeEndpoint(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("endpoint scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("endpoint url has no host")
	}
	return u.String(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("gateway", "encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards websocket hijacking support to the underlying writer when available.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacker not supported")
	}
	return hj.Hijack()
}

// Flush preserves streaming support if the wrapped writer implements it.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrumented wraps handlers to record request metrics.
func (s *Server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, fmt.Sprintf("%d", rec.status), time.Since(start).Seconds())
		}
	}
}
