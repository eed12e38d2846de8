package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/configmat/configmat/internal/domain"
	"github.com/configmat/configmat/internal/events"
	"github.com/configmat/configmat/internal/service/assets"
	"github.com/configmat/configmat/internal/service/audit"
	"github.com/configmat/configmat/internal/service/promotion"
	"github.com/configmat/configmat/internal/service/resolve"
	"github.com/configmat/configmat/internal/service/values"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	assets    assets.Service
	values    values.Service
	resolver  resolve.Service
	promotion promotion.Service
	audit     *audit.Service
	hub       *events.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	dbHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitRead      = 240
	rateLimitWrite     = 60
	rateLimitResolve   = 600
	rateLimitStream    = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 25 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, assetSvc assets.Service, valueSvc values.Service, resolveSvc resolve.Service, promoSvc promotion.Service, auditSvc *audit.Service, hub *events.Hub, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		assets:    assetSvc,
		values:    valueSvc,
		resolver:  resolveSvc,
		promotion: promoSvc,
		audit:     auditSvc,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.observe("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/assets", r.observe("/assets", r.handlerScopedRate("/assets", rateLimitWrite, rateWindowDefault, r.handleAssets)))
	r.mux.HandleFunc("/assets/", r.observe("/assets/", r.handlerScopedRate("/assets/", rateLimitWrite, rateWindowDefault, r.handleAssetSubroutes)))
	r.mux.HandleFunc("/resolve/", r.observe("/resolve/", r.handlerScopedRate("/resolve/", rateLimitResolve, rateWindowDefault, r.handleResolve)))
	r.mux.HandleFunc("/rollback", r.observe("/rollback", r.handlerScopedRate("/rollback", rateLimitWrite, rateWindowDefault, r.handleRollback)))
	r.mux.HandleFunc("/audit", r.observe("/audit", r.handlerScopedRate("/audit", rateLimitRead, rateWindowDefault, r.handleAudit)))
	r.mux.HandleFunc("/audit/verify", r.observe("/audit/verify", r.handlerScopedRate("/audit/verify", rateLimitRead, rateWindowDefault, r.handleAuditVerify)))
	r.mux.HandleFunc("/ws/events", r.observe("/ws/events", r.handlerScopedRate("/ws/events", rateLimitStream, rateWindowRealtime, r.handleEventsWS)))
	r.mux.HandleFunc("/sse/events", r.observe("/sse/events", r.handlerScopedRate("/sse/events", rateLimitStream, rateWindowRealtime, r.handleEventsSSE)))
}

func (r *Router) handleAssets(w http.ResponseWriter, req *http.Request) {
	scope, ok := scopeFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "tenant identification required")
		return
	}
	switch req.Method {
	case http.MethodGet:
		list, err := r.assets.ListAssets(req.Context(), scope)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"assets": assetsJSON(list)})
	case http.MethodPost:
		var payload struct {
			Name        string `json:"name"`
			Slug        string `json:"slug"`
			Description string `json:"description"`
			ContextType string `json:"context_type"`
			Context     string `json:"context"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		asset, err := r.assets.CreateAsset(req.Context(), scope, assets.CreateAssetInput{
			Name:        payload.Name,
			Slug:        payload.Slug,
			Description: payload.Description,
			ContextType: payload.ContextType,
			Context:     payload.Context,
		})
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, assetJSON(*asset))
	default:
		r.methodNotAllowed(w)
	}
}

// handleAssetSubroutes dispatches /assets/{slug}[/...] paths.
func (r *Router) handleAssetSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/assets/")
	if trimmed == "" {
		r.notFound(w)
		return
	}
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	switch {
	case len(parts) == 1:
		r.handleAsset(w, req, parts[0])
	case len(parts) == 2 && parts[1] == "objects":
		r.handleObjects(w, req, parts[0])
	case len(parts) == 2 && parts[1] == "promote":
		r.handlePromote(w, req, parts[0])
	case len(parts) == 4 && parts[1] == "objects" && parts[3] == "values":
		r.handleValues(w, req, parts[0], parts[2])
	case len(parts) == 4 && parts[1] == "objects" && parts[3] == "versions":
		r.handleVersions(w, req, parts[0], parts[2])
	default:
		r.notFound(w)
	}
}

func (r *Router) handleAsset(w http.ResponseWriter, req *http.Request, slug string) {
	scope, ok := scopeFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "tenant identification required")
		return
	}
	switch req.Method {
	case http.MethodGet:
		asset, err := r.assets.GetAsset(req.Context(), scope, slug)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, assetJSON(*asset))
	case http.MethodDelete:
		if err := r.assets.DeleteAsset(req.Context(), scope, slug); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleObjects(w http.ResponseWriter, req *http.Request, slug string) {
	scope, ok := scopeFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "tenant identification required")
		return
	}
	switch req.Method {
	case http.MethodGet:
		objects, err := r.assets.ListObjects(req.Context(), scope, slug)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"objects": objectsJSON(objects)})
	case http.MethodPost:
		var payload struct {
			Name        string `json:"name"`
			Kind        string `json:"kind"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		object, err := r.assets.CreateObject(req.Context(), scope, slug, assets.CreateObjectInput{
			Name:        payload.Name,
			Kind:        payload.Kind,
			Description: payload.Description,
		})
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, objectJSON(*object))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleValues(w http.ResponseWriter, req *http.Request, slug, objectName string) {
	scope, ok := scopeFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "tenant identification required")
		return
	}
	switch req.Method {
	case http.MethodGet:
		environment := req.URL.Query().Get("env")
		if environment == "" {
			writeError(w, http.StatusBadRequest, "env query parameter required")
			return
		}
		list, err := r.values.List(req.Context(), scope, slug, environment, objectName)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"values": valuesJSON(list)})
	case http.MethodPut, http.MethodPost:
		var payload struct {
			Environment string          `json:"environment"`
			Key         string          `json:"key"`
			ValueType   string          `json:"value_type"`
			ValueString *string         `json:"value_string"`
			ValueJSON   json.RawMessage `json:"value_json"`
			ReferenceID *string         `json:"reference_id"`
			Secret      *string         `json:"secret"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		value, err := r.values.Put(req.Context(), scope, slug, payload.Environment, objectName, values.Input{
			Key:       payload.Key,
			Type:      valueTypeOf(payload.ValueType),
			String:    payload.ValueString,
			JSON:      payload.ValueJSON,
			Reference: payload.ReferenceID,
			Secret:    payload.Secret,
		})
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, valueJSON(*value))
	case http.MethodDelete:
		var payload struct {
			Environment string   `json:"environment"`
			Keys        []string `json:"keys"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := r.values.Delete(req.Context(), scope, slug, payload.Environment, objectName, payload.Keys); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleVersions(w http.ResponseWriter, req *http.Request, slug, objectName string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	scope, ok := scopeFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "tenant identification required")
		return
	}
	environment := req.URL.Query().Get("env")
	if environment == "" {
		writeError(w, http.StatusBadRequest, "env query parameter required")
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	versions, err := r.promotion.History(req.Context(), scope, slug, objectName, environment, limit)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versionsJSON(versions)})
}

func (r *Router) handlePromote(w http.ResponseWriter, req *http.Request, slug string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	scope, ok := scopeFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "tenant identification required")
		return
	}
	var payload struct {
		FromEnv string `json:"from_env"`
		ToEnv   string `json:"to_env"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.promotion.Promote(req.Context(), scope, slug, payload.FromEnv, payload.ToEnv)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset_id": result.AssetID,
		"from_env": result.FromEnv,
		"to_env":   result.ToEnv,
		"objects":  result.Objects,
		"versions": versionsJSON(result.Versions),
	})
}

func (r *Router) handleRollback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	scope, ok := scopeFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "tenant identification required")
		return
	}
	var payload struct {
		VersionID string `json:"version_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	version, err := r.promotion.Rollback(req.Context(), scope, payload.VersionID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, versionJSON(*version))
}

// handleResolve dispatches /resolve/{slug}/{env} and
// /resolve/{slug}/{env}/{object}/{key}.
func (r *Router) handleResolve(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	scope, ok := scopeFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "tenant identification required")
		return
	}
	trimmed := strings.TrimPrefix(req.URL.Path, "/resolve/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")

	var (
		payload json.RawMessage
		err     error
	)
	switch len(parts) {
	case 2:
		payload, err = r.resolver.Resolve(req.Context(), scope, parts[0], parts[1])
	case 4:
		payload, err = r.resolver.ResolveOne(req.Context(), scope, parts[0], parts[1], parts[2], parts[3])
	default:
		r.notFound(w)
		return
	}
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (r *Router) handleAudit(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	scope, ok := scopeFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "tenant identification required")
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(req.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	entries, err := r.audit.List(req.Context(), scope, limit, offset)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": auditEntriesJSON(entries)})
}

func (r *Router) handleAuditVerify(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	scope, ok := scopeFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "tenant identification required")
		return
	}
	result, err := r.audit.Verify(req.Context(), scope)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	scope, ok := scopeFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "tenant identification required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := events.NewClient(conn, r.logger)
	r.hub.Register(scope.TenantID, client)
	go func() {
		defer func() {
			r.hub.Unregister(scope.TenantID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleEventsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	scope, ok := scopeFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "tenant identification required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := events.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(scope.TenantID, client)
	defer func() {
		r.hub.Unregister(scope.TenantID, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// observe wraps a handler with access logging and request metrics.
func (r *Router) observe(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if scope, ok := scopeFromContext(ctx); ok {
			fields = append(fields, "tenant_id", scope.TenantID)
			if scope.ActorID != "" {
				fields = append(fields, "actor_id", scope.ActorID)
			}
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func valueTypeOf(raw string) domain.ValueType {
	return domain.ValueType(strings.ToLower(strings.TrimSpace(raw)))
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
