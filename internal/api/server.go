// Package api provides the HTTP server and handlers.
package api

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/drivecms/internal/auth"
	"github.com/fruitsalade/drivecms/internal/events"
	"github.com/fruitsalade/drivecms/internal/hierarchy"
	"github.com/fruitsalade/drivecms/internal/logging"
	"github.com/fruitsalade/drivecms/internal/metrics"
	"github.com/fruitsalade/drivecms/internal/routes"
	"github.com/fruitsalade/drivecms/internal/syncer"
	"github.com/fruitsalade/drivecms/pkg/models"
	"github.com/fruitsalade/drivecms/pkg/protocol"
	"github.com/fruitsalade/drivecms/pkg/tree"
)

// sseKeepAlive is the interval of comment lines that keep idle event
// streams open through proxies.
const sseKeepAlive = 25 * time.Second

// Pool gzip writers to reduce allocations on hierarchy responses.
var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// Server is the HTTP server.
type Server struct {
	svc         *hierarchy.Service
	auth        *auth.Auth
	broadcaster *events.Broadcaster
	maxAgeHours int
}

// NewServer creates a new server. maxAgeHours is the cleanup threshold
// used when a request does not name one.
func NewServer(svc *hierarchy.Service, authHandler *auth.Auth, broadcaster *events.Broadcaster, maxAgeHours int) *Server {
	return &Server{
		svc:         svc,
		auth:        authHandler,
		broadcaster: broadcaster,
		maxAgeHours: maxAgeHours,
	}
}

// Handler returns the HTTP handler with auth, logging and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/routes", s.handleListRoutes)
	mux.HandleFunc("GET /api/v1/hierarchy/{route...}", s.handleHierarchy)

	// SSE endpoint, any valid token
	mux.Handle("GET /api/v1/events", s.auth.Middleware(http.HandlerFunc(s.handleEvents)))

	// Admin endpoints
	admin := http.NewServeMux()
	admin.HandleFunc("PUT /api/v1/admin/routes", s.handleUpsertRoute)
	admin.HandleFunc("PATCH /api/v1/admin/routes/{route...}", s.handleUpdateRoute)
	admin.HandleFunc("DELETE /api/v1/admin/routes/{route...}", s.handleDeleteRoute)
	admin.HandleFunc("POST /api/v1/admin/toggle/{route...}", s.handleToggleRoute)
	admin.HandleFunc("POST /api/v1/admin/sync/{route...}", s.handleSync)
	admin.HandleFunc("POST /api/v1/admin/invalidate/{route...}", s.handleInvalidate)
	admin.HandleFunc("POST /api/v1/admin/invalidate-all", s.handleInvalidateAll)
	admin.HandleFunc("POST /api/v1/admin/cleanup", s.handleCleanup)
	mux.Handle("/api/v1/admin/", s.auth.RequireAdmin(admin))

	return logging.Middleware(metrics.RecordHTTPRequest)(mux)
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, r, http.StatusOK, protocol.HealthResponse{Status: "ok"})
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := s.broadcaster.SubscribeRoute(r.URL.Query().Get("route"))
	defer s.broadcaster.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping := time.NewTicker(sseKeepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// ─── Read path ──────────────────────────────────────────────────────────────

func (s *Server) handleHierarchy(w http.ResponseWriter, r *http.Request) {
	opts := hierarchy.ResolveOptions{ForceRefresh: queryBool(r, "refresh")}
	if v := r.URL.Query().Get("max_depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.sendError(w, http.StatusBadRequest, "max_depth must be a non-negative integer")
			return
		}
		opts.MaxDepth = n
	}

	res, err := s.svc.ResolveHierarchy(r.Context(), routeParam(r), opts)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}

	if res.Stats.Stale {
		w.Header().Set("X-Hierarchy-Stale", "true")
	}
	s.sendJSON(w, r, http.StatusOK, protocol.HierarchyResponse{
		Route:     res.Route,
		Hierarchy: res.Root,
		Staleness: res.Staleness,
		Stats:     protocol.HierarchyStats(res.Stats),
	})
}

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.svc.RouteStatuses(r.Context())
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	resp := protocol.RouteListResponse{Routes: make([]protocol.RouteStatus, 0, len(statuses))}
	for _, st := range statuses {
		row := protocol.RouteStatus{
			Route:        st.Route,
			Staleness:    st.Staleness,
			SyncState:    string(st.Sync.State),
			LastError:    st.Sync.LastError,
			Cached:       st.Cached,
			CacheBuiltAt: st.CacheBuiltAt,
			TotalItems:   st.TotalItems,
		}
		if !st.Route.LastUpdated.IsZero() {
			last := st.Route.LastUpdated
			row.LastSyncedAt = &last
		}
		resp.Routes = append(resp.Routes, row)
	}
	s.sendJSON(w, r, http.StatusOK, resp)
}

// ─── Admin ──────────────────────────────────────────────────────────────────

func (s *Server) handleUpsertRoute(w http.ResponseWriter, r *http.Request) {
	var req protocol.RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	route, err := s.svc.Registry().Upsert(r.Context(), &models.RouteConfig{
		Slug:           req.Slug,
		FolderIDs:      req.FolderIDs,
		Title:          req.Title,
		Subtitle:       req.Subtitle,
		Description:    req.Description,
		IsActive:       active,
		CustomSettings: req.CustomSettings,
	})
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, r, http.StatusOK, route)
}

func (s *Server) handleUpdateRoute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title          *string        `json:"title"`
		Subtitle       *string        `json:"subtitle"`
		Description    *string        `json:"description"`
		CustomSettings map[string]any `json:"custom_settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	route, err := s.svc.Registry().Update(r.Context(), routeParam(r), routes.Update{
		Title:          req.Title,
		Subtitle:       req.Subtitle,
		Description:    req.Description,
		CustomSettings: req.CustomSettings,
	})
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, r, http.StatusOK, route)
}

func (s *Server) handleDeleteRoute(w http.ResponseWriter, r *http.Request) {
	key := routeParam(r)
	if err := s.svc.Registry().Delete(r.Context(), key); err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	// A deleted route must not leave its tree behind.
	if _, err := s.svc.Invalidate(r.Context(), key, false); err != nil {
		logging.WithContext(r.Context()).Warn("cache cleanup after route delete failed", zap.String("route", key), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleRoute(w http.ResponseWriter, r *http.Request) {
	route, err := s.svc.Registry().Toggle(r.Context(), routeParam(r))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, r, http.StatusOK, route)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	route, err := s.svc.SyncNow(r.Context(), routeParam(r))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	root := route.Hierarchy
	cp := route.Clone()
	cp.Hierarchy = nil
	s.sendJSON(w, r, http.StatusOK, protocol.SyncResponse{
		Route:      cp,
		TotalItems: tree.CountNodes(root),
		MaxDepth:   tree.MaxDepth(root),
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	key := routes.NormalizeKey(routeParam(r))
	removed, err := s.svc.Invalidate(r.Context(), key, queryBool(r, "descendants"))
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, r, http.StatusOK, protocol.InvalidateResponse{Route: key, Removed: removed})
}

func (s *Server) handleInvalidateAll(w http.ResponseWriter, r *http.Request) {
	removed, err := s.svc.InvalidateAll(r.Context())
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, r, http.StatusOK, protocol.InvalidateResponse{Removed: removed})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	hours := s.maxAgeHours
	if v := r.URL.Query().Get("max_age_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendError(w, http.StatusBadRequest, "max_age_hours must be a positive integer")
			return
		}
		hours = n
	}
	removed, err := s.svc.CleanupExpired(r.Context(), hours)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, r, http.StatusOK, protocol.InvalidateResponse{Removed: removed})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func routeParam(r *http.Request) string {
	return routes.NormalizeKey(r.PathValue("route"))
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func acceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func (s *Server) sendJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if acceptsGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(code)
		gw := gzipPool.Get().(*gzip.Writer)
		gw.Reset(w)
		json.NewEncoder(gw).Encode(v)
		gw.Close()
		gzipPool.Put(gw)
		return
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendKindError(w, code, "", message)
}

func (s *Server) sendKindError(w http.ResponseWriter, code int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
		Kind:  kind,
	})
}

// sendServiceError maps domain errors to status codes.
func (s *Server) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *routes.ValidationError
	var serr *syncer.SyncError
	switch {
	case errors.Is(err, hierarchy.ErrRouteNotFound):
		s.sendKindError(w, http.StatusNotFound, "route_not_found", err.Error())
	case errors.Is(err, hierarchy.ErrRouteInactive):
		s.sendKindError(w, http.StatusNotFound, "route_inactive", err.Error())
	case errors.As(err, &verr):
		s.sendKindError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.As(err, &serr):
		code := syncStatus(serr.Kind)
		if code >= 500 {
			logging.WithContext(r.Context()).Error("sync failed", zap.String("route", serr.Route), zap.Error(err))
		}
		s.sendKindError(w, code, string(serr.Kind), err.Error())
	default:
		logging.WithContext(r.Context()).Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		s.sendKindError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func syncStatus(kind syncer.Kind) int {
	switch kind {
	case syncer.KindNotFound:
		return http.StatusNotFound
	case syncer.KindPermissionDenied:
		return http.StatusForbidden
	case syncer.KindRateLimited:
		return http.StatusTooManyRequests
	case syncer.KindUnavailable:
		return http.StatusServiceUnavailable
	case syncer.KindTimeout:
		return http.StatusGatewayTimeout
	case syncer.KindAlreadySyncing:
		return http.StatusConflict
	case syncer.KindConfiguration:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
