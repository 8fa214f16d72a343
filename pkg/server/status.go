package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"clusterdoc/pkg/cluster"
)

// HealthFunc reports whether a dependency is usable.
type HealthFunc func(ctx context.Context) error

// NodeView is one registry entry as served on /cluster/nodes.
type NodeView struct {
	ID         string `json:"id"`
	LastUpdate int64  `json:"lastUpdate"`
	Self       bool   `json:"self,omitempty"`
}

// RouteView is one routing entry as served on /cluster/routes.
type RouteView struct {
	Resource string `json:"resource"`
	Type     string `json:"type"`
	Node     string `json:"node"`
	State    string `json:"state"`
}

type statusHandlers struct {
	mgr    *cluster.Manager
	health HealthFunc
}

// NewStatusHandler serves /healthz and /metrics. With a manager it also
// serves its view of the cluster, read only, under /cluster.
func NewStatusHandler(gatherer prometheus.Gatherer, mgr *cluster.Manager, health HealthFunc) http.Handler {
	h := &statusHandlers{mgr: mgr, health: health}

	r := chi.NewRouter()
	r.Get("/healthz", h.handleHealth)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	if mgr != nil {
		r.Route("/cluster", func(r chi.Router) {
			r.Get("/nodes", h.handleNodes)
			r.Get("/routes", h.handleRoutes)
			r.Get("/routes/{resource}", h.handleRoute)
		})
	}
	return r
}

func (h *statusHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.mgr != nil {
		resp["node_id"] = h.mgr.NodeID()
		resp["scheduler"] = h.mgr.SchedulerState().String()
	}
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			resp["status"] = "unavailable"
			resp["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *statusHandlers) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes := h.mgr.Nodes()
	out := make([]NodeView, 0, len(nodes))
	for id, rec := range nodes {
		out = append(out, NodeView{ID: id, LastUpdate: rec.LastUpdate, Self: id == h.mgr.NodeID()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *statusHandlers) handleRoutes(w http.ResponseWriter, r *http.Request) {
	out := make([]RouteView, 0)
	for id, entry := range h.mgr.GetRoutingTable() {
		out = append(out, routeView(id, entry))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *statusHandlers) handleRoute(w http.ResponseWriter, r *http.Request) {
	resource := chi.URLParam(r, "resource")
	entry, ok := h.mgr.GetNodeForResource(resource)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "resource is not routed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": routeView(resource, entry)})
}

func routeView(id string, e cluster.RoutingEntry) RouteView {
	return RouteView{Resource: id, Type: e.Type, Node: e.Node, State: e.State.String()}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode status response")
	}
}

// ListenStatus serves h on addr until ctx is done.
func ListenStatus(ctx context.Context, addr string, h http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Status endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
