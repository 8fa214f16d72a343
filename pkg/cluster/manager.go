package cluster

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clusterdoc/config"
	"clusterdoc/pkg/docstore"
)

// Defaults that apply until Setup reads the configuration source.
const (
	defaultHeartbeatPeriod = 5 * time.Second
	defaultStaleTimeout    = 15 * time.Second
)

// Manager tracks fleet membership and the resource routing table through one
// shared cluster document.
//
// Every write is fetch, modify, persist with no compare-and-swap: concurrent
// writers, whether peers or this node's own heartbeat racing an assign, can
// overwrite each other and the last write wins.
type Manager struct {
	id      string
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics
	src     config.Source
	routes  *RouteCache
	sched   *Scheduler

	heartbeatPeriod atomic.Int64
	staleTimeout    atomic.Int64

	mu      sync.RWMutex
	store   docstore.Store
	unwatch func()
	nodes   NodeRegistry
	stopped bool
}

// NewManager creates a manager with a fresh node id. src supplies the
// heartbeat period and stale timeout once Setup is called.
func NewManager(cfg Config, src config.Source) *Manager {
	cfg = cfg.withDefaults()
	if src == nil {
		src = config.NewStaticSource(config.GetDefaultConfig().Cluster.Tunables())
	}

	m := &Manager{
		id:      uuid.NewString(),
		cfg:     cfg,
		metrics: cfg.Metrics,
		src:     src,
		routes:  NewRouteCache(),
		nodes:   make(NodeRegistry),
	}
	m.log = cfg.Logger.With().Str("node_id", m.id).Logger()
	m.heartbeatPeriod.Store(int64(defaultHeartbeatPeriod))
	m.staleTimeout.Store(int64(defaultStaleTimeout))
	m.sched = NewScheduler(m.heartbeat, m.HeartbeatPeriod, m.log)
	return m
}

// NodeID is this process's identity among its peers.
func (m *Manager) NodeID() string { return m.id }

// Setup binds the document store and subscribes to configuration changes.
// The current configuration is applied before Setup returns.
func (m *Manager) Setup(store docstore.Store) error {
	if store == nil {
		return ErrNotInitialized
	}

	m.mu.Lock()
	if m.unwatch != nil {
		m.unwatch()
	}
	m.store = store
	m.unwatch = m.src.Watch(m.setConfig)
	m.mu.Unlock()

	m.setConfig(m.src.Current())
	m.log.Info().
		Str("document", m.cfg.DocumentID).
		Dur("heartbeat_period", m.HeartbeatPeriod()).
		Dur("stale_timeout", m.StaleTimeout()).
		Msg("Cluster manager set up")
	return nil
}

func (m *Manager) setConfig(t config.Tunables) {
	if t.HeartbeatPeriod > 0 {
		m.heartbeatPeriod.Store(int64(t.HeartbeatPeriod))
	}
	if t.StaleTimeout > 0 {
		m.staleTimeout.Store(int64(t.StaleTimeout))
	}
	m.log.Debug().
		Dur("heartbeat_period", t.HeartbeatPeriod).
		Dur("stale_timeout", t.StaleTimeout).
		Msg("Applied cluster tunables")
}

// HeartbeatPeriod is the interval between scheduled cycles.
func (m *Manager) HeartbeatPeriod() time.Duration {
	return time.Duration(m.heartbeatPeriod.Load())
}

// StaleTimeout is how long a node may go without heartbeating.
func (m *Manager) StaleTimeout() time.Duration {
	return time.Duration(m.staleTimeout.Load())
}

// SchedulerState reports the heartbeat schedule state.
func (m *Manager) SchedulerState() SchedulerState { return m.sched.State() }

// Start runs a heartbeat cycle right away and then keeps running one every
// heartbeat period. If the immediate cycle fails nothing is scheduled. Start
// is a no-op while a schedule is active.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	stopped := m.stopped
	m.mu.RUnlock()
	if stopped {
		return ErrStopped
	}
	if m.sched.Active() {
		return nil
	}

	if err := m.heartbeat(ctx); err != nil {
		return err
	}
	if m.sched.Start() {
		m.log.Info().Dur("heartbeat_period", m.HeartbeatPeriod()).Msg("Heartbeat schedule started")
	}
	return nil
}

// Stop cancels the pending cycle, drops stale nodes one last time, removes
// this node from the document, and releases the configuration subscription.
// An in-flight cycle is allowed to finish first.
//
// Stop also deletes every routing entry this node owns. Leaving only the
// registry entry behind would strand those routes: with this node gone from
// the registry, no peer's eviction pass would ever remove them.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	unwatch := m.unwatch
	m.unwatch = nil
	m.mu.Unlock()

	defer func() {
		if unwatch != nil {
			unwatch()
		}
	}()

	m.sched.Stop()

	store, err := m.boundStore()
	if err != nil {
		return err
	}
	nodes, err := m.fetch(ctx, store)
	if err != nil {
		return err
	}
	m.evictStale(nodes, m.cfg.Clock())
	delete(nodes, m.id)
	released := m.routes.RemoveOwnedBy(m.id)

	if err := m.persist(ctx, store, nodes); err != nil {
		return err
	}
	m.log.Info().Int("routes_released", released).Msg("Left cluster")
	return nil
}

// GetRoutingTable yields the locally cached routing table. It does no I/O and
// can be ranged over any number of times.
func (m *Manager) GetRoutingTable() iter.Seq2[string, RoutingEntry] {
	return m.routes.All()
}

// GetNodeForResource looks up resource in the local cache.
func (m *Manager) GetNodeForResource(resource string) (RoutingEntry, bool) {
	return m.routes.Get(resource)
}

// Nodes returns the node registry as this manager last persisted it.
func (m *Manager) Nodes() NodeRegistry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nodes.Clone()
}

// AssignResource routes resource to this node.
func (m *Manager) AssignResource(ctx context.Context, resource, typ string, state RouteState) error {
	return m.AssignResourceTo(ctx, resource, typ, state, m.id)
}

// AssignResourceTo routes resource to node, or to this node when node is
// empty. The document is fetched first so the write carries the latest
// routing table; it returns once the document has been persisted.
func (m *Manager) AssignResourceTo(ctx context.Context, resource, typ string, state RouteState, node string) error {
	if node == "" {
		node = m.id
	}
	err := m.mutate(ctx, func() {
		m.routes.Set(resource, RoutingEntry{Type: typ, Node: node, State: state})
	})
	m.record("assign", err)
	if err != nil {
		return err
	}
	m.log.Debug().
		Str("resource", resource).
		Str("type", typ).
		Str("owner", node).
		Stringer("state", state).
		Msg("Resource assigned")
	return nil
}

// UnassignResource removes resource from the routing table. Removing an
// unknown resource is not an error.
func (m *Manager) UnassignResource(ctx context.Context, resource string) error {
	err := m.mutate(ctx, func() {
		m.routes.Delete(resource)
	})
	m.record("unassign", err)
	if err != nil {
		return err
	}
	m.log.Debug().Str("resource", resource).Msg("Resource unassigned")
	return nil
}

func (m *Manager) record(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.metrics.Assignments.WithLabelValues(op, result).Inc()
}

// mutate is the fetch, apply, stamp, persist sequence behind assign and
// unassign. It does not evict.
func (m *Manager) mutate(ctx context.Context, apply func()) error {
	store, err := m.boundStore()
	if err != nil {
		return err
	}
	nodes, err := m.fetch(ctx, store)
	if err != nil {
		return err
	}
	apply()
	m.stampSelf(nodes, m.cfg.Clock())
	return m.persist(ctx, store, nodes)
}

// heartbeat is one cycle: fetch, evict stale nodes, stamp self, persist.
func (m *Manager) heartbeat(ctx context.Context) error {
	start := time.Now()
	err := m.cycle(ctx)
	if err != nil {
		m.metrics.CycleFailures.Inc()
		m.log.Error().Err(err).Msg("Heartbeat cycle failed")
		return err
	}
	m.metrics.Cycles.Inc()
	m.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (m *Manager) cycle(ctx context.Context) error {
	store, err := m.boundStore()
	if err != nil {
		return err
	}
	nodes, err := m.fetch(ctx, store)
	if err != nil {
		return err
	}
	now := m.cfg.Clock()
	m.evictStale(nodes, now)
	m.stampSelf(nodes, now)
	return m.persist(ctx, store, nodes)
}

func (m *Manager) boundStore() (docstore.Store, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.store == nil {
		return nil, ErrNotInitialized
	}
	return m.store, nil
}

// fetch reads the cluster document, replaces the local routing table with
// the stored one and returns the node registry.
func (m *Manager) fetch(ctx context.Context, store docstore.Store) (NodeRegistry, error) {
	doc, err := store.Get(ctx, m.cfg.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("fetch cluster document: %w", unavailable(err))
	}

	var nodes NodeRegistry
	if err := doc.Decode(fieldNodes, &nodes); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrStoreUnavailable, fieldNodes, err)
	}
	var routes RoutingTable
	if err := doc.Decode(fieldRoutingTable, &routes); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrStoreUnavailable, fieldRoutingTable, err)
	}
	if nodes == nil {
		nodes = make(NodeRegistry)
	}

	m.routes.Merge(routes)
	return nodes, nil
}

// persist writes nodes together with the local routing table.
func (m *Manager) persist(ctx context.Context, store docstore.Store, nodes NodeRegistry) error {
	err := store.Update(ctx, m.cfg.DocumentID, map[string]any{
		fieldNodes:        nodes,
		fieldRoutingTable: m.routes.Snapshot(),
	})
	if err != nil {
		return fmt.Errorf("persist cluster document: %w", unavailable(err))
	}

	m.mu.Lock()
	m.nodes = nodes.Clone()
	m.mu.Unlock()
	m.metrics.LiveNodes.Set(float64(len(nodes)))
	m.metrics.Routes.Set(float64(m.routes.Len()))
	return nil
}

// evictStale drops every node whose last heartbeat is older than the stale
// timeout, along with the routes it owns. This node's own entry is checked
// like any other, so a node that stalled past the timeout loses its routes
// before it restamps itself.
func (m *Manager) evictStale(nodes NodeRegistry, now time.Time) {
	limit := m.StaleTimeout().Milliseconds()
	nowMs := now.UnixMilli()
	for id, rec := range nodes {
		silent := nowMs - rec.LastUpdate
		if silent <= limit {
			continue
		}
		dropped := m.routes.RemoveOwnedBy(id)
		delete(nodes, id)
		m.metrics.Evictions.Inc()
		m.log.Warn().
			Str("node", id).
			Int64("silent_ms", silent).
			Int("routes_dropped", dropped).
			Msg("Node has not heartbeated in time and has been dropped")
	}
}

// stampSelf records this node's heartbeat. The stamp never goes backwards
// or repeats, even if the clock does.
func (m *Manager) stampSelf(nodes NodeRegistry, now time.Time) {
	ts := now.UnixMilli()
	if prev, ok := nodes[m.id]; ok && ts <= prev.LastUpdate {
		ts = prev.LastUpdate + 1
	}
	nodes[m.id] = LivenessRecord{LastUpdate: ts}
}

func unavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
