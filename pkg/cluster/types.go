package cluster

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RouteState is the lifecycle state of a routed resource. It is stored as a
// number in the shared document.
type RouteState int

const (
	RouteInitializing RouteState = iota
	RouteStarted
	RouteClosed
)

func (s RouteState) String() string {
	switch s {
	case RouteInitializing:
		return "initializing"
	case RouteStarted:
		return "started"
	case RouteClosed:
		return "closed"
	default:
		return fmt.Sprintf("RouteState(%d)", int(s))
	}
}

// RoutingEntry records which node owns a resource. Type is free-form.
type RoutingEntry struct {
	Type  string     `json:"type"`
	Node  string     `json:"node"`
	State RouteState `json:"state"`
}

// RoutingTable maps resource ids to their routing entry.
type RoutingTable map[string]RoutingEntry

// LivenessRecord is one node's last heartbeat, in unix milliseconds.
type LivenessRecord struct {
	LastUpdate int64 `json:"lastUpdate"`
}

// NodeRegistry maps node ids to their liveness record.
type NodeRegistry map[string]LivenessRecord

// Clone returns a copy safe to hand to callers.
func (r NodeRegistry) Clone() NodeRegistry {
	out := make(NodeRegistry, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Document field names.
const (
	fieldNodes        = "nodes"
	fieldRoutingTable = "routing_table"
)

// DefaultDocumentID is where the cluster document lives unless configured.
const DefaultDocumentID = "proxy-resource-list"

// Config controls a Manager.
type Config struct {
	// DocumentID names the shared cluster document.
	DocumentID string
	// Logger receives lifecycle and eviction events. Defaults to the global
	// zerolog logger.
	Logger *zerolog.Logger
	// Metrics is optional; nil creates unregistered collectors.
	Metrics *Metrics
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

func (c Config) withDefaults() Config {
	if c.DocumentID == "" {
		c.DocumentID = DefaultDocumentID
	}
	if c.Logger == nil {
		l := log.Logger
		c.Logger = &l
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}
