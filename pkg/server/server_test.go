package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	client "clusterdoc/clients/go"
	"clusterdoc/config"
	"clusterdoc/pkg/cluster"
	"clusterdoc/pkg/docstore"
	"clusterdoc/storage"
)

// startServer runs a Server on an in-memory listener and returns a client
// connected to it.
func startServer(t *testing.T, st storage.Storage) (*Server, *client.Client) {
	t.Helper()

	srv := NewServer(config.GetDefaultConfig(), st, zerolog.Nop())
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	c, err := client.New("passthrough:///bufnet", &client.Options{
		Insecure:    true,
		CallTimeout: 5 * time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
		cancel()
		require.NoError(t, <-done)
	})
	return srv, c
}

func TestServerServesDocuments(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryKV()
	srv, c := startServer(t, st)

	require.NoError(t, c.Update(ctx, "doc", map[string]any{"a": 1}))
	require.NoError(t, c.Update(ctx, "doc", map[string]any{"b": "two"}))

	doc, err := c.Get(ctx, "doc")
	require.NoError(t, err)
	var a int
	var b string
	require.NoError(t, doc.Decode("a", &a))
	require.NoError(t, doc.Decode("b", &b))
	assert.Equal(t, 1, a)
	assert.Equal(t, "two", b)

	raw, found, err := st.Get(ctx, "doc")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"a":1,"b":"two"}`, string(raw))

	assert.NoError(t, srv.Health(ctx))
}

func TestServerHealthReportsStorageFailure(t *testing.T) {
	st := storage.NewMemoryKV()
	srv := NewServer(config.GetDefaultConfig(), st, zerolog.Nop())
	require.NoError(t, st.Close())

	assert.ErrorIs(t, srv.Health(context.Background()), storage.ErrClosed)
}

func TestManagersShareRemoteDocument(t *testing.T) {
	ctx := context.Background()
	srv, remote := startServer(t, storage.NewMemoryKV())

	nop := zerolog.Nop()
	a := cluster.NewManager(cluster.Config{Logger: &nop}, nil)
	b := cluster.NewManager(cluster.Config{Logger: &nop}, nil)
	require.NoError(t, a.Setup(remote))
	require.NoError(t, b.Setup(srv.Documents()))

	require.NoError(t, a.Start(ctx))
	require.NoError(t, a.AssignResource(ctx, "r1", "search", cluster.RouteStarted))
	require.NoError(t, b.Start(ctx))

	entry, ok := b.GetNodeForResource("r1")
	require.True(t, ok)
	assert.Equal(t, a.NodeID(), entry.Node)
	assert.Len(t, b.Nodes(), 2)

	require.NoError(t, a.Stop(ctx))
	require.NoError(t, b.Stop(ctx))

	doc, err := remote.Get(ctx, cluster.DefaultDocumentID)
	require.NoError(t, err)
	var nodes cluster.NodeRegistry
	require.NoError(t, doc.Decode("nodes", &nodes))
	assert.Empty(t, nodes)
}

func TestRemoteStoreUnavailable(t *testing.T) {
	c, err := client.New("passthrough:///nowhere", &client.Options{
		Insecure:    true,
		CallTimeout: 50 * time.Millisecond,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
				return nil, errors.New("refused")
			}),
		},
	})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(context.Background(), cluster.DefaultDocumentID)
	assert.ErrorIs(t, err, docstore.ErrUnavailable)
}

func getJSON(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestStatusHandlerWithoutManager(t *testing.T) {
	reg := prometheus.NewRegistry()
	cluster.NewMetrics(reg)
	h := NewStatusHandler(reg, nil, nil)

	code, body := getJSON(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clusterdoc_heartbeat_cycles_total")

	code, _ = getJSON(t, h, "/cluster/nodes")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatusHandlerHealthFailure(t *testing.T) {
	h := NewStatusHandler(nil, nil, func(context.Context) error { return errors.New("store down") })

	code, body := getJSON(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])
	assert.Equal(t, "store down", body["error"])
}

func TestStatusHandlerClusterViews(t *testing.T) {
	ctx := context.Background()
	nop := zerolog.Nop()
	m := cluster.NewManager(cluster.Config{Logger: &nop}, nil)
	require.NoError(t, m.Setup(docstore.NewKV(storage.NewMemoryKV())))
	require.NoError(t, m.AssignResource(ctx, "r2", "ingest", cluster.RouteInitializing))
	require.NoError(t, m.AssignResourceTo(ctx, "r1", "search", cluster.RouteStarted, "peer"))

	h := NewStatusHandler(nil, m, nil)

	code, body := getJSON(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, m.NodeID(), body["node_id"])
	assert.Equal(t, "idle", body["scheduler"])

	code, body = getJSON(t, h, "/cluster/nodes")
	assert.Equal(t, http.StatusOK, code)
	nodes := body["data"].([]any)
	require.Len(t, nodes, 1)
	assert.Equal(t, m.NodeID(), nodes[0].(map[string]any)["id"])
	assert.Equal(t, true, nodes[0].(map[string]any)["self"])

	code, body = getJSON(t, h, "/cluster/routes")
	assert.Equal(t, http.StatusOK, code)
	routes := body["data"].([]any)
	require.Len(t, routes, 2)
	assert.Equal(t, map[string]any{"resource": "r1", "type": "search", "node": "peer", "state": "started"}, routes[0])
	assert.Equal(t, "r2", routes[1].(map[string]any)["resource"])

	code, body = getJSON(t, h, "/cluster/routes/r2")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "initializing", body["data"].(map[string]any)["state"])

	code, _ = getJSON(t, h, "/cluster/routes/missing")
	assert.Equal(t, http.StatusNotFound, code)
}
