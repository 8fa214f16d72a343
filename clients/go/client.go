package client

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"clusterdoc/pkg/docstore"
)

// Client talks to a clusterdoc document server. It satisfies docstore.Store,
// so a coordinator can use it directly as its shared store.
type Client struct {
	conn    *grpc.ClientConn
	docs    *docstore.Client
	timeout time.Duration
}

// Options control Client behavior.
type Options struct {
	// CallTimeout bounds each call that arrives without a deadline. Zero, the
	// default, leaves such calls unbounded, so a hung server stalls the
	// caller's heartbeat cycle until it answers.
	CallTimeout time.Duration
	// Insecure skips TLS (default true for local dev).
	Insecure bool
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
}

// New connects lazily to the server at address (host:port).
func New(address string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{Insecure: true}
	}
	var dialOpts []grpc.DialOption
	if opts.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	dialOpts = append(dialOpts, opts.DialOptions...)

	conn, err := grpc.NewClient(address, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:    conn,
		docs:    docstore.NewClient(conn),
		timeout: opts.CallTimeout,
	}, nil
}

func (c *Client) Get(ctx context.Context, id string) (docstore.Source, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.docs.Get(ctx, id)
}

func (c *Client) Update(ctx context.Context, id string, fields map[string]any) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.docs.Update(ctx, id, fields)
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }
