package remote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/danielpatrickdp/adaptive-mcmc/internal/state"
)

// #region client-struct
// Client evaluates a likelihood held by a remote service. It sends the
// current values of its bound items on every evaluation, so wrap it with
// posterior.Model.AddExternal to call it only when those items changed.
type Client struct {
	cfg   Config
	conn  *grpc.ClientConn
	cc    grpc.ClientConnInterface
	items []state.Stateful
}

// #endregion client-struct

// #region constructor
// NewClient connects to cfg.Addr and binds the items whose values are sent.
func NewClient(cfg Config, items []state.Stateful, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", cfg.Addr, err)
	}
	return &Client{cfg: cfg, conn: conn, cc: conn, items: items}, nil
}

// NewClientWithConn creates a Client over an existing connection.
func NewClientWithConn(cc grpc.ClientConnInterface, cfg Config, items []state.Stateful) *Client {
	return &Client{cfg: cfg, cc: cc, items: items}
}

// Close shuts down the connection the client opened.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion constructor

// #region evaluate
// Evaluate sends the bound items' values and returns the log likelihood.
func (c *Client) Evaluate(ctx context.Context) (float64, error) {
	values := make(map[string][]float64, len(c.items))
	for _, it := range c.items {
		values[it.ID()] = it.Snapshot()
	}
	req := encodeValues(values)
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	resp := new(wrapperspb.DoubleValue)
	if err := c.cc.Invoke(ctx, fullMethod, req, resp); err != nil {
		return 0, fmt.Errorf("log likelihood rpc: %w", err)
	}
	return resp.GetValue(), nil
}

// #endregion evaluate
