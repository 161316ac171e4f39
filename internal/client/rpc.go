package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/toolguard/internal/hooks"
	"github.com/charmbracelet/toolguard/internal/proto"
	"github.com/charmbracelet/toolguard/internal/pubsub"
	"github.com/charmbracelet/toolguard/internal/server"
	"github.com/sourcegraph/jsonrpc2"
)

// RPC is a JSON-RPC client for a server reached over a stream, such as the
// stdio of a `toolguard serve --stdio` process.
type RPC struct {
	conn *jsonrpc2.Conn

	mu     sync.Mutex
	events chan pubsub.Event[hooks.Event]
}

// NewRPC starts a JSON-RPC client on rwc. Closing the client closes rwc.
func NewRPC(ctx context.Context, rwc io.ReadWriteCloser) *RPC {
	c := &RPC{events: make(chan pubsub.Event[hooks.Event], 100)}
	c.conn = jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}), jsonrpc2.HandlerWithError(c.handle))
	go func() {
		<-c.conn.DisconnectNotify()
		c.mu.Lock()
		defer c.mu.Unlock()
		close(c.events)
		c.events = nil
	}()
	return c
}

// handle receives server notifications.
func (c *RPC) handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	if req.Method != server.MethodEvent || req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
	var ev pubsub.Event[hooks.Event]
	if err := json.Unmarshal(*req.Params, &ev); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events != nil {
		select {
		case c.events <- ev:
		default:
		}
	}
	return nil, nil
}

// Close closes the connection.
func (c *RPC) Close() error {
	err := c.conn.Close()
	<-c.conn.DisconnectNotify()
	if errors.Is(err, jsonrpc2.ErrClosed) {
		return nil
	}
	return err
}

// Info returns information about the server.
func (c *RPC) Info(ctx context.Context) (*proto.ServerInfo, error) {
	var info proto.ServerInfo
	if err := c.call(ctx, server.MethodInfo, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// List returns the server's hook registry in table order.
func (c *RPC) List(ctx context.Context) ([]hooks.PatternHooks, error) {
	var list []hooks.PatternHooks
	if err := c.call(ctx, server.MethodList, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Find returns the hooks that would run for key.
func (c *RPC) Find(ctx context.Context, key string) ([]hooks.Definition, error) {
	var defs []hooks.Definition
	if err := c.call(ctx, server.MethodFind, proto.FindRequest{Key: key}, &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// Before runs the before-chain for tool. A rejection is returned as a
// *hooks.RejectionError.
func (c *RPC) Before(ctx context.Context, tool string, params, hookCtx json.RawMessage) (json.RawMessage, error) {
	return c.chain(ctx, server.MethodBefore, proto.ChainRequest{Tool: tool, Data: params, Context: hookCtx})
}

// After runs the after-chain for tool.
func (c *RPC) After(ctx context.Context, tool string, response, hookCtx json.RawMessage) (json.RawMessage, error) {
	return c.chain(ctx, server.MethodAfter, proto.ChainRequest{Tool: tool, Data: response, Context: hookCtx})
}

// Execute runs one registered hook by name.
func (c *RPC) Execute(ctx context.Context, req proto.ExecuteRequest) (*hooks.Result, error) {
	var res hooks.Result
	if err := c.call(ctx, server.MethodExecute, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Subscribe asks the server to forward hook events and returns the channel
// they arrive on. The channel is closed when the connection ends.
func (c *RPC) Subscribe(ctx context.Context) (<-chan pubsub.Event[hooks.Event], error) {
	c.mu.Lock()
	events := c.events
	c.mu.Unlock()
	if events == nil {
		return nil, jsonrpc2.ErrClosed
	}

	var ok bool
	if err := c.call(ctx, server.MethodSubscribe, nil, &ok); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *RPC) chain(ctx context.Context, method string, req proto.ChainRequest) (json.RawMessage, error) {
	var rsp proto.ChainResponse
	if err := c.call(ctx, method, req, &rsp); err != nil {
		return nil, err
	}
	return rsp.Data, nil
}

func (c *RPC) call(ctx context.Context, method string, params, result any) error {
	err := c.conn.Call(ctx, method, params, result)
	var rpcErr *jsonrpc2.Error
	if !errors.As(err, &rpcErr) {
		if err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		return nil
	}
	if rpcErr.Code == proto.CodeRejected && rpcErr.Data != nil {
		var rej proto.Rejection
		if json.Unmarshal(*rpcErr.Data, &rej) == nil {
			return rej.Err()
		}
	}
	return fmt.Errorf("%s: %w", method, rpcErr)
}
