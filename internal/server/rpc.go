package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/toolguard/internal/hooks"
	"github.com/charmbracelet/toolguard/internal/log"
	"github.com/charmbracelet/toolguard/internal/proto"
	"github.com/charmbracelet/toolguard/internal/pubsub"
	"github.com/charmbracelet/toolguard/internal/version"
	"github.com/sourcegraph/jsonrpc2"
)

// JSON-RPC method names.
const (
	MethodInfo      = "server.info"
	MethodBefore    = "hooks.before"
	MethodAfter     = "hooks.after"
	MethodFind      = "hooks.find"
	MethodExecute   = "hooks.execute"
	MethodList      = "hooks.list"
	MethodSubscribe = "hooks.subscribe"
	// MethodEvent is the notification sent to subscribed connections.
	MethodEvent = "hooks.event"
)

// ServeConn serves JSON-RPC 2.0 on rwc, framed with Content-Length headers,
// until the peer disconnects or ctx is done. Requests on one connection are
// handled concurrently.
func (s *Server) ServeConn(ctx context.Context, rwc io.ReadWriteCloser) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h := &rpcHandler{Server: s, ctx: ctx}
	conn := jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{}), h)

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-s.done:
		err = ErrServerClosed
	case <-conn.DisconnectNotify():
	}

	_ = conn.Close()
	cancel()
	<-conn.DisconnectNotify()
	h.wg.Wait()
	return err
}

// rpcHandler serves one connection.
type rpcHandler struct {
	*Server
	ctx        context.Context
	wg         sync.WaitGroup
	subscribed atomic.Bool
}

func (h *rpcHandler) Handle(_ context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.wg.Go(func() {
		defer log.RecoverPanic("rpc."+req.Method, nil)
		jsonrpc2.HandlerWithError(h.handle).SuppressErrClosed().Handle(h.ctx, conn, req)
	})
}

func (h *rpcHandler) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	h.logger.Debug("RPC request", slog.String("method", req.Method), slog.Bool("notification", req.Notif))

	switch req.Method {
	case MethodInfo:
		return proto.ServerInfo{Version: version.Version, Patterns: len(h.mgr.Patterns())}, nil

	case MethodList:
		return h.mgr.Hooks(), nil

	case MethodFind:
		var args proto.FindRequest
		if err := params(req, &args); err != nil {
			return nil, err
		}
		found := h.mgr.FindHooks(args.Key)
		if found == nil {
			found = []hooks.Definition{}
		}
		return found, nil

	case MethodBefore, MethodAfter:
		var args proto.ChainRequest
		if err := params(req, &args); err != nil {
			return nil, err
		}
		if args.Tool == "" {
			return nil, invalidParams("tool is required")
		}
		run := h.mgr.ExecuteBeforeHooks
		if req.Method == MethodAfter {
			run = h.mgr.ExecuteAfterHooks
		}
		data, err := run(ctx, args.Tool, args.Data, args.Context)
		var rejected *hooks.RejectionError
		switch {
		case errors.As(err, &rejected):
			e := &jsonrpc2.Error{Code: proto.CodeRejected, Message: rejected.Error()}
			e.SetError(proto.NewRejection(rejected))
			return nil, e
		case err != nil:
			return nil, invalidParams(err.Error())
		}
		return proto.ChainResponse{Data: data}, nil

	case MethodExecute:
		var args proto.ExecuteRequest
		if err := params(req, &args); err != nil {
			return nil, err
		}
		res, err := execute(ctx, h.mgr, args)
		if err != nil {
			return nil, invalidParams(err.Error())
		}
		return res, nil

	case MethodSubscribe:
		if h.events == nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "events are not enabled"}
		}
		if h.subscribed.CompareAndSwap(false, true) {
			events := h.events.Subscribe(h.ctx)
			h.wg.Go(func() { h.forward(conn, events) })
		}
		return true, nil
	}

	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found: " + req.Method}
}

// forward sends hook events to the peer as notifications until the
// connection ends.
func (h *rpcHandler) forward(conn *jsonrpc2.Conn, events <-chan pubsub.Event[hooks.Event]) {
	defer log.RecoverPanic("rpc.forward", nil)
	for {
		select {
		case <-h.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.Notify(h.ctx, MethodEvent, ev); err != nil {
				h.logger.Debug("Failed to forward hook event", "error", err)
				return
			}
		}
	}
}

func params(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return invalidParams("missing params")
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

func invalidParams(msg string) *jsonrpc2.Error {
	return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: msg}
}
