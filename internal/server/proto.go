package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/toolguard/internal/hooks"
	"github.com/charmbracelet/toolguard/internal/proto"
	"github.com/charmbracelet/toolguard/internal/version"
)

type controllerV1 struct {
	*Server
}

func (c *controllerV1) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, proto.ServerInfo{
		Version:  version.Version,
		Patterns: len(c.mgr.Patterns()),
	})
}

func (c *controllerV1) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if c.cfg == nil {
		jsonError(w, http.StatusNotFound, "no configuration loaded")
		return
	}
	jsonEncode(w, c.cfg)
}

func (c *controllerV1) handleGetHooks(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, c.mgr.Hooks())
}

func (c *controllerV1) handleGetHooksFind(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	found := c.mgr.FindHooks(key)
	if found == nil {
		found = []hooks.Definition{}
	}
	jsonEncode(w, found)
}

func (c *controllerV1) handlePostHooksBefore(w http.ResponseWriter, r *http.Request) {
	c.runChain(w, r, hooks.PhaseBefore)
}

func (c *controllerV1) handlePostHooksAfter(w http.ResponseWriter, r *http.Request) {
	c.runChain(w, r, hooks.PhaseAfter)
}

func (c *controllerV1) runChain(w http.ResponseWriter, r *http.Request, phase hooks.Phase) {
	var args proto.ChainRequest
	if err := decodeBody(w, r, &args); err != nil {
		c.logError(r, "failed to decode request", "error", err)
		jsonError(w, http.StatusBadRequest, "failed to decode request")
		return
	}
	if args.Tool == "" {
		jsonError(w, http.StatusBadRequest, "tool is required")
		return
	}

	run := c.mgr.ExecuteBeforeHooks
	if phase == hooks.PhaseAfter {
		run = c.mgr.ExecuteAfterHooks
	}
	data, err := run(r.Context(), args.Tool, args.Data, args.Context)

	var rejected *hooks.RejectionError
	switch {
	case errors.As(err, &rejected):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(proto.Error{
			Message:   rejected.Error(),
			Rejection: proto.NewRejection(rejected),
		})
	case err != nil && r.Context().Err() != nil:
		// The client went away; nobody is left to answer.
	case err != nil:
		jsonError(w, http.StatusBadRequest, err.Error())
	default:
		jsonEncode(w, proto.ChainResponse{Data: data})
	}
}

func (c *controllerV1) handlePostHooksExecute(w http.ResponseWriter, r *http.Request) {
	var args proto.ExecuteRequest
	if err := decodeBody(w, r, &args); err != nil {
		c.logError(r, "failed to decode request", "error", err)
		jsonError(w, http.StatusBadRequest, "failed to decode request")
		return
	}

	res, err := execute(r.Context(), c.mgr, args)
	switch {
	case errors.Is(err, errUnknownHook):
		jsonError(w, http.StatusNotFound, err.Error())
	case err != nil:
		jsonError(w, http.StatusBadRequest, err.Error())
	default:
		jsonEncode(w, res)
	}
}

var errUnknownHook = errors.New("hook not found")

// execute runs a single registered hook outside of any chain.
func execute(ctx context.Context, mgr *hooks.Manager, args proto.ExecuteRequest) (hooks.Result, error) {
	def, ok := mgr.Lookup(args.Hook)
	if !ok {
		return hooks.Result{}, fmt.Errorf("%w: %q", errUnknownHook, args.Hook)
	}
	if args.Phase != hooks.PhaseBefore && args.Phase != hooks.PhaseAfter {
		return hooks.Result{}, fmt.Errorf("phase must be %q or %q", hooks.PhaseBefore, hooks.PhaseAfter)
	}
	if len(args.Data) > 0 && !json.Valid(args.Data) {
		return hooks.Result{}, fmt.Errorf("data is not valid JSON")
	}
	return mgr.ExecuteHook(ctx, def, hooks.NewRequest(args.Phase, args.Tool, args.Data, args.Context)), nil
}

func (c *controllerV1) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if c.events == nil {
		jsonError(w, http.StatusNotFound, "events are not enabled")
		return
	}
	flusher := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_ = flusher.Flush()

	events := c.events.Subscribe(r.Context())
	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				c.logError(r, "failed to marshal event", "error", err)
				continue
			}

			fmt.Fprintf(w, "data: %s\n\n", data)
			if err := flusher.Flush(); err != nil {
				return
			}
		}
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
}

func jsonEncode(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(proto.Error{Message: message})
}
