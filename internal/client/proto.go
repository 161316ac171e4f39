package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/charmbracelet/toolguard/internal/config"
	"github.com/charmbracelet/toolguard/internal/hooks"
	"github.com/charmbracelet/toolguard/internal/proto"
	"github.com/charmbracelet/toolguard/internal/pubsub"
)

const baseURL = "http://toolguard"

// Health returns information about the server.
func (c *Client) Health(ctx context.Context) (*proto.ServerInfo, error) {
	var info proto.ServerInfo
	if err := c.get(ctx, "/v1/health", "get server health", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetConfig retrieves the configuration the server was started with.
func (c *Client) GetConfig(ctx context.Context) (*config.Config, error) {
	var cfg config.Config
	if err := c.get(ctx, "/v1/config", "get config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// List returns the server's hook registry in table order.
func (c *Client) List(ctx context.Context) ([]hooks.PatternHooks, error) {
	var list []hooks.PatternHooks
	if err := c.get(ctx, "/v1/hooks", "list hooks", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Find returns the hooks that would run for key, e.g. "before:web_fetch".
func (c *Client) Find(ctx context.Context, key string) ([]hooks.Definition, error) {
	var defs []hooks.Definition
	if err := c.get(ctx, "/v1/hooks/find?key="+url.QueryEscape(key), "find hooks", &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// Before runs the before-chain for tool. A rejection is returned as a
// *hooks.RejectionError.
func (c *Client) Before(ctx context.Context, tool string, params, hookCtx json.RawMessage) (json.RawMessage, error) {
	return c.chain(ctx, "/v1/hooks/before", proto.ChainRequest{Tool: tool, Data: params, Context: hookCtx})
}

// After runs the after-chain for tool.
func (c *Client) After(ctx context.Context, tool string, response, hookCtx json.RawMessage) (json.RawMessage, error) {
	return c.chain(ctx, "/v1/hooks/after", proto.ChainRequest{Tool: tool, Data: response, Context: hookCtx})
}

// Execute runs one registered hook by name.
func (c *Client) Execute(ctx context.Context, req proto.ExecuteRequest) (*hooks.Result, error) {
	var res hooks.Result
	if err := c.post(ctx, "/v1/hooks/execute", "execute hook", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SubscribeEvents streams hook executions until ctx is done or the server
// goes away.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan pubsub.Event[hooks.Event], error) {
	r, err := http.NewRequestWithContext(ctx, "GET", baseURL+"/v1/events", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	r.Header.Set("Accept", "text/event-stream")
	r.Header.Set("Cache-Control", "no-cache")

	rsp, err := c.h.Do(r)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}
	if rsp.StatusCode != http.StatusOK {
		defer rsp.Body.Close()
		return nil, fmt.Errorf("failed to subscribe to events: %w", responseError(rsp))
	}

	events := make(chan pubsub.Event[hooks.Event], 100)
	go func() {
		defer close(events)
		defer rsp.Body.Close()

		scr := bufio.NewReader(rsp.Body)
		for {
			line, err := scr.ReadBytes('\n')
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					slog.Error("Reading from events stream", "error", err)
				}
				return
			}
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				// End of an event
				continue
			}

			data, ok := bytes.CutPrefix(line, []byte("data:"))
			if !ok {
				slog.Warn("Invalid event format", "line", string(line))
				continue
			}

			var ev pubsub.Event[hooks.Event]
			if err := json.Unmarshal(bytes.TrimSpace(data), &ev); err != nil {
				slog.Error("Unmarshaling event", "error", err)
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func (c *Client) chain(ctx context.Context, path string, req proto.ChainRequest) (json.RawMessage, error) {
	var rsp proto.ChainResponse
	if err := c.post(ctx, path, "run hooks", req, &rsp); err != nil {
		return nil, err
	}
	return rsp.Data, nil
}

func (c *Client) get(ctx context.Context, path, what string, v any) error {
	r, err := http.NewRequestWithContext(ctx, "GET", baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(r, what, v)
}

func (c *Client) post(ctx context.Context, path, what string, body, v any) error {
	b, err := jsonBody(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	r, err := http.NewRequestWithContext(ctx, "POST", baseURL+path, b)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	return c.do(r, what, v)
}

func (c *Client) do(r *http.Request, what string, v any) error {
	rsp, err := c.h.Do(r)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		err := responseError(rsp)
		var rejected *hooks.RejectionError
		if errors.As(err, &rejected) {
			return err
		}
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if err := json.NewDecoder(rsp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// responseError turns an error response into an error, restoring hook
// rejections to their engine type.
func responseError(rsp *http.Response) error {
	var e proto.Error
	if err := json.NewDecoder(rsp.Body).Decode(&e); err != nil || e.Message == "" {
		return fmt.Errorf("status code %d", rsp.StatusCode)
	}
	if rsp.StatusCode == http.StatusForbidden && e.Rejection != nil {
		return e.Rejection.Err()
	}
	return fmt.Errorf("status code %d: %s", rsp.StatusCode, e.Message)
}

func jsonBody(v any) (*bytes.Buffer, error) {
	m, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(m), nil
}
