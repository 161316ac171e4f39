// Package client talks to a running toolguard server.
package client

import (
	"context"
	"net"
	"net/http"

	"github.com/charmbracelet/toolguard/internal/server"
)

// Client is an HTTP client bound to a toolguard server socket.
type Client struct {
	h       *http.Client
	network string
	addr    string
}

// DefaultClient creates a new [Client] for the default server address.
func DefaultClient() (*Client, error) {
	return NewClient("unix", server.DefaultAddr())
}

// NewClient creates a new [Client] for the server at the given network and
// address. No connection is made until the first request.
func NewClient(network, address string) (*Client, error) {
	c := &Client{network: network, addr: address}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = nil
	tr.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, address)
	}
	c.h = &http.Client{Transport: tr}
	return c, nil
}

// Addr returns the address the client connects to.
func (c *Client) Addr() string {
	return c.addr
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.h.CloseIdleConnections()
	return nil
}
