// Package client resolves "poolman:<driver>:<dsn>" URLs to pooled
// connections. URLs without the poolman prefix are not handled, so a
// Client can sit in a chain of openers and decline what is not its own.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/guileen/poolman/config"
	"github.com/guileen/poolman/pool"
	"github.com/guileen/poolman/registry"
)

// Prefix marks URLs served by poolman
const Prefix = "poolman:"

// ErrMalformedURL is returned for a poolman URL without a driver or DSN
var ErrMalformedURL = errors.New("client: malformed poolman url")

// AcceptsURL reports whether url is a poolman URL
func AcceptsURL(url string) bool {
	return strings.HasPrefix(url, Prefix)
}

// ParseURL splits a poolman URL into its driver name and DSN. The DSN is
// everything after the second colon and may itself contain colons.
func ParseURL(url string) (driver, dsn string, err error) {
	if !AcceptsURL(url) {
		return "", "", fmt.Errorf("%w: missing %q prefix", ErrMalformedURL, Prefix)
	}
	rest := strings.TrimPrefix(url, Prefix)
	driver, dsn, ok := strings.Cut(rest, ":")
	if !ok || driver == "" || dsn == "" {
		return "", "", fmt.Errorf("%w: want %s<driver>:<dsn>", ErrMalformedURL, Prefix)
	}
	return driver, dsn, nil
}

// Client opens pooled connections through a registry
type Client struct {
	registry *registry.Registry
}

// New creates a client backed by reg
func New(reg *registry.Registry) *Client {
	return &Client{registry: reg}
}

// Registry returns the registry the client uses
func (c *Client) Registry() *registry.Registry {
	return c.registry
}

// Pool returns the pool serving url and props. It returns nil and no error
// when url is not a poolman URL.
func (c *Client) Pool(url string, props map[string]string) (*pool.Pool, error) {
	if !AcceptsURL(url) {
		return nil, nil
	}
	driver, dsn, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]string, len(props)+1)
	for k, v := range props {
		merged[k] = v
	}
	merged[config.KeyDriver] = driver

	return c.registry.Get(dsn, merged)
}

// Open acquires a pooled connection for url. It returns nil and no error
// when url is not a poolman URL. Close the handle to give the connection
// back.
func (c *Client) Open(ctx context.Context, url string, props map[string]string) (*pool.Handle, error) {
	p, err := c.Pool(url, props)
	if err != nil || p == nil {
		return nil, err
	}
	return p.Acquire(ctx)
}
