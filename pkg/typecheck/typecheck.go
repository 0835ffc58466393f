// Package typecheck bridges to an external Python type checker for
// cross-module symbol resolution. The checker runs as a child process
// speaking JSON-RPC over stdio; every call is bounded by a timeout so a
// wedged checker degrades resolution instead of blocking analysis.
package typecheck

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/koxudaxi/t-linter/pkg/langtag"
)

// Client resolves the template language of a symbol defined in another
// module. Implementations must be safe for concurrent use.
type Client interface {
	// ResolveSymbol returns the language tag carried by module.symbol.
	// Failures (including timeouts) return Unknown with the error.
	ResolveSymbol(ctx context.Context, module, symbol string) (langtag.Tag, error)
}

// DefaultTimeout bounds a single resolveSymbol round trip.
const DefaultTimeout = 2 * time.Second

// Adapter is a Client backed by an external checker process.
type Adapter struct {
	timeout time.Duration
	client  *jrpc2.Client
	cmd     *exec.Cmd
}

type resolveParams struct {
	Module string `json:"module"`
	Symbol string `json:"symbol"`
}

type resolveResult struct {
	Language string `json:"language"`
}

// NewAdapter starts the checker at path and connects to its stdio.
func NewAdapter(ctx context.Context, path string, timeout time.Duration) (*Adapter, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cmd := exec.Command(path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Errorf("opening checker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Errorf("opening checker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Errorf("starting type checker %q: %w", path, err)
	}

	zerolog.Ctx(ctx).Info().Str("path", path).Int("pid", cmd.Process.Pid).
		Msg("type checker started")

	return &Adapter{
		timeout: timeout,
		client:  jrpc2.NewClient(channel.LSP(stdout, stdin), nil),
		cmd:     cmd,
	}, nil
}

func (a *Adapter) ResolveSymbol(ctx context.Context, module, symbol string) (langtag.Tag, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var res resolveResult
	err := a.client.CallResult(ctx, "typecheck/resolveSymbol",
		resolveParams{Module: module, Symbol: symbol}, &res)
	if err != nil {
		return langtag.Unknown, errors.Errorf("resolving %s.%s: %w", module, symbol, err)
	}
	return langtag.Normalize(res.Language), nil
}

// Close shuts down the checker process.
func (a *Adapter) Close() error {
	if err := a.client.Close(); err != nil {
		_ = a.cmd.Process.Kill()
		return errors.Errorf("closing checker client: %w", err)
	}
	return a.cmd.Wait()
}

type cacheKey struct {
	module, symbol, version string
}

// Cache memoizes cross-module resolutions, keyed by the defining module's
// content version so edits invalidate naturally.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]langtag.Tag
}

func NewCache() *Cache {
	return &Cache{entries: map[cacheKey]langtag.Tag{}}
}

func (c *Cache) Get(module, symbol, version string) (langtag.Tag, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tag, ok := c.entries[cacheKey{module, symbol, version}]
	return tag, ok
}

func (c *Cache) Put(module, symbol, version string, tag langtag.Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{module, symbol, version}] = tag
}

// InvalidateModule drops every entry for the module, regardless of version.
func (c *Cache) InvalidateModule(module string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.module == module {
			delete(c.entries, k)
		}
	}
}

// CachedClient wraps an inner Client with a Cache. Versions come from the
// supplied function, typically a workspace content hash.
type CachedClient struct {
	Inner   Client
	Cache   *Cache
	Version func(module string) string
}

func (c *CachedClient) ResolveSymbol(ctx context.Context, module, symbol string) (langtag.Tag, error) {
	version := ""
	if c.Version != nil {
		version = c.Version(module)
	}
	if tag, ok := c.Cache.Get(module, symbol, version); ok {
		return tag, nil
	}
	tag, err := c.Inner.ResolveSymbol(ctx, module, symbol)
	if err != nil {
		return tag, err
	}
	c.Cache.Put(module, symbol, version, tag)
	return tag, nil
}
