package typecheck_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/koxudaxi/t-linter/pkg/langtag"
	"github.com/koxudaxi/t-linter/pkg/typecheck"
)

type countingClient struct {
	calls int
	tag   langtag.Tag
	err   error
}

func (c *countingClient) ResolveSymbol(context.Context, string, string) (langtag.Tag, error) {
	c.calls++
	if c.err != nil {
		return langtag.Unknown, c.err
	}
	return c.tag, nil
}

func TestCachedClientMemoizes(t *testing.T) {
	inner := &countingClient{tag: langtag.SQL}
	version := "v1"
	cc := &typecheck.CachedClient{
		Inner:   inner,
		Cache:   typecheck.NewCache(),
		Version: func(string) string { return version },
	}

	for i := 0; i < 3; i++ {
		tag, err := cc.ResolveSymbol(context.Background(), "app.tags", "sql_t")
		require.NoError(t, err)
		assert.Equal(t, langtag.SQL, tag)
	}
	assert.Equal(t, 1, inner.calls, "repeat lookups hit the cache")

	// a module edit changes the version and misses the cache
	version = "v2"
	_, err := cc.ResolveSymbol(context.Background(), "app.tags", "sql_t")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedClientDoesNotCacheFailures(t *testing.T) {
	inner := &countingClient{err: errors.New("checker down")}
	cc := &typecheck.CachedClient{Inner: inner, Cache: typecheck.NewCache()}

	for i := 0; i < 2; i++ {
		tag, err := cc.ResolveSymbol(context.Background(), "m", "s")
		assert.Error(t, err)
		assert.Equal(t, langtag.Unknown, tag)
	}
	assert.Equal(t, 2, inner.calls)
}

func TestCacheInvalidateModule(t *testing.T) {
	c := typecheck.NewCache()
	c.Put("a", "x", "v1", langtag.HTML)
	c.Put("a", "y", "v1", langtag.SQL)
	c.Put("b", "z", "v1", langtag.CSS)

	c.InvalidateModule("a")

	_, ok := c.Get("a", "x", "v1")
	assert.False(t, ok)
	_, ok = c.Get("b", "z", "v1")
	assert.True(t, ok)
}
