package lsp_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koxudaxi/t-linter/pkg/config"
	"github.com/koxudaxi/t-linter/pkg/langtag"
	"github.com/koxudaxi/t-linter/pkg/lsp"
	"github.com/koxudaxi/t-linter/pkg/lsp/protocol"
	"github.com/koxudaxi/t-linter/pkg/workspace"
)

// capturePublisher records published diagnostics per URI.
type capturePublisher struct {
	mu     sync.Mutex
	pushes []*protocol.PublishDiagnosticsParams
}

func (c *capturePublisher) PublishDiagnostics(_ context.Context, params *protocol.PublishDiagnosticsParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushes = append(c.pushes, params)
	return nil
}

func (c *capturePublisher) last() *protocol.PublishDiagnosticsParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pushes) == 0 {
		return nil
	}
	return c.pushes[len(c.pushes)-1]
}

func newTestServer(t *testing.T) (*lsp.Server, *capturePublisher) {
	t.Helper()
	srv := lsp.NewServer(config.Default())
	pub := &capturePublisher{}
	srv.SetPublisher(pub)
	_, err := srv.Initialize(context.Background(), &protocol.InitializeParams{})
	require.NoError(t, err)
	return srv, pub
}

func openDoc(t *testing.T, srv *lsp.Server, uri protocol.DocumentURI, version int32, text string) {
	t.Helper()
	err := srv.DidOpen(context.Background(), &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI: uri, LanguageID: "python", Version: version, Text: text,
		},
	})
	require.NoError(t, err)
}

const testDoc = `type html = Annotated[Template, "html"]
page: html = t"<div>{content}</div>"
plain = t"no annotation"
`

func TestInitializeCapabilities(t *testing.T) {
	srv := lsp.NewServer(config.Default())
	res, err := srv.Initialize(context.Background(), &protocol.InitializeParams{})
	require.NoError(t, err)
	assert.True(t, res.Capabilities.TextDocumentSync.OpenClose)
	assert.Equal(t, protocol.SyncFull, res.Capabilities.TextDocumentSync.Change)
	assert.True(t, res.Capabilities.SemanticTokensProvider.Full)
	assert.NotEmpty(t, res.Capabilities.SemanticTokensProvider.Legend.TokenTypes)
	assert.Equal(t, "t-linter", res.ServerInfo.Name)
}

func TestOpenPublishesDiagnostics(t *testing.T) {
	srv, pub := newTestServer(t)
	openDoc(t, srv, "file:///a.py", 1, testDoc)

	last := pub.last()
	require.NotNil(t, last)
	assert.Equal(t, protocol.DocumentURI("file:///a.py"), last.URI)
	assert.Equal(t, int32(1), last.Version)

	// the untyped template gets a hint
	found := false
	for _, d := range last.Diagnostics {
		if d.Severity == protocol.SeverityHint && d.Source == "t-linter/resolve" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDoubleOpenFails(t *testing.T) {
	srv, _ := newTestServer(t)
	openDoc(t, srv, "file:///a.py", 1, testDoc)
	err := srv.DidOpen(context.Background(), &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: "file:///a.py", Version: 2, Text: ""},
	})
	assert.Error(t, err)
}

func TestSemanticTokensFull(t *testing.T) {
	srv, _ := newTestServer(t)
	openDoc(t, srv, "file:///a.py", 1, testDoc)

	res, err := srv.SemanticTokensFull(context.Background(), &protocol.SemanticTokensParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///a.py"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Data)
	assert.Zero(t, len(res.Data)%5, "packed stream is groups of five")
}

func TestSemanticTokensUnknownDocument(t *testing.T) {
	srv, _ := newTestServer(t)
	_, err := srv.SemanticTokensFull(context.Background(), &protocol.SemanticTokensParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///nope.py"},
	})
	assert.Error(t, err)
}

func TestDidChangeFullSync(t *testing.T) {
	srv, pub := newTestServer(t)
	openDoc(t, srv, "file:///a.py", 1, testDoc)

	err := srv.DidChange(context.Background(), &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: "file:///a.py"},
			Version:                2,
		},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{
			{Text: `q: Annotated[Template, "sql"] = t"SELECT 1"` + "\n"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), pub.last().Version)
}

func TestDidChangeRejectsOldVersion(t *testing.T) {
	srv, _ := newTestServer(t)
	openDoc(t, srv, "file:///a.py", 5, testDoc)

	err := srv.DidChange(context.Background(), &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: "file:///a.py"},
			Version:                3,
		},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: "x = 1\n"}},
	})
	assert.Error(t, err)
}

func TestStatistics(t *testing.T) {
	srv, _ := newTestServer(t)
	openDoc(t, srv, "file:///a.py", 1, testDoc)

	res, err := srv.Statistics(context.Background(), &protocol.StatisticsParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///a.py"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalTemplateStrings)
	assert.Equal(t, 1, res.ByLanguageTag["html"])
	assert.Equal(t, 1, res.UntypedCount)
	assert.Equal(t, 1, res.BySource["type-alias"])
}

func TestDidCloseClearsDiagnostics(t *testing.T) {
	srv, pub := newTestServer(t)
	openDoc(t, srv, "file:///a.py", 1, testDoc)

	err := srv.DidClose(context.Background(), &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///a.py"},
	})
	require.NoError(t, err)
	assert.Empty(t, pub.last().Diagnostics)

	_, err = srv.Statistics(context.Background(), &protocol.StatisticsParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: "file:///a.py"},
	})
	assert.Error(t, err, "closed documents reject requests")
}

func TestDidChangeConfiguration(t *testing.T) {
	srv, pub := newTestServer(t)
	openDoc(t, srv, "file:///a.py", 1, testDoc)

	settings, _ := json.Marshal(map[string]any{
		"t-linter": map[string]any{"highlightUntyped": false},
	})
	err := srv.DidChangeConfiguration(context.Background(), &protocol.DidChangeConfigurationParams{
		Settings: settings,
	})
	require.NoError(t, err)

	for _, d := range pub.last().Diagnostics {
		assert.NotEqual(t, protocol.SeverityHint, d.Severity,
			"hints disappear once highlightUntyped is off")
	}
}

// countingChecker is a cross-module client with adjustable answers.
type countingChecker struct {
	mu    sync.Mutex
	calls int
	tags  map[string]langtag.Tag
}

func (c *countingChecker) ResolveSymbol(_ context.Context, module, symbol string) (langtag.Tag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.tags[module+"."+symbol], nil
}

func (c *countingChecker) set(key string, tag langtag.Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags[key] = tag
}

func (c *countingChecker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

const consumerDoc = "from myapp.tags import sql_t\n" + `q: sql_t = t"SELECT 1"` + "\n"

func statsOf(t *testing.T, srv *lsp.Server, uri protocol.DocumentURI) *protocol.StatisticsResult {
	t.Helper()
	res, err := srv.Statistics(context.Background(), &protocol.StatisticsParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
	require.NoError(t, err)
	return res
}

func TestModuleChangeInvalidatesCrossModuleCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/ws/myapp/tags.py",
		[]byte(`type sql_t = Annotated[Template, "sql"]`+"\n"), 0o644))

	checker := &countingChecker{tags: map[string]langtag.Tag{"myapp.tags.sql_t": langtag.SQL}}
	cfg := config.Default()
	cfg.EnableTypeChecking = true

	srv := lsp.NewServer(cfg)
	srv.SetPublisher(&capturePublisher{})
	srv.SetWorkspace(workspace.NewWithFs(fs, "/ws"))
	srv.SetChecker(checker)
	_, err := srv.Initialize(context.Background(), &protocol.InitializeParams{})
	require.NoError(t, err)

	openDoc(t, srv, "file:///ws/main.py", 1, consumerDoc)
	assert.Equal(t, 1, statsOf(t, srv, "file:///ws/main.py").ByLanguageTag["sql"])
	assert.Equal(t, 1, checker.count())

	// the provider's meaning changes while its content hash stays put,
	// so only module-keyed invalidation can evict the entry
	checker.set("myapp.tags.sql_t", langtag.HTML)
	srv.ModuleFileChanged(context.Background(), "/ws/myapp/tags.py")

	res := statsOf(t, srv, "file:///ws/main.py")
	assert.Equal(t, 1, res.ByLanguageTag["html"],
		"provider changes must evict cached cross-module tags")
	assert.Equal(t, 2, checker.count())
}

func TestProviderEditChangesCacheVersion(t *testing.T) {
	fs := afero.NewMemMapFs()
	write := func(body string) {
		require.NoError(t, afero.WriteFile(fs, "/ws/myapp/tags.py", []byte(body), 0o644))
	}
	write(`type sql_t = Annotated[Template, "sql"]` + "\n")

	checker := &countingChecker{tags: map[string]langtag.Tag{"myapp.tags.sql_t": langtag.SQL}}
	cfg := config.Default()
	cfg.EnableTypeChecking = true

	srv := lsp.NewServer(cfg)
	srv.SetPublisher(&capturePublisher{})
	srv.SetWorkspace(workspace.NewWithFs(fs, "/ws"))
	srv.SetChecker(checker)
	_, err := srv.Initialize(context.Background(), &protocol.InitializeParams{})
	require.NoError(t, err)

	openDoc(t, srv, "file:///ws/main.py", 1, consumerDoc)
	require.Equal(t, 1, checker.count())

	// same file rewritten: the content hash keys a fresh cache entry
	checker.set("myapp.tags.sql_t", langtag.HTML)
	write(`type sql_t = Annotated[Template, "html"]` + "\n")
	srv.ModuleFileChanged(context.Background(), "/ws/myapp/tags.py")

	assert.Equal(t, 1, statsOf(t, srv, "file:///ws/main.py").ByLanguageTag["html"])
	assert.Equal(t, 2, checker.count())
}

func TestCrossModuleFromOpenDocument(t *testing.T) {
	cfg := config.Default()
	cfg.EnableTypeChecking = true

	srv := lsp.NewServer(cfg)
	srv.SetPublisher(&capturePublisher{})
	srv.SetWorkspace(workspace.NewWithFs(afero.NewMemMapFs(), "/ws"))
	_, err := srv.Initialize(context.Background(), &protocol.InitializeParams{})
	require.NoError(t, err)

	openDoc(t, srv, "file:///ws/myapp/tags.py", 1, `type sql_t = Annotated[Template, "sql"]`+"\n")
	openDoc(t, srv, "file:///ws/main.py", 1, consumerDoc)

	res := statsOf(t, srv, "file:///ws/main.py")
	assert.Equal(t, 1, res.ByLanguageTag["sql"])
	assert.Equal(t, 1, res.BySource["cross-module"],
		"open provider documents answer without an external checker")
}

func TestApplyIncrementalChange(t *testing.T) {
	srv, pub := newTestServer(t)
	openDoc(t, srv, "file:///a.py", 1, "x = 1\n")

	err := srv.DidChange(context.Background(), &protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: "file:///a.py"},
			Version:                2,
		},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{
			{
				Range: &protocol.Range{
					Start: protocol.Position{Line: 0, Character: 4},
					End:   protocol.Position{Line: 0, Character: 5},
				},
				Text: "2",
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), pub.last().Version)
}
