// Package lsp implements the language server: document lifecycle,
// analysis scheduling, semantic tokens, diagnostics publishing and the
// tLinter extension requests.
package lsp

import (
	"context"
	"encoding/json"
	rdebug "runtime/debug"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/koxudaxi/t-linter/pkg/analysis"
	"github.com/koxudaxi/t-linter/pkg/config"
	"github.com/koxudaxi/t-linter/pkg/diagnostic"
	"github.com/koxudaxi/t-linter/pkg/langtag"
	"github.com/koxudaxi/t-linter/pkg/lsp/protocol"
	"github.com/koxudaxi/t-linter/pkg/position"
	"github.com/koxudaxi/t-linter/pkg/resolve"
	"github.com/koxudaxi/t-linter/pkg/semtok"
	"github.com/koxudaxi/t-linter/pkg/typecheck"
	"github.com/koxudaxi/t-linter/pkg/workspace"
)

const serverName = "t-linter"

// Version is stamped by the build, with module build info as fallback.
var Version = "dev"

func init() {
	if Version != "dev" {
		return
	}
	if bi, ok := rdebug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		Version = bi.Main.Version
	}
}

// Server implements protocol.Server.
type Server struct {
	docs *DocumentManager

	mu        sync.Mutex
	settings  config.Settings
	engine    *analysis.Engine
	checker   typecheck.Client
	closeChk  func() error
	cache     *typecheck.Cache
	ws        *workspace.Workspace
	aliases   map[string]*langtag.AliasTable
	stopWatch context.CancelFunc
	shutdown  bool

	publisher protocol.Publisher

	// OnExit runs when the client sends exit.
	OnExit func()
}

func NewServer(settings config.Settings) *Server {
	s := &Server{
		docs:     NewDocumentManager(),
		settings: settings,
		cache:    typecheck.NewCache(),
		aliases:  map[string]*langtag.AliasTable{},
	}
	s.engine = analysis.NewEngine(&resolve.Resolver{}, settings)
	return s
}

// SetPublisher wires the transport used for server-initiated
// notifications. Must be called before serving.
func (s *Server) SetPublisher(p protocol.Publisher) {
	s.publisher = p
}

// SetWorkspace roots cross-module lookups, cache versioning and file
// watching. Initialize derives one from the client's rootUri when none
// was set.
func (s *Server) SetWorkspace(ws *workspace.Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws = ws
}

// SetChecker injects the cross-module client in place of the spawned
// adapter process. Must be called before Initialize.
func (s *Server) SetChecker(c typecheck.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checker = c
}

func (s *Server) Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ws == nil && params.RootURI != "" {
		s.ws = workspace.New(uriPath(params.RootURI))
	}

	if len(params.InitializationOptions) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(params.InitializationOptions, &raw); err == nil {
			if merged, err := s.settings.Merge(raw); err == nil {
				s.settings = merged
			} else {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("ignoring invalid initialization options")
			}
		}
	}

	if err := s.rebuildEngineLocked(ctx); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("root", string(params.RootURI)).
		Bool("typeChecking", s.settings.EnableTypeChecking).
		Msg("initialized")

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.SyncFull,
			},
			SemanticTokensProvider: protocol.SemanticTokensOptions{
				Legend: protocol.SemanticTokensLegend{
					TokenTypes:     semtok.LegendTypes(),
					TokenModifiers: semtok.LegendModifiers(),
				},
				Full: true,
			},
		},
		ServerInfo: protocol.ServerInfo{Name: serverName, Version: Version},
	}, nil
}

// rebuildEngineLocked reconstructs the resolver and engine from the
// current settings. Caller holds s.mu.
func (s *Server) rebuildEngineLocked(ctx context.Context) error {
	resolver := &resolve.Resolver{}
	if s.settings.EnableTypeChecking {
		if s.checker == nil && s.settings.TypeCheckerPath != "" {
			checker, err := typecheck.NewAdapter(ctx, s.settings.TypeCheckerPath, s.settings.Timeout())
			if err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).
					Msg("type checker unavailable, cross-module resolution disabled")
			} else {
				s.checker = checker
				s.closeChk = checker.Close
			}
		}
		var next typecheck.Client
		if s.checker != nil {
			cached := &typecheck.CachedClient{Inner: s.checker, Cache: s.cache}
			if s.ws != nil {
				cached.Version = s.ws.ModuleVersion
			}
			next = cached
		}
		resolver.Client = &aliasClient{lookup: s.lookupAlias, next: next}
	}
	s.engine = analysis.NewEngine(resolver, s.settings)
	return nil
}

// aliasClient serves cross-module lookups from alias tables published by
// open documents, falling back to the external checker.
type aliasClient struct {
	lookup func(module, symbol string) (langtag.Tag, bool)
	next   typecheck.Client
}

func (c *aliasClient) ResolveSymbol(ctx context.Context, module, symbol string) (langtag.Tag, error) {
	if tag, ok := c.lookup(module, symbol); ok {
		return tag, nil
	}
	if c.next == nil {
		return langtag.Unknown, errors.Errorf("no checker available for %s.%s", module, symbol)
	}
	return c.next.ResolveSymbol(ctx, module, symbol)
}

func (s *Server) lookupAlias(module, symbol string) (langtag.Tag, bool) {
	s.mu.Lock()
	table := s.aliases[module]
	s.mu.Unlock()
	if table == nil {
		return langtag.Unknown, false
	}
	return table.Lookup(symbol)
}

// publishAliasTags makes the document's alias tags visible to
// cross-module resolution of other open documents.
func (s *Server) publishAliasTags(module string, tags map[string]langtag.Tag) {
	s.mu.Lock()
	table := s.aliases[module]
	if table == nil {
		table = langtag.NewAliasTable()
		s.aliases[module] = table
	}
	s.mu.Unlock()
	table.Replace(tags)
}

// moduleOf maps a document URI to its dotted module name. Without a
// workspace root the file path itself is the key.
func (s *Server) moduleOf(uri protocol.DocumentURI) string {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	path := uriPath(uri)
	if ws == nil {
		return path
	}
	return ws.ModuleName(path)
}

func uriPath(uri protocol.DocumentURI) string {
	return strings.TrimPrefix(string(uri), "file://")
}

func (s *Server) currentEngine() *analysis.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

func (s *Server) Initialized(ctx context.Context) error {
	zerolog.Ctx(ctx).Debug().Msg("client ready")

	s.mu.Lock()
	ws := s.ws
	wanted := s.settings.EnableTypeChecking && ws != nil && s.stopWatch == nil
	s.mu.Unlock()
	if !wanted {
		return nil
	}

	// the request context dies with the request; the watcher outlives it
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := ws.Watch(watchCtx, func(path string) {
		s.ModuleFileChanged(watchCtx, path)
	}); err != nil {
		cancel()
		zerolog.Ctx(ctx).Warn().Err(err).Msg("workspace watch unavailable")
		return nil
	}
	s.mu.Lock()
	s.stopWatch = cancel
	s.mu.Unlock()
	zerolog.Ctx(ctx).Info().Str("root", ws.Root()).Msg("watching workspace")
	return nil
}

// ModuleFileChanged invalidates cached cross-module resolutions for the
// changed file's module and re-analyzes open documents, which may depend
// on it. The workspace watcher calls this for every .py change.
func (s *Server) ModuleFileChanged(ctx context.Context, path string) {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return
	}
	module := ws.ModuleName(path)
	s.cache.InvalidateModule(module)
	zerolog.Ctx(ctx).Debug().Str("module", module).Msg("workspace module changed")

	s.docs.Each(func(doc *Document) {
		if err := s.analyze(ctx, doc); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("uri", string(doc.uri)).
				Msg("re-analysis after module change failed")
		}
	})
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.stopWatch != nil {
		s.stopWatch()
		s.stopWatch = nil
	}
	if s.closeChk != nil {
		if err := s.closeChk(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("type checker shutdown failed")
		}
		s.closeChk = nil
	}
	s.checker = nil
	return nil
}

func (s *Server) Exit(ctx context.Context) error {
	if s.OnExit != nil {
		s.OnExit()
	}
	return nil
}

func (s *Server) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	td := params.TextDocument
	doc, err := s.docs.Open(td.URI, td.Version, td.Text)
	if err != nil {
		return err
	}
	return s.analyze(ctx, doc)
}

func (s *Server) DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error {
	doc, err := s.docs.Get(params.TextDocument.URI)
	if err != nil {
		return err
	}
	_, text := doc.Current()
	next := applyChanges(text, params.ContentChanges)
	if err := doc.Advance(params.TextDocument.Version, next); err != nil {
		return err
	}
	return s.analyze(ctx, doc)
}

func (s *Server) DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	if err := s.docs.Close(params.TextDocument.URI); err != nil {
		return err
	}
	module := s.moduleOf(params.TextDocument.URI)
	s.mu.Lock()
	delete(s.aliases, module)
	s.mu.Unlock()
	// clear stale squiggles on close
	return s.publish(ctx, &protocol.PublishDiagnosticsParams{
		URI:         params.TextDocument.URI,
		Diagnostics: []protocol.Diagnostic{},
	})
}

func (s *Server) DidChangeConfiguration(ctx context.Context, params *protocol.DidChangeConfigurationParams) error {
	var raw map[string]any
	if err := json.Unmarshal(params.Settings, &raw); err != nil {
		return errors.Errorf("decoding settings: %w", err)
	}
	if nested, ok := raw["t-linter"].(map[string]any); ok {
		raw = nested
	}

	s.mu.Lock()
	merged, err := s.settings.Merge(raw)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.settings = merged
	err = s.rebuildEngineLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	// settings affect analysis output, re-run everything open
	var firstErr error
	s.docs.Each(func(doc *Document) {
		if err := s.analyze(ctx, doc); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

func (s *Server) SemanticTokensFull(ctx context.Context, params *protocol.SemanticTokensParams) (*protocol.SemanticTokens, error) {
	doc, err := s.docs.Get(params.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	snap := doc.Snapshot()
	if snap == nil {
		if err := s.analyze(ctx, doc); err != nil {
			return nil, err
		}
		snap = doc.Snapshot()
	}
	version, _ := doc.Current()
	if snap == nil || snap.Version != version {
		return nil, protocol.ErrStaleVersion(params.TextDocument.URI, snapVersion(snap), version)
	}
	return &protocol.SemanticTokens{Data: semtok.Encode(snap.Text, snap.Tokens)}, nil
}

// Statistics is a pure read over the last published snapshot.
func (s *Server) Statistics(ctx context.Context, params *protocol.StatisticsParams) (*protocol.StatisticsResult, error) {
	doc, err := s.docs.Get(params.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	snap := doc.Snapshot()
	if snap == nil {
		version, _ := doc.Current()
		return nil, protocol.ErrStaleVersion(params.TextDocument.URI, 0, version)
	}
	stats := snap.Statistics()
	out := &protocol.StatisticsResult{
		TotalTemplateStrings: stats.TotalTemplateStrings,
		ByLanguageTag:        map[string]int{},
		BySource:             map[string]int{},
		UntypedCount:         stats.UntypedCount,
		UnknownCount:         stats.UnknownCount,
	}
	for tag, n := range stats.ByLanguageTag {
		out.ByLanguageTag[string(tag)] = n
	}
	for src, n := range stats.BySource {
		out.BySource[string(src)] = n
	}
	return out, nil
}

// analyze runs the pipeline for the document's current version and
// publishes diagnostics, unless a newer version landed meanwhile.
func (s *Server) analyze(ctx context.Context, doc *Document) error {
	version, text := doc.Current()
	prev := doc.Snapshot()

	snap, err := s.currentEngine().Analyze(ctx, string(doc.uri), version, text, prev)
	if err != nil {
		return err
	}
	if !doc.StoreSnapshot(snap) {
		zerolog.Ctx(ctx).Debug().Str("uri", string(doc.uri)).
			Int32("version", version).Msg("discarding stale analysis")
		return nil
	}

	module := s.moduleOf(doc.uri)
	s.publishAliasTags(module, snap.AliasTags)
	if analysis.AliasChanged(prev, snap) {
		s.cache.InvalidateModule(module)
	}

	return s.publish(ctx, diagnosticsParams(doc.uri, snap))
}

func (s *Server) publish(ctx context.Context, params *protocol.PublishDiagnosticsParams) error {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.PublishDiagnostics(ctx, params)
}

func snapVersion(snap *analysis.Snapshot) int32 {
	if snap == nil {
		return 0
	}
	return snap.Version
}

var severityMap = map[diagnostic.Severity]protocol.DiagnosticSeverity{
	diagnostic.Error:   protocol.SeverityError,
	diagnostic.Warning: protocol.SeverityWarning,
	diagnostic.Info:    protocol.SeverityInfo,
	diagnostic.Hint:    protocol.SeverityHint,
}

func diagnosticsParams(uri protocol.DocumentURI, snap *analysis.Snapshot) *protocol.PublishDiagnosticsParams {
	out := &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Version:     snap.Version,
		Diagnostics: make([]protocol.Diagnostic, 0, len(snap.Diagnostics)),
	}
	for _, d := range snap.Diagnostics {
		out.Diagnostics = append(out.Diagnostics, protocol.Diagnostic{
			Range:    toProtocolRange(snap.Text, d.Span),
			Severity: severityMap[d.Severity],
			Source:   d.Source(),
			Message:  d.Message,
		})
	}
	return out
}

func toProtocolRange(text string, span position.Span) protocol.Range {
	r := position.RangeOf(text, span)
	return protocol.Range{
		Start: protocol.Position{Line: uint32(r.Start.Line), Character: uint32(r.Start.Character)},
		End:   protocol.Position{Line: uint32(r.End.Line), Character: uint32(r.End.Character)},
	}
}

var _ protocol.Server = (*Server)(nil)
