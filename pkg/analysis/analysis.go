// Package analysis runs the full pipeline for one document version:
// outer scan, language resolution, embedded lexing, token synthesis and
// diagnostic merging. Embedded results are fragment-local, so an edit
// that merely moves a template reuses its previous analysis; resolutions
// carry over the same way when the edit cannot have affected them.
package analysis

import (
	"context"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/koxudaxi/t-linter/pkg/config"
	"github.com/koxudaxi/t-linter/pkg/diagnostic"
	"github.com/koxudaxi/t-linter/pkg/grammar"
	"github.com/koxudaxi/t-linter/pkg/langtag"
	"github.com/koxudaxi/t-linter/pkg/position"
	"github.com/koxudaxi/t-linter/pkg/pyscan"
	"github.com/koxudaxi/t-linter/pkg/resolve"
	"github.com/koxudaxi/t-linter/pkg/semtok"
)

// Snapshot is the complete analysis of one document version. Snapshots
// are immutable once published.
type Snapshot struct {
	URI     string
	Version int32
	Text    string

	File    *pyscan.File
	Table   *langtag.Table
	Results map[int]*grammar.Result
	Deps    *resolve.DependencyIndex

	// AliasTags is the module's published alias surface, consumed by
	// cross-module resolution of other documents.
	AliasTags map[string]langtag.Tag

	// Carried counts resolutions taken over from the previous snapshot
	// without re-running the resolver.
	Carried int

	Diagnostics []diagnostic.Diagnostic
	Tokens      []semtok.Token
}

// Statistics returns the per-document aggregate.
func (s *Snapshot) Statistics() langtag.Statistics {
	return s.Table.Stats()
}

// Engine analyzes documents. Safe for concurrent use as long as Settings
// swaps are whole-value.
type Engine struct {
	Resolver *resolve.Resolver
	Settings config.Settings
}

func NewEngine(r *resolve.Resolver, settings config.Settings) *Engine {
	return &Engine{Resolver: r, Settings: settings}
}

// reuseKey identifies an embedded result that survives document edits:
// same literal content, same raw flag, same resolved tag.
type reuseKey struct {
	content string
	raw     bool
	tag     langtag.Tag
}

// Analyze runs the pipeline for one version. prev, when non-nil, donates
// embedded results for templates whose content and resolution did not
// change. Cancellation is checked between stages; a canceled analysis
// returns the context error and no snapshot.
func (e *Engine) Analyze(ctx context.Context, uri string, version int32, text string, prev *Snapshot) (*Snapshot, error) {
	log := zerolog.Ctx(ctx)

	snap := &Snapshot{
		URI:     uri,
		Version: version,
		Text:    text,
		Table:   langtag.NewTable(version),
		Results: map[int]*grammar.Result{},
		Deps:    resolve.NewDependencyIndex(),
	}

	snap.File = pyscan.Scan(uri, text)
	snap.Diagnostics = append(snap.Diagnostics, snap.File.Diagnostics...)
	if err := ctx.Err(); err != nil {
		return nil, errors.Errorf("analysis of %s canceled after scan: %w", uri, err)
	}

	if prev == nil {
		e.Resolver.ResolveAll(ctx, snap.File, snap.Table, snap.Deps)
	} else {
		snap.Carried = carryResolutions(snap, prev)
		e.Resolver.ResolveStale(ctx, snap.File, snap.Table, snap.Deps)
	}
	snap.AliasTags = e.Resolver.AliasTags(ctx, snap.File)
	if err := ctx.Err(); err != nil {
		return nil, errors.Errorf("analysis of %s canceled after resolution: %w", uri, err)
	}

	reusable := prev.reusableResults()
	reused := 0
	for i, ts := range snap.File.Templates {
		res, _ := snap.Table.Get(ts.Span)
		e.addResolveDiagnostics(snap, ts, res)
		if !res.Tag.Highlightable() {
			continue
		}
		if !ts.Partitioned() {
			// scanner bug guard: skip embedded analysis rather than emit
			// tokens at wrong offsets
			log.Error().Str("uri", uri).Stringer("span", ts.Span).
				Msg("fragment partition violated, skipping embedded analysis")
			continue
		}
		key := reuseKey{content: text[ts.ContentSpan.Start:ts.ContentSpan.End], raw: ts.Raw, tag: res.Tag}
		if r, ok := reusable[key]; ok {
			snap.Results[i] = r
			reused++
			continue
		}
		r, err := grammar.Parse(res.Tag, ts.Fragments, text)
		if err != nil {
			return nil, errors.Errorf("embedded parse of %s: %w", uri, err)
		}
		snap.Results[i] = r
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Errorf("analysis of %s canceled after embedded parse: %w", uri, err)
	}

	for i := range snap.File.Templates {
		if r, ok := snap.Results[i]; ok {
			snap.Diagnostics = append(snap.Diagnostics, embeddedDiagnostics(snap.File.Templates[i], r)...)
		}
	}

	if e.Settings.Enabled {
		snap.Tokens = semtok.Synthesize(snap.File, snap.Results)
	}

	log.Debug().Str("uri", uri).Int32("version", version).
		Int("templates", len(snap.File.Templates)).
		Int("carried", snap.Carried).
		Int("reused", reused).
		Int("tokens", len(snap.Tokens)).
		Msg("analysis complete")
	return snap, nil
}

// reusableResults indexes the previous snapshot's embedded results by
// content and tag.
func (s *Snapshot) reusableResults() map[reuseKey]*grammar.Result {
	out := map[reuseKey]*grammar.Result{}
	if s == nil {
		return out
	}
	for i, r := range s.Results {
		ts := s.File.Templates[i]
		out[reuseKey{
			content: s.Text[ts.ContentSpan.Start:ts.ContentSpan.End],
			raw:     ts.Raw,
			tag:     r.Tag,
		}] = r
	}
	return out
}

// addResolveDiagnostics emits the untyped hint when configured.
func (e *Engine) addResolveDiagnostics(snap *Snapshot, ts *pyscan.TemplateString, res langtag.Resolution) {
	if !e.Settings.HighlightUntyped {
		return
	}
	if res.Tag == langtag.None && res.Source == langtag.SourceNone {
		snap.Diagnostics = append(snap.Diagnostics, diagnostic.New(
			ts.Span, diagnostic.Hint, diagnostic.StageResolve,
			"template string has no language annotation"))
	}
}

// embeddedDiagnostics remaps fragment-local findings to absolute spans.
func embeddedDiagnostics(ts *pyscan.TemplateString, r *grammar.Result) []diagnostic.Diagnostic {
	out := make([]diagnostic.Diagnostic, 0, len(r.Findings))
	for _, fi := range r.Findings {
		base := ts.Fragments[fi.Frag].Span.Start
		out = append(out, diagnostic.Diagnostic{
			Span:     position.NewSpan(base+fi.Span.Start, base+fi.Span.End),
			Severity: fi.Severity,
			Stage:    diagnostic.StageEmbedded,
			Message:  fi.Message,
		})
	}
	return out
}

// AliasChanged reports whether the set of alias definitions differs
// between two snapshots, which forces dependents to re-resolve. Embedded
// reuse already keys on the resolved tag, so a flipped alias naturally
// misses the reuse cache; this check exists for cache invalidation of
// cross-module clients.
func AliasChanged(prev, next *Snapshot) bool {
	if prev == nil {
		return next != nil && len(next.File.Context.Aliases) > 0
	}
	a, b := prev.File.Context.Aliases, next.File.Context.Aliases
	if len(a) != len(b) {
		return true
	}
	for k, v := range a {
		if b[k] != v {
			return true
		}
	}
	return false
}
