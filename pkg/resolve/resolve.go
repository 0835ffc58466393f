// Package resolve determines the embedded language of each template
// string from static annotations. Rules apply in priority order: explicit
// Annotated form, local type alias, parameter inference at call sites,
// then cross-module lookup through the type-checker client.
package resolve

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/koxudaxi/t-linter/pkg/langtag"
	"github.com/koxudaxi/t-linter/pkg/position"
	"github.com/koxudaxi/t-linter/pkg/pyscan"
	"github.com/koxudaxi/t-linter/pkg/typecheck"
)

// maxAliasDepth stops alias cycles.
const maxAliasDepth = 8

// Resolver resolves language tags for one module at a time. Client is
// optional; without it cross-module annotations resolve to Unknown only
// when nothing local applies.
type Resolver struct {
	Client typecheck.Client
}

// Resolve determines the language of one template string, recording the
// names it depended on in deps.
func (r *Resolver) Resolve(ctx context.Context, f *pyscan.File, ts *pyscan.TemplateString, deps *DependencyIndex) langtag.Resolution {
	if ts.Annotation != "" {
		if res, ok := r.resolveAnnotation(ctx, f, ts.Annotation, ts.Span, deps, 0); ok {
			return res
		}
		return langtag.Resolution{Tag: langtag.None, Source: langtag.SourceNone}
	}

	if ts.CallName != "" {
		if res, ok := r.resolveCallSite(ctx, f, ts, deps); ok {
			return res
		}
	}

	return langtag.Resolution{Tag: langtag.None, Source: langtag.SourceNone}
}

// ResolveAll resolves every template in the file into the table.
func (r *Resolver) ResolveAll(ctx context.Context, f *pyscan.File, table *langtag.Table, deps *DependencyIndex) {
	for _, ts := range f.Templates {
		res := r.Resolve(ctx, f, ts, deps)
		table.Set(ts.Span, res)
		logResolution(ctx, ts.Span, res)
	}
}

// ResolveStale re-resolves only the entries the incremental layer marked
// stale, leaving carried resolutions untouched.
func (r *Resolver) ResolveStale(ctx context.Context, f *pyscan.File, table *langtag.Table, deps *DependencyIndex) {
	for _, ts := range f.Templates {
		if res, ok := table.Get(ts.Span); ok && !res.Stale {
			continue
		}
		res := r.Resolve(ctx, f, ts, deps)
		table.Set(ts.Span, res)
		logResolution(ctx, ts.Span, res)
	}
}

func logResolution(ctx context.Context, span position.Span, res langtag.Resolution) {
	zerolog.Ctx(ctx).Trace().
		Stringer("span", span).
		Str("tag", string(res.Tag)).
		Str("source", string(res.Source)).
		Msg("template resolved")
}

func (r *Resolver) resolveAnnotation(ctx context.Context, f *pyscan.File, ann string, span position.Span, deps *DependencyIndex, depth int) (langtag.Resolution, bool) {
	if depth > maxAliasDepth {
		return langtag.Resolution{}, false
	}
	kind, tagText, name := parseAnnotation(f.Context, ann)
	switch kind {
	case annTag:
		return langtag.Resolution{Tag: langtag.Normalize(tagText), Source: langtag.SourceExplicit}, true

	case annBareTemplate:
		return langtag.Resolution{Tag: langtag.None, Source: langtag.SourceExplicit}, true

	case annName:
		// recorded even on a miss, so adding the definition later
		// re-resolves this span
		deps.RecordAlias(name, span)
		if rhs, ok := f.Context.Aliases[name]; ok {
			if inner, ok := r.resolveAnnotation(ctx, f, rhs, span, deps, depth+1); ok {
				return langtag.Resolution{Tag: inner.Tag, Source: langtag.SourceTypeAlias}, true
			}
			return langtag.Resolution{}, false
		}
		if target, ok := f.Context.Imports[name]; ok && r.Client != nil {
			return r.crossModule(ctx, target), true
		}
	}
	return langtag.Resolution{}, false
}

// resolveCallSite infers the tag from the annotation of the parameter the
// template is passed to.
func (r *Resolver) resolveCallSite(ctx context.Context, f *pyscan.File, ts *pyscan.TemplateString, deps *DependencyIndex) (langtag.Resolution, bool) {
	deps.RecordSignature(ts.CallName, ts.Span)
	params, ok := f.Context.Signatures[ts.CallName]
	if ok {
		param := findParam(params, ts)
		if param == nil || param.Annotation == "" {
			return langtag.Resolution{}, false
		}
		inner, ok := r.resolveAnnotation(ctx, f, param.Annotation, ts.Span, deps, 0)
		if !ok {
			return langtag.Resolution{}, false
		}
		return langtag.Resolution{Tag: inner.Tag, Source: langtag.SourceParameter}, true
	}

	if target, ok := f.Context.Imports[ts.CallName]; ok && r.Client != nil {
		return r.crossModule(ctx, target), true
	}
	return langtag.Resolution{}, false
}

// crossModule asks the external checker for the symbol's language.
// Failures (including timeouts) resolve to Unknown with no source, so
// highlighting degrades instead of lying.
func (r *Resolver) crossModule(ctx context.Context, target string) langtag.Resolution {
	module, symbol := splitTarget(target)
	tag, err := r.Client.ResolveSymbol(ctx, module, symbol)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("module", module).Str("symbol", symbol).
			Msg("cross-module resolution failed")
		return langtag.Resolution{Tag: langtag.Unknown, Source: langtag.SourceNone}
	}
	return langtag.Resolution{Tag: tag, Source: langtag.SourceCrossModule}
}

func findParam(params []pyscan.Param, ts *pyscan.TemplateString) *pyscan.Param {
	for i := range params {
		if ts.KeywordArg != "" {
			if params[i].Name == ts.KeywordArg {
				return &params[i]
			}
			continue
		}
		if params[i].Index == ts.ArgIndex {
			return &params[i]
		}
	}
	return nil
}

func splitTarget(target string) (module, symbol string) {
	if i := strings.LastIndexByte(target, '.'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, target
}

// AliasTags computes the name-to-tag mapping of the module's type
// aliases, for atomic publication into a langtag.AliasTable.
func (r *Resolver) AliasTags(ctx context.Context, f *pyscan.File) map[string]langtag.Tag {
	out := make(map[string]langtag.Tag, len(f.Context.Aliases))
	scratch := NewDependencyIndex()
	for name, rhs := range f.Context.Aliases {
		res, ok := r.resolveAnnotation(ctx, f, rhs, position.Span{}, scratch, 0)
		if !ok {
			continue
		}
		out[name] = res.Tag
	}
	return out
}
