package analysis

import (
	"maps"
	"slices"

	"github.com/koxudaxi/t-linter/pkg/langtag"
	"github.com/koxudaxi/t-linter/pkg/position"
	"github.com/koxudaxi/t-linter/pkg/pyscan"
)

// carryResolutions seeds the new snapshot's tag table from the previous
// one. A resolution carries over only when the edit cannot have changed
// it: the template lies outside the edited region, its binding context is
// byte-identical, and none of the alias or signature definitions it
// consulted changed. Everything else is marked stale for the resolver
// sweep. Cross-module and unknown resolutions never carry, so provider
// edits and checker recoveries are always picked up.
func carryResolutions(snap, prev *Snapshot) int {
	stale := langtag.Resolution{Stale: true}

	// an import edit can redirect any name, so nothing carries
	if !maps.Equal(prev.File.Context.Imports, snap.File.Context.Imports) {
		for _, ts := range snap.File.Templates {
			snap.Table.Set(ts.Span, stale)
		}
		return 0
	}

	edit, edited := textEdit(prev.Text, snap.Text)
	delta := len(snap.Text) - len(prev.Text)
	dirty := prev.Deps.Dependents(
		changedNames(prev.File.Context.Aliases, snap.File.Context.Aliases),
		changedSignatureNames(prev.File.Context.Signatures, snap.File.Context.Signatures))

	prevBySpan := make(map[position.Span]*pyscan.TemplateString, len(prev.File.Templates))
	for _, ts := range prev.File.Templates {
		prevBySpan[ts.Span] = ts
	}

	carried := 0
	for _, ts := range snap.File.Templates {
		old, clean := shiftedSpan(ts.Span, edit, edited, delta)
		if !clean {
			snap.Table.Set(ts.Span, stale)
			continue
		}
		if _, hit := dirty[old]; hit {
			snap.Table.Set(ts.Span, stale)
			continue
		}
		was, known := prevBySpan[old]
		res, found := prev.Table.Get(old)
		if !known || !found || !sameBinding(was, ts) ||
			res.Source == langtag.SourceCrossModule || res.Tag == langtag.Unknown {
			snap.Table.Set(ts.Span, stale)
			continue
		}
		snap.Table.Set(ts.Span, res)
		snap.Deps.Carry(prev.Deps, old, ts.Span)
		carried++
	}
	return carried
}

// shiftedSpan maps a span in the new text back to its old position.
// Spans touching the edited region do not map.
func shiftedSpan(s position.Span, edit position.Span, edited bool, delta int) (position.Span, bool) {
	if !edited {
		return s, true
	}
	if s.Intersects(edit) {
		return position.Span{}, false
	}
	if s.End <= edit.Start {
		return s, true
	}
	return s.Shift(-delta), true
}

// textEdit locates the contiguous differing region of the two texts as a
// span in the newer text. Identical texts report no edit.
func textEdit(before, after string) (position.Span, bool) {
	if before == after {
		return position.Span{}, false
	}
	p := 0
	for p < len(before) && p < len(after) && before[p] == after[p] {
		p++
	}
	be, ae := len(before), len(after)
	for be > p && ae > p && before[be-1] == after[ae-1] {
		be--
		ae--
	}
	return position.NewSpan(p, ae), true
}

// sameBinding reports whether two scans recovered the same binding
// context for a template. The annotation or call site can change without
// the string literal itself moving, so span identity alone is not enough.
func sameBinding(a, b *pyscan.TemplateString) bool {
	return a.Annotation == b.Annotation &&
		a.VarName == b.VarName &&
		a.CallName == b.CallName &&
		a.ArgIndex == b.ArgIndex &&
		a.KeywordArg == b.KeywordArg &&
		a.Raw == b.Raw
}

// changedNames reports alias names whose definition changed, appeared or
// disappeared between two scans.
func changedNames(prev, next map[string]string) []string {
	var out []string
	for name, rhs := range prev {
		if nrhs, ok := next[name]; !ok || nrhs != rhs {
			out = append(out, name)
		}
	}
	for name := range next {
		if _, ok := prev[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

func changedSignatureNames(prev, next map[string][]pyscan.Param) []string {
	var out []string
	for name, params := range prev {
		if nparams, ok := next[name]; !ok || !slices.Equal(nparams, params) {
			out = append(out, name)
		}
	}
	for name := range next {
		if _, ok := prev[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}
