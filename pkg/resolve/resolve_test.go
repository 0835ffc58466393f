package resolve_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"github.com/koxudaxi/t-linter/pkg/langtag"
	"github.com/koxudaxi/t-linter/pkg/pyscan"
	"github.com/koxudaxi/t-linter/pkg/resolve"
)

type fakeClient struct {
	tags map[string]langtag.Tag
	err  error
}

func (f *fakeClient) ResolveSymbol(_ context.Context, module, symbol string) (langtag.Tag, error) {
	if f.err != nil {
		return langtag.Unknown, f.err
	}
	return f.tags[module+"."+symbol], nil
}

func resolveLast(t *testing.T, r *resolve.Resolver, src string) (langtag.Resolution, *resolve.DependencyIndex, *pyscan.File) {
	t.Helper()
	f := pyscan.Scan("test.py", src)
	require.NotEmpty(t, f.Templates)
	deps := resolve.NewDependencyIndex()
	ts := f.Templates[len(f.Templates)-1]
	return r.Resolve(context.Background(), f, ts, deps), deps, f
}

func TestResolvePriority(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		tag    langtag.Tag
		source langtag.Source
	}{
		{
			name:   "explicit annotated",
			src:    `q: Annotated[Template, "sql"] = t"SELECT 1"`,
			tag:    langtag.SQL,
			source: langtag.SourceExplicit,
		},
		{
			name: "explicit through import aliases",
			src: `from typing import Annotated as Ann
from string.templatelib import Template as Tmpl
page: Ann[Tmpl, "html"] = t"<p></p>"`,
			tag:    langtag.HTML,
			source: langtag.SourceExplicit,
		},
		{
			name: "pep 695 type alias",
			src: `type html = Annotated[Template, "html"]
page: html = t"<p></p>"`,
			tag:    langtag.HTML,
			source: langtag.SourceTypeAlias,
		},
		{
			name: "old style type alias with forward reference",
			src: `sql: TypeAlias = "Annotated[Template, 'sql']"
q: sql = t"SELECT 1"`,
			tag:    langtag.SQL,
			source: langtag.SourceTypeAlias,
		},
		{
			name: "alias chain",
			src: `type html = Annotated[Template, "html"]
type page_t = html
page: page_t = t"<p></p>"`,
			tag:    langtag.HTML,
			source: langtag.SourceTypeAlias,
		},
		{
			name: "optional wrapper is transparent",
			src: `type html = Annotated[Template, "html"]
page: Optional[html] = t"<p></p>"`,
			tag:    langtag.HTML,
			source: langtag.SourceTypeAlias,
		},
		{
			name: "parameter inference positional",
			src: `def render(template: Annotated[Template, "html"]): pass
render(t"<p></p>")`,
			tag:    langtag.HTML,
			source: langtag.SourceParameter,
		},
		{
			name: "parameter inference keyword",
			src: `def render(count: int, body: Annotated[Template, "css"]): pass
render(body=t"a {{}}")`,
			tag:    langtag.CSS,
			source: langtag.SourceParameter,
		},
		{
			name:   "bare template stays unhighlighted",
			src:    `x: Template = t"whatever"`,
			tag:    langtag.None,
			source: langtag.SourceExplicit,
		},
		{
			name:   "unknown tag name",
			src:    `x: Annotated[Template, "graphql"] = t"query {{}}"`,
			tag:    langtag.Unknown,
			source: langtag.SourceExplicit,
		},
		{
			name:   "untyped",
			src:    `x = t"plain"`,
			tag:    langtag.None,
			source: langtag.SourceNone,
		},
		{
			name:   "unrelated annotation",
			src:    `x: str = t"plain"`,
			tag:    langtag.None,
			source: langtag.SourceNone,
		},
		{
			name: "js normalizes to javascript",
			src:  `x: Annotated[Template, "js"] = t"let a = 1;"`,
			tag:  langtag.JavaScript, source: langtag.SourceExplicit,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _, _ := resolveLast(t, &resolve.Resolver{}, tt.src)
			assert.Equal(t, tt.tag, res.Tag)
			assert.Equal(t, tt.source, res.Source)
		})
	}
}

func TestResolveRecordsDependencies(t *testing.T) {
	src := `type html = Annotated[Template, "html"]
page: html = t"<p></p>"`
	res, deps, f := resolveLast(t, &resolve.Resolver{}, src)
	require.Equal(t, langtag.SourceTypeAlias, res.Source)
	dependents := deps.AliasDependents("html")
	require.Len(t, dependents, 1)
	assert.Equal(t, f.Templates[0].Span, dependents[0])
}

func TestDependencyIndexDependentsAndCarry(t *testing.T) {
	src := `page: styles = t"h1 red"` + "\n"
	_, deps, f := resolveLast(t, &resolve.Resolver{}, src)
	span := f.Templates[0].Span

	// consulted names are recorded even when no definition exists yet
	dependents := deps.Dependents([]string{"styles"}, nil)
	_, ok := dependents[span]
	assert.True(t, ok, "a missing alias still registers its dependents")

	next := resolve.NewDependencyIndex()
	shifted := span.Shift(10)
	next.Carry(deps, span, shifted)
	carried := next.AliasDependents("styles")
	require.Len(t, carried, 1)
	assert.Equal(t, shifted, carried[0])
}

func TestResolveSignatureDependency(t *testing.T) {
	src := `def render(body: Annotated[Template, "html"]): pass
render(t"<p></p>")`
	_, deps, f := resolveLast(t, &resolve.Resolver{}, src)
	dependents := deps.SignatureDependents("render")
	require.Len(t, dependents, 1)
	assert.Equal(t, f.Templates[0].Span, dependents[0])
}

func TestResolveCrossModule(t *testing.T) {
	src := `from myapp.tags import sql_t
q: sql_t = t"SELECT 1"`

	t.Run("client answers", func(t *testing.T) {
		r := &resolve.Resolver{Client: &fakeClient{
			tags: map[string]langtag.Tag{"myapp.tags.sql_t": langtag.SQL},
		}}
		res, _, _ := resolveLast(t, r, src)
		assert.Equal(t, langtag.SQL, res.Tag)
		assert.Equal(t, langtag.SourceCrossModule, res.Source)
	})

	t.Run("client failure degrades to unknown", func(t *testing.T) {
		r := &resolve.Resolver{Client: &fakeClient{err: errors.New("checker timed out")}}
		res, _, _ := resolveLast(t, r, src)
		assert.Equal(t, langtag.Unknown, res.Tag)
		assert.Equal(t, langtag.SourceNone, res.Source)
	})

	t.Run("no client stays untyped", func(t *testing.T) {
		res, _, _ := resolveLast(t, &resolve.Resolver{}, src)
		assert.Equal(t, langtag.None, res.Tag)
		assert.Equal(t, langtag.SourceNone, res.Source)
	})
}

func TestResolveAllFillsTable(t *testing.T) {
	src := `type html = Annotated[Template, "html"]
a: html = t"<p>1</p>"
b = t"two"
c: Annotated[Template, "sql"] = t"SELECT 3"`
	f := pyscan.Scan("test.py", src)
	table := langtag.NewTable(1)
	r := &resolve.Resolver{}
	r.ResolveAll(context.Background(), f, table, resolve.NewDependencyIndex())

	stats := table.Stats()
	assert.Equal(t, 3, stats.TotalTemplateStrings)
	assert.Equal(t, 1, stats.ByLanguageTag[langtag.HTML])
	assert.Equal(t, 1, stats.ByLanguageTag[langtag.SQL])
	assert.Equal(t, 1, stats.UntypedCount)
}

func TestAliasTags(t *testing.T) {
	src := `type html = Annotated[Template, "html"]
type q = Annotated[Template, "sql"]
type other = int
`
	f := pyscan.Scan("test.py", src)
	r := &resolve.Resolver{}
	tags := r.AliasTags(context.Background(), f)
	assert.Equal(t, langtag.HTML, tags["html"])
	assert.Equal(t, langtag.SQL, tags["q"])
	_, ok := tags["other"]
	assert.False(t, ok)
}
