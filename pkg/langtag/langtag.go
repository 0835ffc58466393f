// Package langtag defines the closed registry of embedded languages a
// template string can carry, the provenance of a resolved tag, and the
// shared tables the resolver reads and writes.
//
// The registry is fixed at build time. Anything outside it normalizes to
// Unknown and is routed to the opaque fallback, never an error.
package langtag

import (
	"strings"
	"sync"

	"github.com/koxudaxi/t-linter/pkg/position"
)

// Tag is a resolved embedded-language identity.
type Tag string

const (
	HTML       Tag = "html"
	CSS        Tag = "css"
	JavaScript Tag = "javascript"
	JSON       Tag = "json"
	SQL        Tag = "sql"

	// None means the template carries no language annotation at all.
	None Tag = "none"
	// Unknown means an annotation exists but names no registered language,
	// or cross-module resolution failed.
	Unknown Tag = "unknown"
)

// Registry is the fixed set of highlightable tags.
var Registry = []Tag{HTML, CSS, JavaScript, JSON, SQL}

// Normalize maps annotation text to a registry tag. Unrecognized names
// become Unknown so the caller can fall back to opaque handling.
func Normalize(s string) Tag {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "html":
		return HTML
	case "css":
		return CSS
	case "javascript", "js":
		return JavaScript
	case "json":
		return JSON
	case "sql":
		return SQL
	case "":
		return None
	default:
		return Unknown
	}
}

// Highlightable reports whether t has a registered embedded grammar.
func (t Tag) Highlightable() bool {
	switch t {
	case HTML, CSS, JavaScript, JSON, SQL:
		return true
	}
	return false
}

// Source says where a resolved tag came from, in resolution priority order.
type Source string

const (
	SourceExplicit    Source = "explicit-annotation"
	SourceTypeAlias   Source = "type-alias"
	SourceParameter   Source = "parameter-inference"
	SourceCrossModule Source = "cross-module"
	SourceNone        Source = "none"
)

// Resolution is the resolved tag for one template-string span.
type Resolution struct {
	Tag    Tag
	Source Source

	// Stale marks the entry for re-resolution after an edit.
	Stale bool
}

// Table maps template-string spans to their resolution for one document
// version. Reads never block each other; writes swap whole entries.
type Table struct {
	mu      sync.RWMutex
	version int32
	entries map[position.Span]Resolution
}

func NewTable(version int32) *Table {
	return &Table{version: version, entries: make(map[position.Span]Resolution)}
}

func (t *Table) Version() int32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

func (t *Table) Get(span position.Span) (Resolution, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.entries[span]
	return r, ok
}

func (t *Table) Set(span position.Span, r Resolution) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[span] = r
}

// Snapshot returns a copy of the entries for read-only iteration.
func (t *Table) Snapshot() map[position.Span]Resolution {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[position.Span]Resolution, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Statistics is the aggregate the statistics request returns. Derived from
// the table on demand, never persisted.
type Statistics struct {
	TotalTemplateStrings int            `json:"totalTemplateStrings"`
	ByLanguageTag        map[Tag]int    `json:"byLanguageTag"`
	BySource             map[Source]int `json:"bySource"`

	// UntypedCount counts templates with no annotation at all. Unknown
	// tags (unrecognized names, failed cross-module lookups) are counted
	// separately so a checker outage does not inflate the untyped number.
	UntypedCount int `json:"untypedCount"`
	UnknownCount int `json:"unknownCount"`
}

// Stats computes the aggregate counts over the current table contents.
func (t *Table) Stats() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Statistics{
		ByLanguageTag: make(map[Tag]int),
		BySource:      make(map[Source]int),
	}
	for _, r := range t.entries {
		stats.TotalTemplateStrings++
		stats.ByLanguageTag[r.Tag]++
		stats.BySource[r.Source]++
		switch r.Tag {
		case None:
			stats.UntypedCount++
		case Unknown:
			stats.UnknownCount++
		}
	}
	return stats
}

// AliasTable is the per-module mapping from alias name to tag, published
// by the analysis pass so cross-module resolution can consult open
// documents before asking the external checker. It is read-mostly: an
// alias edit replaces the whole mapping, so concurrent readers observe
// either the old or the new table, never a mix.
type AliasTable struct {
	mu      sync.RWMutex
	aliases map[string]Tag
}

func NewAliasTable() *AliasTable {
	return &AliasTable{aliases: map[string]Tag{}}
}

func (a *AliasTable) Lookup(name string) (Tag, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.aliases[name]
	return t, ok
}

// Replace swaps the entire alias mapping.
func (a *AliasTable) Replace(aliases map[string]Tag) {
	next := make(map[string]Tag, len(aliases))
	for k, v := range aliases {
		next[k] = v
	}
	a.mu.Lock()
	a.aliases = next
	a.mu.Unlock()
}
