package resolve

import (
	"sync"

	"github.com/koxudaxi/t-linter/pkg/position"
)

// DependencyIndex records which alias and signature names each template
// span consulted, hit or miss, so an edit that changes, adds or removes
// a definition re-resolves only its dependents.
type DependencyIndex struct {
	mu         sync.Mutex
	aliases    map[string]map[position.Span]struct{}
	signatures map[string]map[position.Span]struct{}
}

func NewDependencyIndex() *DependencyIndex {
	return &DependencyIndex{
		aliases:    map[string]map[position.Span]struct{}{},
		signatures: map[string]map[position.Span]struct{}{},
	}
}

func (d *DependencyIndex) RecordAlias(name string, span position.Span) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.aliases[name] == nil {
		d.aliases[name] = map[position.Span]struct{}{}
	}
	d.aliases[name][span] = struct{}{}
}

func (d *DependencyIndex) RecordSignature(name string, span position.Span) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.signatures[name] == nil {
		d.signatures[name] = map[position.Span]struct{}{}
	}
	d.signatures[name][span] = struct{}{}
}

// AliasDependents returns the spans that resolved through the alias.
func (d *DependencyIndex) AliasDependents(name string) []position.Span {
	d.mu.Lock()
	defer d.mu.Unlock()
	return spansOf(d.aliases[name])
}

// SignatureDependents returns the spans that resolved through the
// function signature.
func (d *DependencyIndex) SignatureDependents(name string) []position.Span {
	d.mu.Lock()
	defer d.mu.Unlock()
	return spansOf(d.signatures[name])
}

// Dependents collects every span that consulted one of the named
// aliases or signatures.
func (d *DependencyIndex) Dependents(aliases, signatures []string) map[position.Span]struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[position.Span]struct{}{}
	for _, name := range aliases {
		for s := range d.aliases[name] {
			out[s] = struct{}{}
		}
	}
	for _, name := range signatures {
		for s := range d.signatures[name] {
			out[s] = struct{}{}
		}
	}
	return out
}

// Carry replays every edge recorded for old in from onto next, used when
// a resolution survives an edit without re-running resolution.
func (d *DependencyIndex) Carry(from *DependencyIndex, old, next position.Span) {
	from.mu.Lock()
	var aliases, signatures []string
	for name, set := range from.aliases {
		if _, ok := set[old]; ok {
			aliases = append(aliases, name)
		}
	}
	for name, set := range from.signatures {
		if _, ok := set[old]; ok {
			signatures = append(signatures, name)
		}
	}
	from.mu.Unlock()

	for _, name := range aliases {
		d.RecordAlias(name, next)
	}
	for _, name := range signatures {
		d.RecordSignature(name, next)
	}
}

// Reset clears the index for a fresh resolution pass.
func (d *DependencyIndex) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aliases = map[string]map[position.Span]struct{}{}
	d.signatures = map[string]map[position.Span]struct{}{}
}

func spansOf(set map[position.Span]struct{}) []position.Span {
	out := make([]position.Span, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}
