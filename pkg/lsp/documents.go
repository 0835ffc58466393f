package lsp

import (
	"sync"

	"gitlab.com/tozd/go/errors"

	"github.com/koxudaxi/t-linter/pkg/analysis"
	"github.com/koxudaxi/t-linter/pkg/lsp/protocol"
	"github.com/koxudaxi/t-linter/pkg/position"
)

// docState tracks the open/closed lifecycle of a document. Requests
// against anything but an open document are protocol errors.
type docState int

const (
	stateOpen docState = iota
	stateClosed
)

// Document is one tracked text document. All field access goes through
// the mutex; analysis snapshots are immutable once stored.
type Document struct {
	mu sync.Mutex

	uri     protocol.DocumentURI
	version int32
	text    string
	state   docState

	snapshot *analysis.Snapshot
}

func (d *Document) Current() (int32, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version, d.text
}

// Advance applies a new version. Versions must be monotonic; an older
// version is rejected so late notifications cannot roll the text back.
func (d *Document) Advance(version int32, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != stateOpen {
		return errors.Errorf("document %s is closed", d.uri)
	}
	if version < d.version {
		return errors.Errorf("document %s: version %d is older than %d", d.uri, version, d.version)
	}
	d.version = version
	d.text = text
	return nil
}

// StoreSnapshot records the snapshot if it still matches the document's
// current version. Returns false for stale results.
func (d *Document) StoreSnapshot(snap *analysis.Snapshot) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != stateOpen || snap.Version != d.version {
		return false
	}
	d.snapshot = snap
	return true
}

func (d *Document) Snapshot() *analysis.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot
}

func (d *Document) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = stateClosed
	d.snapshot = nil
}

// DocumentManager tracks open documents by URI.
type DocumentManager struct {
	docs sync.Map // protocol.DocumentURI -> *Document
}

func NewDocumentManager() *DocumentManager {
	return &DocumentManager{}
}

// Open registers a document. Opening an already-open URI is an error.
func (m *DocumentManager) Open(uri protocol.DocumentURI, version int32, text string) (*Document, error) {
	doc := &Document{uri: uri, version: version, text: text, state: stateOpen}
	if _, loaded := m.docs.LoadOrStore(uri, doc); loaded {
		return nil, errors.Errorf("document %s is already open", uri)
	}
	return doc, nil
}

func (m *DocumentManager) Get(uri protocol.DocumentURI) (*Document, error) {
	v, ok := m.docs.Load(uri)
	if !ok {
		return nil, errors.Errorf("document %s is not open", uri)
	}
	return v.(*Document), nil
}

// Close removes a document. Closing twice is an error.
func (m *DocumentManager) Close(uri protocol.DocumentURI) error {
	v, ok := m.docs.LoadAndDelete(uri)
	if !ok {
		return errors.Errorf("document %s is not open", uri)
	}
	v.(*Document).close()
	return nil
}

// Each calls fn for every open document.
func (m *DocumentManager) Each(fn func(*Document)) {
	m.docs.Range(func(_, v any) bool {
		fn(v.(*Document))
		return true
	})
}

// applyChanges folds change events into the document text. A nil range
// replaces the whole text; ranged events splice at UTF-16 coordinates.
func applyChanges(text string, changes []protocol.TextDocumentContentChangeEvent) string {
	for _, ch := range changes {
		if ch.Range == nil {
			text = ch.Text
			continue
		}
		start := position.OffsetOf(text, position.Place{
			Line: int(ch.Range.Start.Line), Character: int(ch.Range.Start.Character)})
		end := position.OffsetOf(text, position.Place{
			Line: int(ch.Range.End.Line), Character: int(ch.Range.End.Character)})
		text = text[:start] + ch.Text + text[end:]
	}
	return text
}
