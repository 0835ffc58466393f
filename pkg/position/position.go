// Package position provides byte-offset spans and line/column conversion
// for positions inside a document.
//
// All spans are half-open byte ranges [Start, End) into the document text.
// Wire positions (LSP) count columns in UTF-16 code units, so conversion
// helpers take the document text.
package position

import (
	"fmt"
	"strings"
)

// utf16RuneLen matches utf16.RuneLen, which is not available before Go 1.23.
func utf16RuneLen(r rune) int {
	switch {
	case 0 <= r && r < 0xD800, 0xE000 <= r && r < 0x10000:
		return 1
	case 0x10000 <= r && r <= 0x10FFFF:
		return 2
	default:
		return -1
	}
}

// Span is a half-open byte range in a document.
type Span struct {
	Start int
	End   int
}

func NewSpan(start, end int) Span {
	return Span{Start: start, End: end}
}

func (s Span) Len() int {
	return s.End - s.Start
}

func (s Span) IsEmpty() bool {
	return s.End <= s.Start
}

// Contains reports whether the byte offset falls inside the span.
func (s Span) Contains(offset int) bool {
	return offset >= s.Start && offset < s.End
}

// Intersects reports whether the two spans share at least one byte.
// Zero-length spans intersect anything they touch, so a pure insertion
// still dirties the span it lands in.
func (s Span) Intersects(o Span) bool {
	if s.IsEmpty() && o.IsEmpty() {
		return s.Start == o.Start
	}
	if s.IsEmpty() {
		return s.Start >= o.Start && s.Start <= o.End
	}
	if o.IsEmpty() {
		return o.Start >= s.Start && o.Start <= s.End
	}
	return s.Start < o.End && o.Start < s.End
}

// Shift returns the span moved by delta bytes.
func (s Span) Shift(delta int) Span {
	return Span{Start: s.Start + delta, End: s.End + delta}
}

func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}

// Place is a zero-based line number and a UTF-16 column, the coordinate
// system the protocol speaks.
type Place struct {
	Line      int
	Character int
}

// Range is a pair of places.
type Range struct {
	Start Place
	End   Place
}

// PlaceOf converts a byte offset into a Place within text.
// Offsets beyond the end of text clamp to the last position.
func PlaceOf(text string, offset int) Place {
	if offset > len(text) {
		offset = len(text)
	}
	lineStart := 0
	line := 0
	for i := 0; i < offset; i++ {
		if text[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}
	return Place{Line: line, Character: utf16Len(text[lineStart:offset])}
}

// RangeOf converts a byte span into a wire range within text.
func RangeOf(text string, s Span) Range {
	return Range{Start: PlaceOf(text, s.Start), End: PlaceOf(text, s.End)}
}

// OffsetOf converts a wire place back into a byte offset within text.
// Out-of-range places clamp to the nearest valid offset.
func OffsetOf(text string, p Place) int {
	offset := 0
	for line := 0; line < p.Line; line++ {
		next := strings.IndexByte(text[offset:], '\n')
		if next < 0 {
			return len(text)
		}
		offset += next + 1
	}
	lineEnd := strings.IndexByte(text[offset:], '\n')
	if lineEnd < 0 {
		lineEnd = len(text) - offset
	}
	lineText := text[offset : offset+lineEnd]

	units := 0
	for i, r := range lineText {
		if units >= p.Character {
			return offset + i
		}
		units += utf16RuneLen(r)
	}
	return offset + len(lineText)
}

// LineSpans splits a span into per-line sub-spans, excluding the newline
// bytes themselves. The protocol cannot express multi-line tokens, so
// callers split before encoding.
func LineSpans(text string, s Span) []Span {
	var out []Span
	start := s.Start
	for i := s.Start; i < s.End && i < len(text); i++ {
		if text[i] == '\n' {
			if i > start {
				out = append(out, Span{Start: start, End: i})
			}
			start = i + 1
		}
	}
	if s.End > start {
		out = append(out, Span{Start: start, End: s.End})
	}
	return out
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		u := utf16RuneLen(r)
		if u < 0 {
			u = 1
		}
		n += u
	}
	return n
}
