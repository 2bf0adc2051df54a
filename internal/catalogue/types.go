package catalogue

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultKey is the top-level document key holding the symbol catalogue.
const DefaultKey = "mathSymbols"

// Entry is one renderable mathematical symbol.
//
// An svg key present in the document marks the entry as cached even when its
// value is empty or null; that raw value is written back unchanged.
type Entry struct {
	Name     string
	Keywords string
	Source   string
	Snippet  string
	Category string
	SVG      string
	Shrink   bool

	svgRaw json.RawMessage
}

// entryJSON is the on-disk shape of an Entry.
type entryJSON struct {
	Name     *string         `json:"name"`
	Keywords string          `json:"keywords,omitempty"`
	Source   *string         `json:"source"`
	Snippet  *string         `json:"snippet"`
	Category string          `json:"category,omitempty"`
	SVG      json.RawMessage `json:"svg,omitempty"`
	Shrink   bool            `json:"shrink,omitempty"`
}

// Cached reports whether the entry already carries a rendered artifact.
func (e *Entry) Cached() bool {
	return e.SVG != "" || e.svgRaw != nil
}

// UnmarshalJSON decodes an entry and checks that the fields needed for
// rendering are present.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch {
	case raw.Name == nil || *raw.Name == "":
		return fmt.Errorf("entry is missing name")
	case raw.Source == nil:
		return fmt.Errorf("entry %q is missing source", *raw.Name)
	case raw.Snippet == nil:
		return fmt.Errorf("entry %q is missing snippet", *raw.Name)
	}
	*e = Entry{
		Name:     *raw.Name,
		Keywords: raw.Keywords,
		Source:   *raw.Source,
		Snippet:  *raw.Snippet,
		Category: raw.Category,
		Shrink:   raw.Shrink,
	}
	if raw.SVG != nil {
		e.svgRaw = raw.SVG
		if string(raw.SVG) != "null" {
			if err := json.Unmarshal(raw.SVG, &e.SVG); err != nil {
				return fmt.Errorf("entry %q: svg is not a string", e.Name)
			}
		}
	}
	return nil
}

// MarshalJSON encodes the entry with markup left unescaped.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		Name:     &e.Name,
		Keywords: e.Keywords,
		Source:   &e.Source,
		Snippet:  &e.Snippet,
		Category: e.Category,
		SVG:      e.svgRaw,
		Shrink:   e.Shrink,
	}
	if e.SVG != "" {
		b, err := marshalUnescaped(e.SVG)
		if err != nil {
			return nil, err
		}
		out.SVG = b
	}
	return marshalUnescaped(out)
}

func marshalUnescaped(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Catalogue maps a category name to its ordered entries.
type Catalogue map[string][]*Entry

// Len returns the total number of entries across all categories.
func (c Catalogue) Len() int {
	n := 0
	for _, entries := range c {
		n += len(entries)
	}
	return n
}

// Document is a loaded catalogue file.
//
// Symbols is mutated in place by the render pipeline; every other top-level
// key of the file is carried through untouched.
type Document struct {
	Path    string
	Key     string
	Symbols Catalogue

	rest map[string]json.RawMessage
}
