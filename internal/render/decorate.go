package render

import (
	"html"
	"slices"
	"strings"

	nethtml "golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kamusis/symsvg/internal/catalogue"
)

// ShrinkClass is added to the root element of entries flagged shrink.
const ShrinkClass = "shrink"

// Title returns the accessible title for e: its upper-cased name, a period,
// and the keywords when there are any.
func Title(e *catalogue.Entry) string {
	t := cases.Upper(language.Und).String(e.Name) + "."
	if e.Keywords != "" {
		t += " Keywords: " + e.Keywords
	}
	return t
}

type edit struct {
	start, end int
	text       string
}

// Decorate rewrites rendered SVG markup for e. The content of the first
// <title> element is replaced with Title(e), keeping the element's
// attributes, and when e.Shrink is set the root element gains ShrinkClass.
// Markup without a title or root element is returned unchanged in that
// respect.
func Decorate(svg string, e *catalogue.Entry) string {
	var edits []edit

	z := nethtml.NewTokenizer(strings.NewReader(svg))
	offset := 0
	rootSeen := false
	titleStart := -1

scan:
	for {
		tt := z.Next()
		if tt == nethtml.ErrorToken {
			// io.EOF or malformed input; either way nothing more to rewrite.
			break
		}
		raw := z.Raw()
		start := offset
		offset += len(raw)

		switch tt {
		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			name, _ := z.TagName()
			if !rootSeen {
				rootSeen = true
				if e.Shrink {
					if ed, ok := shrinkEdit(svg[start:offset], start); ok {
						edits = append(edits, ed)
					}
				}
			}
			if tt == nethtml.StartTagToken && string(name) == "title" && titleStart < 0 {
				titleStart = offset
			}
		case nethtml.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "title" && titleStart >= 0 {
				edits = append(edits, edit{start: titleStart, end: start, text: html.EscapeString(Title(e))})
				break scan
			}
		}
	}

	if len(edits) == 0 {
		return svg
	}
	slices.SortFunc(edits, func(a, b edit) int { return b.start - a.start })
	out := svg
	for _, ed := range edits {
		out = out[:ed.start] + ed.text + out[ed.end:]
	}
	return out
}

// shrinkEdit computes the edit that puts ShrinkClass on the root tag whose
// raw text starts at start.
func shrinkEdit(raw string, start int) (edit, bool) {
	nameEnd, attrs := scanAttrs(raw)
	for _, a := range attrs {
		if !strings.EqualFold(raw[a.nameStart:a.nameEnd], "class") {
			continue
		}
		if a.valStart < 0 {
			// Bare "class" with no value.
			return edit{start: start + a.nameEnd, end: start + a.nameEnd, text: `="` + ShrinkClass + `"`}, true
		}
		val := raw[a.valStart:a.valEnd]
		if slices.Contains(strings.Fields(val), ShrinkClass) {
			return edit{}, false
		}
		text := ShrinkClass
		if val != "" {
			text += " " + val
		}
		if a.quoted {
			return edit{start: start + a.valStart, end: start + a.valEnd, text: text}, true
		}
		return edit{start: start + a.valStart, end: start + a.valEnd, text: `"` + text + `"`}, true
	}
	at := start + nameEnd
	return edit{start: at, end: at, text: ` class="` + ShrinkClass + `"`}, true
}

// attrSpan holds byte offsets of one attribute within a raw start tag.
// valStart is -1 for an attribute without a value; for quoted values the
// span excludes the quotes.
type attrSpan struct {
	nameStart, nameEnd int
	valStart, valEnd   int
	quoted             bool
}

// scanAttrs splits a raw start tag such as `<svg a="1" b=2 c>` into the end
// offset of its tag name and its attribute spans. Quoted values are skipped
// whole, so text inside them is never taken for an attribute.
func scanAttrs(raw string) (int, []attrSpan) {
	isSpace := func(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' }
	i := 1
	for i < len(raw) && !isSpace(raw[i]) && raw[i] != '>' && raw[i] != '/' {
		i++
	}
	nameEnd := i

	var attrs []attrSpan
	for i < len(raw) {
		for i < len(raw) && (isSpace(raw[i]) || raw[i] == '/') {
			i++
		}
		if i >= len(raw) || raw[i] == '>' {
			break
		}
		a := attrSpan{nameStart: i, valStart: -1}
		for i < len(raw) && !isSpace(raw[i]) && raw[i] != '=' && raw[i] != '>' && raw[i] != '/' {
			i++
		}
		a.nameEnd = i
		j := i
		for j < len(raw) && isSpace(raw[j]) {
			j++
		}
		if j < len(raw) && raw[j] == '=' {
			j++
			for j < len(raw) && isSpace(raw[j]) {
				j++
			}
			if j < len(raw) && (raw[j] == '"' || raw[j] == '\'') {
				q := raw[j]
				a.quoted = true
				a.valStart = j + 1
				k := strings.IndexByte(raw[a.valStart:], q)
				if k < 0 {
					a.valEnd = len(raw)
					i = len(raw)
				} else {
					a.valEnd = a.valStart + k
					i = a.valEnd + 1
				}
			} else {
				a.valStart = j
				for j < len(raw) && !isSpace(raw[j]) && raw[j] != '>' {
					j++
				}
				a.valEnd = j
				i = j
			}
		}
		attrs = append(attrs, a)
	}
	return nameEnd, attrs
}
