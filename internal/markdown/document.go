// Package markdown implements the reversible document mapping between item
// records and markdown files with a structured header (C6, spec.md §4.5).
// The header is encoded as TOML — the same format used for the server's own
// configuration (internal/config) — delimited by "+++" lines, Hugo-style,
// followed by a "---" divider and the item's primary markdown field as body.
package markdown

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	headerDelim = "+++"
	bodyDivider = "---"
)

// Document is the parsed form of one exported item: a key/value header plus
// a markdown body (spec.md §4.5).
type Document struct {
	Header map[string]any
	Body   string
}

// Encode renders a Document as canonical markdown text: a TOML header
// between "+++" lines, a "---" divider, then the body verbatim.
func Encode(doc Document) (string, error) {
	var b strings.Builder
	b.WriteString(headerDelim)
	b.WriteString("\n")
	enc := toml.NewEncoder(&b)
	if err := enc.Encode(orderedHeader(doc.Header)); err != nil {
		return "", fmt.Errorf("markdown: encode header: %w", err)
	}
	b.WriteString(headerDelim)
	b.WriteString("\n")
	b.WriteString(bodyDivider)
	b.WriteString("\n\n")
	b.WriteString(doc.Body)
	return b.String(), nil
}

// Decode parses canonical markdown text produced by Encode back into a
// Document. Round-trip is byte-exact for canonically formatted input
// (spec.md §6 "Markdown document format").
func Decode(text string) (Document, error) {
	lines := strings.Split(text, "\n")
	if len(lines) < 1 || strings.TrimSpace(lines[0]) != headerDelim {
		return Document{}, fmt.Errorf("markdown: missing opening %q delimiter", headerDelim)
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == headerDelim {
			end = i
			break
		}
	}
	if end == -1 {
		return Document{}, fmt.Errorf("markdown: missing closing %q delimiter", headerDelim)
	}

	headerText := strings.Join(lines[1:end], "\n")
	var header map[string]any
	if _, err := toml.Decode(headerText, &header); err != nil {
		return Document{}, fmt.Errorf("markdown: decode header: %w", err)
	}

	rest := lines[end+1:]
	bodyStart := 0
	if len(rest) > 0 && strings.TrimSpace(rest[0]) == bodyDivider {
		bodyStart = 1
		if len(rest) > 1 && strings.TrimSpace(rest[1]) == "" {
			bodyStart = 2
		}
	}
	body := ""
	if bodyStart < len(rest) {
		body = strings.Join(rest[bodyStart:], "\n")
	}

	return Document{Header: header, Body: body}, nil
}

// RequiredHeaderKeys mirrors spec.md §6: every document header MUST contain
// slug (for memory) or id (for work items), type, and namespace.
func RequiredHeaderKeys(header map[string]any, idKey string) error {
	if _, ok := header[idKey]; !ok {
		return fmt.Errorf("markdown: header missing required key %q", idKey)
	}
	for _, key := range []string{"type", "namespace"} {
		if _, ok := header[key]; !ok {
			return fmt.Errorf("markdown: header missing required key %q", key)
		}
	}
	return nil
}

// orderedHeader returns header unchanged; toml.Encoder sorts map keys
// itself, which is what gives Encode its canonical, round-trip-stable
// output.
func orderedHeader(header map[string]any) map[string]any {
	if header == nil {
		return map[string]any{}
	}
	return header
}
