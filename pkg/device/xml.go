package device

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// findFirst returns the trimmed character data of the first element named
// local anywhere in the document, matching at any depth the way the
// original //-style lookups did. Returns "" when absent or unparseable.
func findFirst(doc []byte, local string) string {
	return findFirstAny(doc, local)
}

// findFirstAny returns the text of whichever of the named elements appears
// first in document order.
func findFirstAny(doc []byte, locals ...string) string {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		for _, local := range locals {
			if start.Name.Local == local {
				var text string
				if err := dec.DecodeElement(&text, &start); err != nil {
					return ""
				}
				return strings.TrimSpace(text)
			}
		}
	}
}

// findScoped returns the text of the first element named local that appears
// inside an element named scope.
func findScoped(doc []byte, scope, local string) string {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == scope {
				depth++
				continue
			}
			if depth > 0 && t.Name.Local == local {
				var text string
				if err := dec.DecodeElement(&text, &t); err != nil {
					return ""
				}
				return strings.TrimSpace(text)
			}
		case xml.EndElement:
			if t.Name.Local == scope && depth > 0 {
				depth--
			}
		}
	}
}
