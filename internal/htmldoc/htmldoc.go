// Package htmldoc inspects markup documents without interpreting them:
// title lookup for catalog records and the head-tag position used by the
// content server's base rewrite.
package htmldoc

import (
	"bytes"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Title returns the trimmed text of the first <title> element, or "".
func Title(doc []byte) string {
	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) != atom.Title {
				continue
			}
			// The tokenizer treats <title> content as raw text, so the whole
			// body arrives as one text token.
			var b strings.Builder
			for {
				tt := z.Next()
				if tt == html.TextToken {
					b.Write(z.Text())
					continue
				}
				break
			}
			return strings.Join(strings.Fields(b.String()), " ")
		}
	}
}

// TitleFromFilename derives a readable title from a document filename:
// "space_invaders-v2.html" becomes "Space Invaders V2".
func TitleFromFilename(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	base = strings.Join(strings.Fields(base), " ")
	if base == "" {
		return name
	}
	return cases.Title(language.Und).String(base)
}

// DeriveTitle prefers the document's <title>, falling back to the filename.
func DeriveTitle(doc []byte, filename string) string {
	if t := Title(doc); t != "" {
		return t
	}
	return TitleFromFilename(filename)
}

// HeadEnd returns the byte offset just past the first opening <head> tag,
// matched case-insensitively wherever it appears, or -1 if the document has
// none. Comments and doctype declarations are skipped; <header> does not match.
func HeadEnd(doc []byte) int {
	z := html.NewTokenizer(bytes.NewReader(doc))
	offset := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return -1
		}
		offset += len(z.Raw())
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		if name, _ := z.TagName(); atom.Lookup(name) == atom.Head {
			return offset
		}
	}
}
