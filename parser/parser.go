package parser

import (
	"net/url"
	"strings"
)

// Document is the parsed form of a fetched page, ready for chunking
// and artifact storage.
type Document struct {
	Title    string
	Markdown string
	// Text is the whitespace-collapsed content used for chunking and
	// content hashing.
	Text  string
	Links []string
	Meta  map[string]any
	// Sheets is populated for spreadsheet documents only.
	Sheets []Sheet
}

// Sheet is one worksheet captured row by row.
type Sheet struct {
	Name string
	Rows [][]string
}

var contentTypeParsers = map[string]string{
	"text/html":             "html",
	"application/xhtml+xml": "html",
	"application/pdf":       "pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.ms-excel": "xlsx",
}

var extensionParsers = map[string]string{
	".html": "html",
	".htm":  "html",
	".pdf":  "pdf",
	".docx": "docx",
	".pptx": "pptx",
	".xlsx": "xlsx",
}

// SelectParser picks a parser by content type first, then by URL
// extension. Unknown content defaults to HTML.
func SelectParser(contentType, rawURL string) string {
	normalized := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if name, ok := contentTypeParsers[normalized]; ok {
		return name
	}
	if strings.HasPrefix(normalized, "text/") && normalized != "" {
		return "text"
	}
	if parsed, err := url.Parse(rawURL); err == nil {
		path := strings.ToLower(parsed.Path)
		for ext, name := range extensionParsers {
			if strings.HasSuffix(path, ext) {
				return name
			}
		}
	}
	return "html"
}

// Parse routes body to the right parser and returns the document along
// with the parser name that handled it.
func Parse(body []byte, contentType, rawURL string) (*Document, string, error) {
	name := SelectParser(contentType, rawURL)
	switch name {
	case "html":
		doc, err := ParseHTML(body, rawURL)
		return doc, name, err
	case "xlsx":
		doc, err := ParseXLSX(body)
		return doc, name, err
	case "docx":
		doc, err := ParseDOCX(body)
		return doc, name, err
	case "pptx":
		doc, err := ParsePPTX(body)
		return doc, name, err
	case "text":
		return ParseText(body), name, nil
	default:
		// pdf falls back to lossy text recovery; unreadable output is
		// dropped later by the chunk filter.
		return ParseBinary(body), name, nil
	}
}

// collapseWhitespace folds all whitespace runs into single spaces so
// the same content always hashes the same.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// decodeText recovers a UTF-8 string from arbitrary bytes, replacing
// invalid sequences.
func decodeText(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// ParseText handles plain-text payloads.
func ParseText(body []byte) *Document {
	text := collapseWhitespace(decodeText(body))
	return &Document{Markdown: text, Text: text, Meta: map[string]any{}}
}

// ParseBinary is the fallback for formats without a dedicated parser.
func ParseBinary(body []byte) *Document {
	text := collapseWhitespace(decodeText(body))
	return &Document{Markdown: text, Text: text, Meta: map[string]any{}}
}
