package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ParseDOCX extracts paragraph text from the main document part of a
// Word archive.
func ParseDOCX(body []byte) (*Document, error) {
	archive, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	var paragraphs []string
	found := false
	for _, f := range archive.File {
		if f.Name != "word/document.xml" {
			continue
		}
		found = true
		paragraphs, err = extractRuns(f)
		if err != nil {
			return nil, fmt.Errorf("read document.xml: %w", err)
		}
		break
	}
	if !found {
		return nil, fmt.Errorf("docx archive has no word/document.xml")
	}
	return officeDocument(paragraphs, map[string]any{"paragraph_count": len(paragraphs)}), nil
}

var slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// ParsePPTX extracts text runs from every slide of a PowerPoint
// archive, in slide order.
func ParsePPTX(body []byte) (*Document, error) {
	archive, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("open pptx: %w", err)
	}

	type slideFile struct {
		num  int
		file *zip.File
	}
	var slides []slideFile
	for _, f := range archive.File {
		m := slidePattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		slides = append(slides, slideFile{num: num, file: f})
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("pptx archive has no slides")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var paragraphs []string
	for _, slide := range slides {
		runs, err := extractRuns(slide.file)
		if err != nil {
			return nil, fmt.Errorf("read slide %d: %w", slide.num, err)
		}
		paragraphs = append(paragraphs, runs...)
	}
	return officeDocument(paragraphs, map[string]any{"slide_count": len(slides)}), nil
}

// extractRuns walks one OOXML part and gathers the text runs (w:t in
// Word, a:t in PowerPoint) grouped by paragraph.
func extractRuns(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var paragraphs []string
	var current strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab", "br":
				current.WriteByte(' ')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(current.String()); s != "" {
					paragraphs = append(paragraphs, s)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		paragraphs = append(paragraphs, s)
	}
	return paragraphs, nil
}

func officeDocument(paragraphs []string, meta map[string]any) *Document {
	joined := strings.Join(paragraphs, "\n\n")
	return &Document{
		Markdown: joined,
		Text:     collapseWhitespace(joined),
		Meta:     meta,
	}
}
