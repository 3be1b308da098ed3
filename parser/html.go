package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Phrases that identify navigation chrome and login banners. Any
// section dominated by one of these is layout, not content.
var boilerplatePhrases = []string{
	"table of contents",
	"close menu",
	"sign in",
	"sign in to view",
	"skip to main content",
	"burger menu",
}

// ParseHTML extracts title, main content, and outgoing links from an
// HTML page. Links are resolved against base before layout stripping,
// so navigation links still feed the frontier.
func ParseHTML(body []byte, base string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href == "" {
			return
		}
		resolved, err := baseURL.Parse(href)
		if err != nil {
			return
		}
		links = append(links, resolved.String())
	})

	stripLayout(doc)

	content := doc.Find("main").First()
	if content.Length() == 0 {
		content = doc.Find("article").First()
	}
	if content.Length() == 0 {
		content = doc.Find("body").First()
	}
	if content.Length() == 0 {
		content = doc.Selection
	}

	text := collapseWhitespace(content.Text())
	markdown := ""
	if html, err := goquery.OuterHtml(content); err == nil {
		if md, err := htmltomarkdown.ConvertString(html); err == nil {
			markdown = strings.TrimSpace(md)
		}
	}

	// Aggressive stripping can hollow out pages whose content lives in
	// generic divs; recover those through readability.
	if text == "" {
		if article, err := readability.FromReader(bytes.NewReader(body), baseURL); err == nil {
			text = collapseWhitespace(article.TextContent)
			if markdown == "" {
				markdown = text
			}
			if title == "" {
				title = strings.TrimSpace(article.Title)
			}
		}
	}
	if markdown == "" {
		markdown = text
	}

	return &Document{
		Title:    title,
		Markdown: markdown,
		Text:     text,
		Links:    links,
		Meta:     map[string]any{"link_count": len(links)},
	}, nil
}

func stripLayout(doc *goquery.Document) {
	doc.Find("script, style, noscript").Remove()
	doc.Find("header, nav, footer, aside").Remove()
	doc.Find(`[role="navigation"], [role="banner"], [role="contentinfo"]`).Remove()

	doc.Find("section, div, aside").Each(func(_ int, s *goquery.Selection) {
		text := strings.ToLower(collapseWhitespace(s.Text()))
		if text == "" {
			return
		}
		for _, phrase := range boilerplatePhrases {
			if strings.Contains(text, phrase) && len(text) < 200 {
				s.Remove()
				return
			}
		}
	})
}
