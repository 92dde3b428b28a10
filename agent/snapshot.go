package agent

import (
	"log/slog"
	nurl "net/url"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	readability "github.com/go-shiori/go-readability"
)

// maxSnapshotChars caps the markdown sent to the reasoning backend per step.
const maxSnapshotChars = 8000

// maxSnapshotLinks caps the candidate links surfaced alongside the content.
const maxSnapshotLinks = 20

// minContentLength is the minimum readability output length for the
// extraction to be considered valid; below it the raw HTML is used instead.
const minContentLength = 50

// PageView is what the agent "sees" of the current page in one step.
type PageView struct {
	URL     string
	Title   string
	Content string   // markdown, truncated
	Links   []string // absolute hrefs found on the page
}

// newMarkdownConverter creates a reusable, goroutine-safe Converter tuned for
// LLM consumption: scripts/styles/head noise stripped by the base plugin,
// commonmark rendering, and compact tables.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// capturePage renders the page into a compact textual view. Every failure is
// non-fatal: the agent must keep observing even on pages that choke the
// extraction pipeline, so fallbacks degrade towards raw text.
func capturePage(page *rod.Page, conv *converter.Converter) PageView {
	view := PageView{}

	if info, err := page.Info(); err == nil {
		view.URL = info.URL
		view.Title = info.Title
	}

	rawHTML, err := page.HTML()
	if err != nil {
		slog.Warn("snapshot: failed to read page HTML", "url", view.URL, "error", err)
		return view
	}

	content := rawHTML
	if article, err := readability.FromReader(strings.NewReader(rawHTML), parseURLOrNil(view.URL)); err == nil {
		if len(strings.TrimSpace(article.TextContent)) >= minContentLength {
			content = article.Content
			if view.Title == "" {
				view.Title = article.Title
			}
		}
	}

	markdown, err := conv.ConvertString(content, converter.WithDomain(view.URL))
	if err != nil {
		slog.Warn("snapshot: markdown conversion failed, using plain text", "url", view.URL, "error", err)
		markdown = content
	}
	if len(markdown) > maxSnapshotChars {
		markdown = truncateRunes(markdown, maxSnapshotChars) + "\n…(truncated)"
	}
	view.Content = markdown
	view.Links = extractLinks(rawHTML, view.URL)
	return view
}

// extractLinks pulls absolute hrefs out of the page, deduplicated in document
// order, capped at maxSnapshotLinks.
func extractLinks(rawHTML, baseURL string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}

	base := parseURLOrNil(baseURL)
	seen := make(map[string]struct{})
	var links []string

	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return true
		}
		if base != nil {
			if ref, err := nurl.Parse(href); err == nil {
				href = base.ResolveReference(ref).String()
			}
		}
		if !strings.HasPrefix(href, "http") {
			return true
		}
		if _, dup := seen[href]; dup {
			return true
		}
		seen[href] = struct{}{}
		links = append(links, href)
		return len(links) < maxSnapshotLinks
	})

	return links
}

// truncateRunes cuts s to at most n bytes without splitting a multi-byte
// rune, so the result stays valid UTF-8.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func parseURLOrNil(raw string) *nurl.URL {
	u, err := nurl.Parse(raw)
	if err != nil {
		return nil
	}
	return u
}
