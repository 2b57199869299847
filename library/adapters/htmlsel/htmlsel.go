// Package htmlsel extracts rows from HTML result pages using CSS selectors.
//
// A field selector may end in "@attr" to read an attribute instead of the text,
// e.g. "td a.download@href". An empty selector before "@" addresses the row itself.
package htmlsel

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/PuerkitoBio/goquery"

	"github.com/Laisky/tracker-search/library/sites"
)

// Extractor selects entry.Rows and evaluates entry.Fields inside every row.
type Extractor struct{}

// New constructs an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns one field map per selected row.
func (e *Extractor) Extract(body []byte, _ *url.URL, entry sites.Entry) ([]map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "parse html")
	}

	var out []map[string]string
	doc.Find(entry.Rows).Each(func(_ int, s *goquery.Selection) {
		row := make(map[string]string, len(entry.Fields))
		for name, sel := range entry.Fields {
			if v, ok := Select(s, sel); ok {
				row[name] = v
			}
		}
		out = append(out, row)
	})

	return out, nil
}

// Select evaluates a "selector[@attr]" expression relative to s.
func Select(s *goquery.Selection, expr string) (string, bool) {
	selector, attr := splitAttr(expr)

	target := s
	if selector != "" {
		target = s.Find(selector).First()
	}
	if target.Length() == 0 {
		return "", false
	}

	if attr != "" {
		return target.Attr(attr)
	}
	return strings.Join(strings.Fields(target.Text()), " "), true
}

func splitAttr(expr string) (selector, attr string) {
	expr = strings.TrimSpace(expr)
	i := strings.LastIndex(expr, "@")
	if i < 0 {
		return expr, ""
	}

	attr = expr[i+1:]
	// "@" inside an attribute selector such as a[href*="@"]
	if attr == "" || strings.ContainsAny(attr, " ]\"'") {
		return expr, ""
	}
	return strings.TrimSpace(expr[:i]), attr
}
