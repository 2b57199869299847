// Package jsonapi extracts rows from JSON search APIs using dot paths.
package jsonapi

import (
	"net/url"

	"github.com/Laisky/errors/v2"
	"github.com/tidwall/gjson"

	"github.com/Laisky/tracker-search/library/sites"
)

// Extractor reads entry.Rows as the path of the item array and
// entry.Fields as paths relative to each item.
type Extractor struct{}

// New constructs an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns one field map per item.
func (e *Extractor) Extract(body []byte, _ *url.URL, entry sites.Entry) ([]map[string]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("response is not valid json")
	}

	rows := gjson.GetBytes(body, entry.Rows)
	if !rows.Exists() {
		return nil, errors.Errorf("rows path %q not found", entry.Rows)
	}
	if !rows.IsArray() {
		return nil, errors.Errorf("rows path %q is not an array", entry.Rows)
	}

	var out []map[string]string
	rows.ForEach(func(_, item gjson.Result) bool {
		row := make(map[string]string, len(entry.Fields))
		for name, path := range entry.Fields {
			if v := item.Get(path); v.Exists() {
				row[name] = v.String()
			}
		}
		out = append(out, row)
		return true
	})

	return out, nil
}
