package adapters

import (
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cast"

	"github.com/Laisky/tracker-search/library/search"
)

// field names understood by BuildRecord, everything else lands in Extra
const (
	FieldID          = "id"
	FieldTitle       = "title"
	FieldSubtitle    = "subtitle"
	FieldLink        = "link"
	FieldDownloadURL = "download_url"
	FieldCategory    = "category"
	FieldSize        = "size"
	FieldSeeders     = "seeders"
	FieldLeechers    = "leechers"
	FieldCompleted   = "completed"
	FieldPublishedAt = "published_at"
	FieldTags        = "tags"
)

// BuildRecord converts one extracted row into a record.
// Relative links are resolved against base. It reports false for rows without a title.
func BuildRecord(row map[string]string, base *url.URL) (search.ResultRecord, bool) {
	r := search.ResultRecord{}
	for name, raw := range row {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}

		switch name {
		case FieldID:
			r.ItemID = v
		case FieldTitle:
			r.Title = strings.Join(strings.Fields(v), " ")
		case FieldSubtitle:
			r.Subtitle = v
		case FieldLink:
			r.Link = resolveURL(base, v)
		case FieldDownloadURL:
			r.DownloadURL = resolveURL(base, v)
		case FieldCategory:
			r.Category = v
		case FieldSize:
			r.Size = ParseSize(v)
		case FieldSeeders:
			r.Seeders = parseCount(v)
		case FieldLeechers:
			r.Leechers = parseCount(v)
		case FieldCompleted:
			r.Completed = parseCount(v)
		case FieldPublishedAt:
			r.PublishedAt = parseTime(v)
		case FieldTags:
			for _, tag := range strings.Split(v, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					r.Tags = append(r.Tags, tag)
				}
			}
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]string)
			}
			r.Extra[name] = v
		}
	}

	return r, r.Title != ""
}

// ParseSize parses "1.5 GiB", "700MB" or a plain byte count. Unparsable input yields 0.
func ParseSize(s string) int64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0
	}
	return int64(n)
}

func parseCount(s string) int {
	return cast.ToInt(strings.ReplaceAll(s, ",", ""))
}

// parseTime accepts unix seconds or any common date layout.
func parseTime(s string) *time.Time {
	if secs, err := cast.ToInt64E(s); err == nil && secs > 0 {
		t := time.Unix(secs, 0).UTC()
		return &t
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return nil
	}
	return &t
}

func resolveURL(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
