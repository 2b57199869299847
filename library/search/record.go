package search

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// ResultRecord is one normalized item returned by a source adapter.
// Everything except the identity fields is opaque to the scheduler.
type ResultRecord struct {
	UniqueID      string            `json:"unique_id"`
	SourcePlanKey string            `json:"source_plan_key"`
	SourceID      string            `json:"source_id"`
	ItemID        string            `json:"item_id"`
	Title         string            `json:"title"`
	Subtitle      string            `json:"subtitle,omitempty"`
	Link          string            `json:"link,omitempty"`
	DownloadURL   string            `json:"download_url,omitempty"`
	Category      string            `json:"category,omitempty"`
	Size          int64             `json:"size,omitempty"`
	Seeders       int               `json:"seeders,omitempty"`
	Leechers      int               `json:"leechers,omitempty"`
	Completed     int               `json:"completed,omitempty"`
	PublishedAt   *time.Time        `json:"published_at,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// UniqueID derives the dedup key of an item from its source and site-local id.
func UniqueID(sourceID, itemID string) string {
	sum := sha1.Sum([]byte(sourceID + "|" + itemID))
	return hex.EncodeToString(sum[:])
}

// identity returns the site-local id, falling back to links and title
// for adapters that cannot extract an explicit id.
func (r *ResultRecord) identity() string {
	switch {
	case r.ItemID != "":
		return r.ItemID
	case r.Link != "":
		return r.Link
	case r.DownloadURL != "":
		return r.DownloadURL
	default:
		return r.Title
	}
}
