package redis

import "time"

const (
	keyPrefix         = "tracker-search/"
	keyPrefixSnapshot = keyPrefix + "snapshots/"

	// KeyHistory is the list of recently saved snapshots, oldest first.
	KeyHistory = keyPrefix + "history"

	defaultHistoryLimit = 100
	defaultTTL          = 72 * time.Hour
)
