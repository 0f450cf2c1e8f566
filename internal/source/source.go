// Package source extracts raw rows from the three upstream feeds: the
// production ledger drop, the sensor telemetry table and the weather API.
package source

import (
	"context"

	"github.com/energitech/consolidator/internal/fetcher"
)

// RemoteDrop is a remote directory that can be listed and downloaded from.
// *fetcher.FTPFetcher satisfies it.
type RemoteDrop interface {
	fetcher.Fetcher
	List(ctx context.Context, dirURL string) ([]fetcher.FileInfo, error)
}

var _ RemoteDrop = (*fetcher.FTPFetcher)(nil)

// firstOf returns the first non-empty value among keys in rec.
func firstOf(rec map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != "" {
			return v
		}
	}
	return ""
}
