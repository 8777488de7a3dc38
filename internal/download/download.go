// Package download executes update plans: it fetches full artifacts and
// deltas in parallel, verifies every file against its digest and commits
// verified files into the instance through a plan scope.
package download

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cavaliergopher/grab/v3"
)

// Fetcher writes the content at url into dst. When offset is greater than
// zero the first offset bytes of dst are already correct and only the rest
// is requested; otherwise dst is rewritten from scratch. onBytes receives
// the number of bytes present in dst as the transfer advances.
type Fetcher interface {
	Fetch(ctx context.Context, url, dst string, offset int64, onBytes func(int64)) error
}

// GrabFetcher fetches over HTTP with grab, resuming with range requests
type GrabFetcher struct {
	client   *grab.Client
	interval time.Duration
}

// NewGrabFetcher creates a fetcher reporting progress every interval
func NewGrabFetcher(userAgent string, interval time.Duration) *GrabFetcher {
	client := grab.NewClient()
	if userAgent != "" {
		client.UserAgent = userAgent
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &GrabFetcher{client: client, interval: interval}
}

// Fetch implements Fetcher
func (g *GrabFetcher) Fetch(ctx context.Context, url, dst string, offset int64, onBytes func(int64)) error {
	if offset <= 0 {
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to reset %s: %w", dst, err)
		}
	}

	req, err := grab.NewRequest(dst, url)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req = req.WithContext(ctx)
	req.NoResume = offset <= 0

	resp := g.client.Do(req)

	// Progress loop
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	var last int64 = -1
	report := func() {
		if onBytes == nil {
			return
		}
		if n := resp.BytesComplete(); n != last {
			onBytes(n)
			last = n
		}
	}

	for {
		select {
		case <-ticker.C:
			report()
		case <-resp.Done:
			report()
			if err := resp.Err(); err != nil {
				return fmt.Errorf("download failed: %w", err)
			}
			return nil
		}
	}
}
