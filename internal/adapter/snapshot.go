package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ingestlabs/marketfeed/internal/aggregate"
)

// SnapshotFetcher fetches a REST orderbook snapshot for the diff
// bootstrap path (spec §4.1 "cache until REST snapshot arrives").
type SnapshotFetcher interface {
	Fetch(ctx context.Context, instrument string) (aggregate.Snapshot, error)
}

type vendorDepthSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// restSnapshotFetcher hits the vendor's REST depth endpoint (spec §5
// timeouts: 5s, 3 attempts).
type restSnapshotFetcher struct {
	client  *resty.Client
	urlTmpl string // e.g. "https://fapi.binance.com/fapi/v1/depth?symbol=%s&limit=1000"
}

// NewRESTSnapshotFetcher builds a fetcher against urlTmpl, a format
// string taking the instrument symbol.
func NewRESTSnapshotFetcher(urlTmpl string) SnapshotFetcher {
	return &restSnapshotFetcher{
		client:  resty.New().SetTimeout(RestSnapshotTimeout),
		urlTmpl: urlTmpl,
	}
}

func (f *restSnapshotFetcher) Fetch(ctx context.Context, instrument string) (aggregate.Snapshot, error) {
	url := fmt.Sprintf(f.urlTmpl, instrument)

	var lastErr error
	for attempt := 0; attempt < RestSnapshotAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(250 * time.Millisecond):
			case <-ctx.Done():
				return aggregate.Snapshot{}, ctx.Err()
			}
		}

		var raw vendorDepthSnapshot
		resp, err := f.client.R().SetContext(ctx).SetResult(&raw).Get(url)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.IsError() {
			lastErr = fmt.Errorf("snapshot fetch: non-2xx status %d", resp.StatusCode())
			continue
		}

		bids, err := parseDepthLevels(raw.Bids)
		if err != nil {
			return aggregate.Snapshot{}, err
		}
		asks, err := parseDepthLevels(raw.Asks)
		if err != nil {
			return aggregate.Snapshot{}, err
		}
		return aggregate.Snapshot{LastUpdateID: raw.LastUpdateID, Bids: bids, Asks: asks}, nil
	}
	return aggregate.Snapshot{}, fmt.Errorf("snapshot fetch for %s failed after %d attempts: %w", instrument, RestSnapshotAttempts, lastErr)
}
