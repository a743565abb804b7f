package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"auction_go/internal/domain"
)

// pollResponse is the REST snapshot format: every known feed in one call.
type pollResponse struct {
	Feed  string `json:"feed"`
	Price string `json:"price"`
	Ts    int64  `json:"ts"` // unix ms
}

// Poller fetches feed snapshots over HTTP on a fixed interval. It backs up
// the streaming worker: a table fed by either source serves the bid path.
type Poller struct {
	sink         Sink
	pollInterval time.Duration
	apiURL       string
	httpClient   *http.Client
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewPoller creates a poller with the default interval.
func NewPoller(apiURL string, sink Sink) *Poller {
	return &Poller{
		sink:         sink,
		pollInterval: 60 * time.Second,
		apiURL:       apiURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewPollerWithConfig creates a poller with a custom interval.
func NewPollerWithConfig(apiURL string, sink Sink, pollIntervalSec int) *Poller {
	p := NewPoller(apiURL, sink)
	if pollIntervalSec > 0 {
		p.pollInterval = time.Duration(pollIntervalSec) * time.Second
	}
	return p
}

// Start begins polling. The first fetch happens immediately.
func (p *Poller) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	if err := p.fetch(ctx); err != nil {
		slog.Warn("Initial feed snapshot fetch failed", slog.Any("error", err))
		// Will retry on the next tick.
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Feed polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Feed polling stopped")
				return
			case <-ticker.C:
				if err := p.fetch(ctx); err != nil {
					slog.Warn("Feed snapshot fetch failed", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

// fetch retries up to 3 times with exponential backoff.
func (p *Poller) fetch(ctx context.Context) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			delay := time.Duration(1<<uint(i-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := p.doFetch(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("Feed snapshot attempt failed", slog.Int("attempt", i+1), slog.Any("error", err))
	}
	return lastErr
}

func (p *Poller) doFetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var data []pollResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("empty snapshot response")
	}

	for _, entry := range data {
		price, err := decimal.NewFromString(entry.Price)
		if err != nil || price.Sign() <= 0 {
			slog.Debug("Skipping unusable snapshot entry",
				slog.String("feed", entry.Feed), slog.String("price", entry.Price))
			continue
		}
		at := time.UnixMilli(entry.Ts)
		if entry.Ts == 0 {
			at = time.Now()
		}
		p.sink.Set(domain.FeedRef(entry.Feed), price, at)
	}

	return nil
}

// Stop stops the polling.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}
