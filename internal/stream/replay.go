package stream

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"scenario-trader/internal/models"
)

// replayRow is one line of a price-path CSV:
//
//	symbol,price,high24h,low24h,ts
//	BTCUSDT,64000.5,,,2024-03-01T09:00:00Z
//
// high24h, low24h and ts are optional.
type replayRow struct {
	Symbol  string   `csv:"symbol"`
	Price   float64  `csv:"price"`
	High24h *float64 `csv:"high24h,omitempty"`
	Low24h  *float64 `csv:"low24h,omitempty"`
	TS      string   `csv:"ts,omitempty"`
}

// ReplayFeed publishes a recorded price path in order.
type ReplayFeed struct {
	quotes []models.Quote
	// Pace is the delay between quotes; zero replays as fast as possible.
	Pace time.Duration
}

// LoadReplayFile reads a price-path CSV file.
func LoadReplayFile(path string) (*ReplayFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening replay file: %w", err)
	}
	defer f.Close()
	return NewReplayFeed(f)
}

// NewReplayFeed parses a price-path CSV. Rows without a timestamp are
// stamped one second after the previous row.
func NewReplayFeed(r io.Reader) (*ReplayFeed, error) {
	var rows []*replayRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("parsing replay csv: %w", err)
	}

	quotes := make([]models.Quote, 0, len(rows))
	var last time.Time
	for i, row := range rows {
		symbol := strings.TrimSpace(row.Symbol)
		if symbol == "" || row.Price <= 0 {
			return nil, fmt.Errorf("replay row %d: symbol and positive price required", i+2)
		}
		ts, err := parseReplayTime(row.TS)
		if err != nil {
			return nil, fmt.Errorf("replay row %d: %w", i+2, err)
		}
		if ts.IsZero() {
			if last.IsZero() {
				last = time.Now().UTC().Truncate(time.Second)
			} else {
				last = last.Add(time.Second)
			}
			ts = last
		} else {
			last = ts
		}
		quotes = append(quotes, models.Quote{
			Symbol:    symbol,
			Price:     row.Price,
			High24h:   row.High24h,
			Low24h:    row.Low24h,
			Timestamp: ts,
		})
	}
	return &ReplayFeed{quotes: quotes}, nil
}

// Quotes returns the parsed price path.
func (r *ReplayFeed) Quotes() []models.Quote {
	return append([]models.Quote(nil), r.quotes...)
}

// Symbols returns the distinct symbols of the path in first-seen order.
func (r *ReplayFeed) Symbols() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, q := range r.quotes {
		if _, ok := seen[q.Symbol]; ok {
			continue
		}
		seen[q.Symbol] = struct{}{}
		out = append(out, q.Symbol)
	}
	return out
}

// Run publishes every quote to pub, honoring Pace, and returns how many
// were published before ctx was done.
func (r *ReplayFeed) Run(ctx context.Context, pub Publisher) (int, error) {
	for i, q := range r.quotes {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		pub.Publish(q)
		if r.Pace > 0 && i < len(r.quotes)-1 {
			select {
			case <-ctx.Done():
				return i + 1, ctx.Err()
			case <-time.After(r.Pace):
			}
		}
	}
	return len(r.quotes), nil
}

func parseReplayTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return unixTime(n), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ts %q", s)
	}
	return t.UTC(), nil
}
