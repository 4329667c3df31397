// Package tick - feed.go connects to the broker's live market-feed
// WebSocket and pushes every tick it receives into the Tick Cache. This
// is the "Broker/WS → Tick Cache" arrow: the only path by which real LTP
// data enters the system in live mode.
package tick

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shubhscalper/dhanscalper/internal/money"
)

const (
	feedReconnectDelay    = 1 * time.Second
	feedMaxReconnectDelay = 30 * time.Second
	feedPongWait          = 60 * time.Second
)

// FeedConfig holds connection settings for the live market-feed.
type FeedConfig struct {
	URL         string
	AccessToken string
	ClientID    string
}

// feedMessage is the wire shape of a single tick update from the feed.
// Real broker feeds are typically binary-framed; this engine's feed
// speaks a JSON text-frame variant, matching the subset Dhan's v2
// market-feed offers for the "Ticker" packet type.
type feedMessage struct {
	Segment    string  `json:"segment"`
	SecurityID string  `json:"security_id"`
	LTP        float64 `json:"ltp"`
	Timestamp  int64   `json:"ts"` // unix seconds
}

// Feed consumes a broker's live market-feed WebSocket and writes every
// tick into a Cache. Reconnects with exponential backoff on any read or
// dial error, so the engine doesn't need its own supervision loop.
type Feed struct {
	cfg    FeedConfig
	cache  *Cache
	logger *log.Logger
}

// NewFeed creates a Feed that pushes ticks into cache.
func NewFeed(cfg FeedConfig, cache *Cache, logger *log.Logger) *Feed {
	if logger == nil {
		logger = log.New(log.Writer(), "[tick-feed] ", log.LstdFlags)
	}
	return &Feed{cfg: cfg, cache: cache, logger: logger}
}

// Run connects and consumes until ctx is cancelled, reconnecting with
// exponential backoff (capped at feedMaxReconnectDelay) on any failure.
func (f *Feed) Run(ctx context.Context) {
	delay := feedReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := f.connectAndConsume(ctx); err != nil {
			f.logger.Printf("feed error: %v — reconnecting in %v", err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > feedMaxReconnectDelay {
				delay = feedMaxReconnectDelay
			}
		} else {
			delay = feedReconnectDelay
		}
	}
}

func (f *Feed) connectAndConsume(ctx context.Context) error {
	header := make(map[string][]string)
	if f.cfg.AccessToken != "" {
		header["access-token"] = []string{f.cfg.AccessToken}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.logger.Printf("feed connected: %s", f.cfg.URL)

	conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return nil
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return nil
			default:
				return err
			}
		}

		var msg feedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.logger.Printf("feed: dropping unparseable frame: %v", err)
			continue
		}

		t := Tick{
			Segment:    msg.Segment,
			SecurityID: msg.SecurityID,
			LTP:        money.NewFromFloat(msg.LTP),
		}
		if msg.Timestamp > 0 {
			t.TS = time.Unix(msg.Timestamp, 0)
		}

		if err := f.cache.Put(ctx, t); err != nil {
			f.logger.Printf("feed: failed to cache tick: %v", err)
		}
	}
}
