package tick

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func feedTestLogger() *log.Logger {
	return log.New(log.Writer(), "", 0)
}

func TestFeedConsumesTicksIntoCache(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		msg := feedMessage{Segment: "NSE_FNO", SecurityID: "49081", LTP: 123.45, Timestamp: time.Now().Unix()}
		b, _ := json.Marshal(msg)
		_ = conn.WriteMessage(websocket.TextMessage, b)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	cache := newTestCache()
	feed := NewFeed(FeedConfig{URL: wsURL}, cache, feedTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	feed.Run(ctx)

	ltp, ok := cache.Ltp(context.Background(), "NSE_FNO", "49081", false)
	if !ok {
		t.Fatal("expected tick to be cached from feed")
	}
	if ltp.Float64() != 123.45 {
		t.Errorf("expected LTP=123.45, got %v", ltp.Float64())
	}
}
