package voice

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Subscriber keeps a WebSocket open to the relay's push endpoint and calls
// wake whenever the backend announces new signals. It is purely a latency
// optimization: the pump re-polls on every wakeup, and keeps interval
// polling as the fallback while the socket is down.
type Subscriber struct {
	wsURL string
	wake  func()
}

// NewSubscriber builds a subscriber for (roomID, address) against the
// backend at baseURL. baseURL uses the http/https scheme; the matching ws
// scheme is derived.
func NewSubscriber(baseURL, roomID, address string, wake func()) *Subscriber {
	ws := strings.Replace(baseURL, "http", "ws", 1)
	return &Subscriber{
		wsURL: ws + "/ws/signals/" + url.PathEscape(roomID) + "?address=" + url.QueryEscape(strings.ToLower(address)),
		wake:  wake,
	}
}

// Run dials and reads until ctx is cancelled, reconnecting with a flat
// backoff on failure.
func (s *Subscriber) Run(ctx context.Context) {
	const retryDelay = 3 * time.Second

	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
		if err != nil {
			slog.Debug("signal subscription dial failed", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}

		s.read(ctx, conn)
		conn.Close()
	}
}

func (s *Subscriber) read(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		// Frame contents are ignored; the poll is authoritative.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		s.wake()
	}
}
