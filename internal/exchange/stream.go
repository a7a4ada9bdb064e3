// stream.go implements the user-data WebSocket stream.
//
// UserStream owns the full connection lifecycle: obtain a listen key,
// connect to <wsBase>/ws/<listenKey>, read with a deadline, keep the key
// alive on a ticker, and reconnect with exponential backoff (1s → 30s max)
// on any failure. A listenKeyExpired event tears the connection down and the
// next connect cycle fetches a fresh key. Normalized order events flow out
// of Events(); the reader goroutine never blocks on a slow consumer — it
// drops and logs instead.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/laodaluo/futures-watch/pkg/types"
)

const (
	streamReadTimeout  = 90 * time.Second // ~3 missed server pings triggers reconnect
	streamWriteTimeout = 10 * time.Second
	maxReconnectWait   = 30 * time.Second
	eventBufferSize    = 256
)

// UserStream is the account's user-data event feed.
type UserStream struct {
	client    *Client
	wsBaseURL string
	keepAlive time.Duration

	conn   *websocket.Conn
	connMu sync.Mutex

	listenKey   string
	listenKeyMu sync.Mutex

	eventCh chan *types.OrderEvent
	logger  *slog.Logger
}

// NewUserStream creates a user-data stream bound to the REST client that
// manages its listen key.
func NewUserStream(client *Client, wsBaseURL string, keepAlive time.Duration, logger *slog.Logger) *UserStream {
	return &UserStream{
		client:    client,
		wsBaseURL: wsBaseURL,
		keepAlive: keepAlive,
		eventCh:   make(chan *types.OrderEvent, eventBufferSize),
		logger:    logger.With("component", "user_stream"),
	}
}

// Events returns the channel of normalized order events.
func (s *UserStream) Events() <-chan *types.OrderEvent {
	return s.eventCh
}

// ErrListenKeyUnavailable marks a startup-time listen-key failure; the
// process exits nonzero instead of spinning on a misconfigured key pair.
var ErrListenKeyUnavailable = errors.New("listen key unavailable")

// Run connects and maintains the stream with auto-reconnect. Blocks until
// ctx is cancelled. Only the first listen-key creation failure is fatal;
// transient dial or read errors always reconnect.
func (s *UserStream) Run(ctx context.Context) error {
	backoff := time.Second
	first := true

	for {
		err := s.connectAndRead(ctx, first)
		if ctx.Err() != nil {
			s.destroyListenKey()
			return ctx.Err()
		}
		if first && errors.Is(err, ErrListenKeyUnavailable) {
			return err
		}
		first = false

		s.logger.Warn("stream disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			s.destroyListenKey()
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (s *UserStream) connectAndRead(ctx context.Context, firstConnect bool) error {
	key, err := s.client.CreateListenKey(ctx)
	if err != nil {
		if firstConnect {
			return fmt.Errorf("%w: %w", ErrListenKeyUnavailable, err)
		}
		return err
	}
	s.listenKeyMu.Lock()
	s.listenKey = key
	s.listenKeyMu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsBaseURL+"/ws/"+key, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		conn.Close()
		s.conn = nil
		s.connMu.Unlock()
	}()

	// The server pings us; answering pongs is enough to stay alive at the
	// socket level. The listen key has its own keep-alive cycle.
	conn.SetPingHandler(func(appData string) error {
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	keepAliveCtx, cancelKeepAlive := context.WithCancel(ctx)
	defer cancelKeepAlive()
	go s.keepAliveLoop(keepAliveCtx, key)

	s.logger.Info("user-data stream connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		switch InspectMessage(msg) {
		case StreamEventOrder:
			evt := NormalizeOrderEvent(msg)
			if evt == nil {
				s.logger.Debug("dropping malformed order update")
				continue
			}
			select {
			case s.eventCh <- evt:
			default:
				s.logger.Warn("event channel full, dropping order update",
					"symbol", evt.Symbol, "order_id", evt.OrderID)
			}
		case StreamEventListenKeyExpired:
			return fmt.Errorf("listen key expired")
		default:
			s.logger.Debug("ignoring stream message")
		}
	}
}

// keepAliveLoop refreshes the listen key until the connection context ends.
// A failed refresh closes the connection, so the read loop returns and Run
// reconnects with a fresh key.
func (s *UserStream) keepAliveLoop(ctx context.Context, key string) {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.client.KeepAliveListenKey(ctx, key); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("listen key keep-alive failed, reconnecting", "error", err)
				s.connMu.Lock()
				if s.conn != nil {
					s.conn.Close()
				}
				s.connMu.Unlock()
				return
			} else {
				s.logger.Debug("listen key refreshed")
			}
		}
	}
}

// destroyListenKey best-effort deletes the current key during shutdown.
func (s *UserStream) destroyListenKey() {
	s.listenKeyMu.Lock()
	key := s.listenKey
	s.listenKey = ""
	s.listenKeyMu.Unlock()
	if key == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.CloseListenKey(ctx, key); err != nil {
		s.logger.Warn("failed to close listen key", "error", err)
	}
}
