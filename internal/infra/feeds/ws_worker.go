// Package feeds streams reference prices from an external oracle endpoint
// into the price table the bid path normalizes against.
package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"auction_go/internal/domain"
	"auction_go/internal/infra"
)

const (
	wsMaxRetries   = 10
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 60 * time.Second

	userAgent = "auction-go/1.0"
)

// Sink receives price observations. *oracle.PriceTable satisfies it.
type Sink interface {
	Set(feed domain.FeedRef, price decimal.Decimal, updatedAt time.Time)
}

// priceMessage is one streamed observation.
type priceMessage struct {
	Type  string `json:"type"`
	Feed  string `json:"feed"`
	Price string `json:"price"` // decimal string, exact
	Ts    int64  `json:"ts"`    // unix ms
}

// Worker holds one WebSocket subscription for a set of feeds and reconnects
// with exponential backoff until stopped.
type Worker struct {
	url       string
	feeds     []domain.FeedRef
	sink      Sink
	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a feed worker. sink must not be nil.
func NewWorker(url string, feeds []domain.FeedRef, sink Sink) *Worker {
	return &Worker{
		url:   url,
		feeds: feeds,
		sink:  sink,
	}
}

// Connect starts the connection loop with automatic reconnection.
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.connectionLoop(ctx)

	return nil
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Feed worker panic recovered", slog.Any("panic", r))
		}
	}()

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("Feed connection loop stopped")
			return
		default:
		}

		err := w.connect(ctx)
		if err != nil {
			slog.Warn("Feed connection failed",
				slog.Any("error", err),
				slog.Int("retry", retryCount),
			)

			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > wsMaxRetries {
				slog.Error("Feed max retries exceeded, resetting counter")
				retryCount = 0
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retryCount = 0

		w.readLoop(ctx)
	}
}

// connect establishes the connection and subscribes to all feeds.
func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	header := make(http.Header)
	header.Add("User-Agent", userAgent)

	conn, _, err := dialer.DialContext(ctx, w.url, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if err := w.subscribe(); err != nil {
		w.closeConnection()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	infra.GlobalMetrics.IncrementFeeds()
	slog.Info("Feed WebSocket connected",
		slog.Int("feeds", len(w.feeds)),
	)

	return nil
}

func (w *Worker) subscribe() error {
	names := make([]string, len(w.feeds))
	for i, feed := range w.feeds {
		names[i] = string(feed)
	}

	subscribeMsg := map[string]interface{}{
		"op":    "subscribe",
		"feeds": names,
	}

	msgBytes, err := json.Marshal(subscribeMsg)
	if err != nil {
		return err
	}

	return w.threadSafeWrite(websocket.TextMessage, msgBytes)
}

// threadSafeWrite serializes writes; ping and subscribe share the socket.
func (w *Worker) threadSafeWrite(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("connection is nil")
	}

	return conn.WriteMessage(messageType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pingTicker.C:
				if err := w.threadSafeWrite(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.closeConnection()
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Feed WebSocket read error", slog.Any("error", err))
			}
			w.closeConnection()
			return
		}

		w.handleMessage(message)
	}
}

func (w *Worker) handleMessage(message []byte) {
	var msg priceMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		slog.Debug("Feed message parse error", slog.Any("error", err))
		return
	}

	if msg.Type != "price" || msg.Feed == "" {
		return
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		slog.Debug("Feed price parse error",
			slog.String("feed", msg.Feed), slog.Any("error", err))
		return
	}
	if price.Sign() <= 0 {
		// Non-positive observations never reach the table; the bid path
		// treats them as unpriced anyway.
		return
	}

	at := time.UnixMilli(msg.Ts)
	if msg.Ts == 0 {
		at = time.Now()
	}

	w.sink.Set(domain.FeedRef(msg.Feed), price, at)
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	if w.connected {
		infra.GlobalMetrics.DecrementFeeds()
	}
	w.connected = false
}

// Disconnect closes the connection and waits for the loop to finish.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
	slog.Info("Feed WebSocket disconnected")
}

// IsConnected returns connection status.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}
