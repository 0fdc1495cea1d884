package pyth

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/vreff/BitThetix/pkg/models"
)

// maxUpdateAge bounds how stale a streamed sample may be before the
// client drops it.
const maxUpdateAge = 5 * 24 * time.Hour

// UpdateHandler receives each accepted price sample.
type UpdateHandler func(update models.PriceUpdate)

// StreamClient subscribes to the Hermes price service over a websocket
// and delivers push updates to a handler. The subscription lives for
// the client's lifetime and is torn down with Close.
type StreamClient struct {
	url       string
	conn      *websocket.Conn
	mu        sync.Mutex
	connected bool
	handler   UpdateHandler
	logger    *logrus.Logger
}

type subscribeMessage struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

type streamMessage struct {
	Type      string `json:"type"`
	PriceFeed struct {
		ID    string `json:"id"`
		Price struct {
			Price       string `json:"price"`
			Expo        int32  `json:"expo"`
			PublishTime int64  `json:"publish_time"`
		} `json:"price"`
	} `json:"price_feed"`
}

func NewStreamClient(url string, logger *logrus.Logger) *StreamClient {
	return &StreamClient{
		url:    url,
		logger: logger,
	}
}

func (sc *StreamClient) Connect(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.connected {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, sc.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to price stream: %w", err)
	}

	sc.conn = conn
	sc.connected = true

	go sc.readLoop(ctx)
	go sc.keepAlive(ctx)

	return nil
}

// Subscribe registers the handler and asks the service to stream the
// given feed IDs. Re-subscribing replaces the feed set.
func (sc *StreamClient) Subscribe(feedIDs []string, handler UpdateHandler) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.connected {
		return fmt.Errorf("price stream not connected")
	}

	sc.handler = handler
	return sc.conn.WriteJSON(subscribeMessage{Type: "subscribe", IDs: feedIDs})
}

func (sc *StreamClient) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg streamMessage
			err := sc.conn.ReadJSON(&msg)
			if err != nil {
				sc.mu.Lock()
				closed := !sc.connected
				sc.mu.Unlock()
				if !closed {
					sc.logger.WithError(err).Error("Failed to read price stream message")
					sc.disconnect()
				}
				return
			}

			if msg.Type != "price_update" {
				continue
			}

			update, ok := sc.parseUpdate(msg)
			if !ok {
				continue
			}

			sc.mu.Lock()
			handler := sc.handler
			sc.mu.Unlock()
			if handler != nil {
				handler(update)
			}
		}
	}
}

func (sc *StreamClient) parseUpdate(msg streamMessage) (models.PriceUpdate, bool) {
	raw, err := strconv.ParseInt(msg.PriceFeed.Price.Price, 10, 64)
	if err != nil {
		sc.logger.WithError(err).WithField("feed_id", msg.PriceFeed.ID).Debug("Unparseable price sample")
		return models.PriceUpdate{}, false
	}

	update := models.PriceUpdate{
		FeedID:      msg.PriceFeed.ID,
		Price:       float64(raw) * math.Pow10(int(msg.PriceFeed.Price.Expo)),
		PublishTime: msg.PriceFeed.Price.PublishTime,
	}

	if update.Price == 0 || update.Age(time.Now()) > maxUpdateAge {
		return models.PriceUpdate{}, false
	}
	return update, true
}

func (sc *StreamClient) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.mu.Lock()
			if sc.connected {
				if err := sc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					sc.logger.WithError(err).Error("Failed to ping price stream")
					sc.mu.Unlock()
					sc.disconnect()
					return
				}
			}
			sc.mu.Unlock()
		}
	}
}

// Close tears down the subscription and closes the connection.
func (sc *StreamClient) Close() {
	sc.disconnect()
}

func (sc *StreamClient) disconnect() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.connected = false
	if sc.conn != nil {
		sc.conn.Close()
	}
}
