package engine

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arb-edge/internal/domain"
	"arb-edge/internal/observability"
	"arb-edge/internal/storage"
)

// FeedConfig configures the engine push feed.
type FeedConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// PingInterval is the keepalive ping cadence.
	PingInterval time.Duration
	// ReadTimeout is the per-message read deadline.
	ReadTimeout time.Duration
	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration
}

// DefaultFeedConfig returns the default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Feed consumes the engine's WebSocket opportunity stream and persists
// validated records. It reconnects with exponential backoff and keeps the
// connection alive with periodic pings.
type Feed struct {
	endpoint string
	config   FeedConfig
	store    storage.OpportunityStore
	logger   *zap.Logger
	metrics  *observability.Metrics

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewFeed creates a Feed and starts consuming. The initial dial happens in
// the read loop, so a down engine at startup is handled like any other
// disconnect.
func NewFeed(endpoint string, store storage.OpportunityStore, config *FeedConfig, logger *zap.Logger, metrics *observability.Metrics) *Feed {
	cfg := DefaultFeedConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Feed{
		endpoint: endpoint,
		config:   cfg,
		store:    store,
		logger:   logger,
		metrics:  metrics,
		done:     make(chan struct{}),
	}

	f.wg.Add(2)
	go f.readLoop()
	go f.pingLoop()
	return f
}

// Close stops the feed and waits for its goroutines.
func (f *Feed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	return nil
}

func (f *Feed) connect() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(f.endpoint, nil)
	if err != nil {
		return err
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	return nil
}

// readLoop owns connection lifecycle: dial, read, and backoff on failure.
func (f *Feed) readLoop() {
	defer f.wg.Done()

	delay := f.config.ReconnectDelay

	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			if err := f.connect(); err != nil {
				if f.metrics != nil {
					f.metrics.EngineFeedReconnects.Inc()
				}
				f.logger.Warn("engine feed dial failed",
					zap.String("endpoint", f.endpoint),
					zap.Duration("retry_in", delay),
					zap.Error(err))

				select {
				case <-f.done:
					return
				case <-time.After(delay):
				}
				delay *= 2
				if delay > f.config.MaxReconnectDelay {
					delay = f.config.MaxReconnectDelay
				}
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}
			if f.metrics != nil {
				f.metrics.EngineFeedReconnects.Inc()
			}
			f.logger.Warn("engine feed read failed",
				zap.Duration("retry_in", delay),
				zap.Error(err))

			f.connMu.Lock()
			if f.conn != nil {
				f.conn.Close()
				f.conn = nil
			}
			f.connMu.Unlock()

			select {
			case <-f.done:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > f.config.MaxReconnectDelay {
				delay = f.config.MaxReconnectDelay
			}
			continue
		}

		delay = f.config.ReconnectDelay
		f.handleMessage(message)
	}
}

// handleMessage validates and persists one feed record. Malformed or
// invalid records are counted and skipped, never fatal.
func (f *Feed) handleMessage(message []byte) {
	var o domain.Opportunity
	if err := json.Unmarshal(message, &o); err != nil {
		f.count("invalid")
		f.logger.Warn("engine feed message is not valid json", zap.Error(err))
		return
	}
	if err := o.Validate(); err != nil {
		f.count("invalid")
		f.logger.Warn("engine feed record rejected", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := f.store.Upsert(ctx, &o); err != nil {
		f.count("error")
		f.logger.Warn("persisting feed record failed", zap.String("id", o.ID), zap.Error(err))
		return
	}
	f.count("stored")
}

func (f *Feed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Reader will observe the dead connection and reconnect.
				}
			}
			f.connMu.Unlock()
		}
	}
}

func (f *Feed) count(outcome string) {
	if f.metrics != nil {
		f.metrics.EngineFeedMessages.WithLabelValues(outcome).Inc()
	}
}
