package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/moltenlava16/kalshi-arbitrage/internal/domain"
	"github.com/moltenlava16/kalshi-arbitrage/internal/fees"
)

const (
	// wsWriteWait is the time allowed to write a message to the peer.
	wsWriteWait = 10 * time.Second

	// wsPongWait is the time allowed to read the next pong message.
	wsPongWait = 30 * time.Second

	// wsPingPeriod sends pings at this interval. Must be less than pongWait.
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsReconnectDelay is the base delay before attempting to reconnect.
	wsReconnectDelay = 2 * time.Second

	// wsMaxReconnectDelay caps the exponential backoff.
	wsMaxReconnectDelay = 60 * time.Second

	wsHandshakeTimeout = 15 * time.Second
)

// wsChannels are the server channels every subscription requests.
var wsChannels = []string{"orderbook_delta", "fill", "market_lifecycle_v2"}

// WSClient maintains the market-data connection and converts wire messages
// into the typed feed stream. It implements the feed source contract:
// Messages, Resubscribe and Reconnects.
type WSClient struct {
	wsURL   string
	signer  *Signer
	tickers []string
	fees    fees.Model
	logger  *slog.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	cmdID int64

	msgs       chan domain.FeedMessage
	reconnects chan struct{}
}

// NewWSClient creates a client subscribing to the given market tickers.
func NewWSClient(wsURL string, signer *Signer, tickers []string, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:      wsURL,
		signer:     signer,
		tickers:    tickers,
		fees:       fees.NewSchedule(),
		logger:     logger.With(slog.String("component", "kalshi_ws")),
		msgs:       make(chan domain.FeedMessage, 1024),
		reconnects: make(chan struct{}, 1),
	}
}

// Messages delivers the typed feed stream. Closed when Run returns.
func (w *WSClient) Messages() <-chan domain.FeedMessage { return w.msgs }

// Reconnects signals each re-established connection after the first.
func (w *WSClient) Reconnects() <-chan struct{} { return w.reconnects }

// Run dials and reads until ctx is canceled, reconnecting with exponential
// backoff bounded by wsMaxReconnectDelay.
func (w *WSClient) Run(ctx context.Context) error {
	defer close(w.msgs)

	delay := wsReconnectDelay
	first := true
	for {
		conn, err := w.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("dial failed, backing off",
				slog.String("error", err.Error()),
				slog.Duration("delay", delay),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > wsMaxReconnectDelay {
				delay = wsMaxReconnectDelay
			}
			continue
		}
		delay = wsReconnectDelay

		w.mu.Lock()
		w.conn = conn
		w.mu.Unlock()

		if first {
			first = false
		} else {
			// Local book state cannot be trusted across a disconnect.
			select {
			case w.reconnects <- struct{}{}:
			default:
			}
		}

		if err := w.subscribe(w.tickers); err != nil {
			w.logger.Error("subscribe failed", slog.String("error", err.Error()))
			conn.Close()
			continue
		}
		w.logger.Info("connected", slog.Int("tickers", len(w.tickers)))

		pingDone := make(chan struct{})
		go w.pingLoop(conn, pingDone)
		w.readLoop(ctx, conn)
		close(pingDone)
		conn.Close()

		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Resubscribe asks the server for a fresh snapshot of one market by cycling
// its subscription.
func (w *WSClient) Resubscribe(_ context.Context, ticker string) error {
	if err := w.sendCommand("unsubscribe", []string{ticker}); err != nil {
		return fmt.Errorf("kalshi/ws: unsubscribe %s: %w", ticker, err)
	}
	if err := w.sendCommand("subscribe", []string{ticker}); err != nil {
		return fmt.Errorf("kalshi/ws: resubscribe %s: %w", ticker, err)
	}
	return nil
}

func (w *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(w.wsURL)
	if err != nil {
		return nil, fmt.Errorf("kalshi/ws: parse url: %w", err)
	}

	var header http.Header
	if w.signer != nil {
		header, err = w.signer.Headers(http.MethodGet, u.Path, time.Now())
		if err != nil {
			return nil, err
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("kalshi/ws: connect: %w", err)
	}
	return conn, nil
}

func (w *WSClient) subscribe(tickers []string) error {
	if len(tickers) == 0 {
		return nil
	}
	return w.sendCommand("subscribe", tickers)
}

// sendCommand writes one command frame on the current connection.
func (w *WSClient) sendCommand(cmd string, tickers []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("kalshi/ws: not connected")
	}
	w.cmdID++

	data, err := json.Marshal(wsCommand{
		ID:  w.cmdID,
		Cmd: cmd,
		Params: wsCommandParams{
			Channels: wsChannels,
			Tickers:  tickers,
		},
	})
	if err != nil {
		return fmt.Errorf("kalshi/ws: marshal %s: %w", cmd, err)
	}

	w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads until the connection drops or ctx ends.
func (w *WSClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("read failed, reconnecting", slog.String("error", err.Error()))
			}
			return
		}
		if msg := w.convert(raw); msg != nil {
			select {
			case w.msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// convert parses one wire frame into a feed message, or nil for frames the
// core does not consume (command acks, errors, unknown channels).
func (w *WSClient) convert(raw []byte) domain.FeedMessage {
	var env WSEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		w.logger.Debug("unparseable frame", slog.String("error", err.Error()))
		return nil
	}
	now := time.Now().UTC()

	switch env.Type {
	case "orderbook_snapshot":
		var snap WSOrderbookSnapshot
		if err := json.Unmarshal(env.Msg, &snap); err != nil {
			w.logger.Warn("bad snapshot frame", slog.String("error", err.Error()))
			return nil
		}
		return snap.ToFeedMessage(env.Seq, now)

	case "orderbook_delta":
		var delta WSOrderbookDelta
		if err := json.Unmarshal(env.Msg, &delta); err != nil {
			w.logger.Warn("bad delta frame", slog.String("error", err.Error()))
			return nil
		}
		return delta.ToFeedMessage(env.Seq, now)

	case "fill":
		var fill WSFill
		if err := json.Unmarshal(env.Msg, &fill); err != nil {
			w.logger.Warn("bad fill frame", slog.String("error", err.Error()))
			return nil
		}
		return fill.ToFeedMessage(w.fees)

	case "market_lifecycle_v2", "market_lifecycle":
		var lc WSLifecycle
		if err := json.Unmarshal(env.Msg, &lc); err != nil {
			w.logger.Warn("bad lifecycle frame", slog.String("error", err.Error()))
			return nil
		}
		return lc.ToFeedMessage(now)

	case "error":
		w.logger.Error("server error frame", slog.String("frame", string(raw)))
		return nil
	}
	return nil
}

// pingLoop keeps the connection alive until done closes.
func (w *WSClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
