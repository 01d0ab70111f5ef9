package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultMarkStreamURL        = "wss://fstream.binance.com"
	defaultTestnetMarkStreamURL = "wss://stream.binancefuture.com"
	defaultMarkMaxAge           = 5 * time.Second
)

type markEnvelope struct {
	Stream string      `json:"stream"`
	Data   markPayload `json:"data"`
}

type markPayload struct {
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
	EventTime int64  `json:"E"`
}

type mark struct {
	price float64
	at    time.Time
}

// MarkStream caches perpetual mark prices pushed over the combined markPrice@1s stream.
type MarkStream struct {
	baseURL string
	symbols []string
	maxAge  time.Duration
	log     zerolog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	marks map[string]mark
}

// NewMarkStream tracks symbols against baseURL (empty picks mainnet or testnet).
func NewMarkStream(baseURL string, testnet bool, symbols []string, log zerolog.Logger) *MarkStream {
	if baseURL == "" {
		baseURL = defaultMarkStreamURL
		if testnet {
			baseURL = defaultTestnetMarkStreamURL
		}
	}
	return &MarkStream{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		symbols: append([]string(nil), symbols...),
		maxAge:  defaultMarkMaxAge,
		log:     log.With().Str("component", "mark_stream").Logger(),
		now:     time.Now,
		marks:   make(map[string]mark, len(symbols)),
	}
}

// Price returns the cached mark when it is younger than the freshness window.
func (m *MarkStream) Price(symbol string) (float64, bool) {
	m.mu.RLock()
	mk, ok := m.marks[symbol]
	m.mu.RUnlock()
	if !ok || m.now().Sub(mk.at) > m.maxAge {
		return 0, false
	}
	return mk.price, true
}

// Run keeps the stream connected until ctx is cancelled.
func (m *MarkStream) Run(ctx context.Context) error {
	if len(m.symbols) == 0 {
		return fmt.Errorf("mark stream requires at least one symbol")
	}
	streams := make([]string, len(m.symbols))
	for i, sym := range m.symbols {
		streams[i] = strings.ToLower(sym) + "@markPrice@1s"
	}
	url := fmt.Sprintf("%s/stream?streams=%s", m.baseURL, strings.Join(streams, "/"))

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.consume(ctx, url); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Warn().Err(err).Dur("backoff", backoff).Msg("mark stream disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (m *MarkStream) consume(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	m.log.Info().Strs("symbols", m.symbols).Msg("connected mark price stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					m.log.Warn().Err(err).Msg("mark stream ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()
	go func() {
		<-pingCtx.Done()
		_ = conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		var env markEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			m.log.Warn().Err(err).Msg("failed to decode mark price message")
			continue
		}
		symbol := env.Data.Symbol
		if symbol == "" {
			symbol = parseStreamSymbol(env.Stream)
		}
		px, err := strconv.ParseFloat(env.Data.MarkPrice, 64)
		if err != nil || px <= 0 {
			m.log.Warn().Str("sym", symbol).Str("raw", env.Data.MarkPrice).Msg("invalid mark price")
			continue
		}
		m.mu.Lock()
		m.marks[symbol] = mark{price: px, at: m.now()}
		m.mu.Unlock()
	}
}

func parseStreamSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}
