package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/efebarandurmaz/giftmap/internal/event"
	"github.com/efebarandurmaz/giftmap/internal/scanqueue"
)

// WSConfig configures the upstream scanner connection.
type WSConfig struct {
	// URL is the scan endpoint; "{target}" is replaced by the escaped target.
	URL string
	// Depth, Delay and Recursive are forwarded as query parameters. A
	// negative Depth or Delay leaves the scanner's own default in place.
	Depth            int
	Delay            time.Duration
	Recursive        bool
	HandshakeTimeout time.Duration
	Header           http.Header
	Logger           *slog.Logger
}

// DefaultWSConfig returns the upstream defaults.
func DefaultWSConfig() *WSConfig {
	return &WSConfig{
		URL:              "ws://localhost:8000/ws/scan/{target}",
		Depth:            1,
		Delay:            1500 * time.Millisecond,
		HandshakeTimeout: 10 * time.Second,
	}
}

// WSSource reads one event per WebSocket frame from the upstream scanner.
type WSSource struct {
	cfg    WSConfig
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewWS creates a WebSocket source.
func NewWS(cfg *WSConfig) *WSSource {
	if cfg == nil {
		cfg = DefaultWSConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WSSource{
		cfg: *cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: logger.With("component", "source.ws"),
	}
}

// ScanURL builds the upstream URL for target.
func (s *WSSource) ScanURL(target string) (string, error) {
	raw := strings.ReplaceAll(s.cfg.URL, "{target}", url.PathEscape(target))
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse scan url: %w", err)
	}
	q := u.Query()
	if s.cfg.Depth >= 0 {
		q.Set("depth", strconv.Itoa(s.cfg.Depth))
	}
	if s.cfg.Delay >= 0 {
		q.Set("delay", strconv.FormatFloat(s.cfg.Delay.Seconds(), 'f', -1, 64))
	}
	// The scanner recurses when the parameter is absent.
	q.Set("recursive", strconv.FormatBool(s.cfg.Recursive))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *WSSource) Open(ctx context.Context, target string) (scanqueue.Stream, error) {
	u, err := s.ScanURL(target)
	if err != nil {
		return nil, err
	}
	conn, resp, err := s.dialer.DialContext(ctx, u, s.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	s.logger.Debug("connected", "target", target, "url", u)

	stream := &wsStream{conn: conn, done: make(chan struct{})}
	go stream.watch(ctx)
	return stream, nil
}

type wsStream struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// watch closes the connection when ctx ends so a blocked read returns.
func (w *wsStream) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		w.conn.Close()
	case <-w.done:
	}
}

func (w *wsStream) Next(ctx context.Context) (event.Event, error) {
	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read frame: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		return event.Decode(data)
	}
}

func (w *wsStream) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = w.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

var _ scanqueue.Source = (*WSSource)(nil)
