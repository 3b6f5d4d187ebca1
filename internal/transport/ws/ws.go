// Package ws provides the gorilla/websocket transport used by the session
// core, including the venue's HMAC authentication handshake for private
// channels.
package ws

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quantfabric/venuelink/internal/session"
)

const (
	defaultHandshakeTimeout = 45 * time.Second
	writeTimeout            = 5 * time.Second
	closeWriteTimeout       = 2 * time.Second
	authExpiryWindow        = 5 * time.Second
)

// Options configures the websocket dialer. APIKey/APISecret are only needed
// for private channels; leaving them empty skips the auth handshake.
type Options struct {
	URL              string
	APIKey           string
	APISecret        string
	HandshakeTimeout time.Duration
	Logger           *zerolog.Logger
}

// Dialer implements session.Dialer over gorilla/websocket.
type Dialer struct {
	opts Options
	log  zerolog.Logger
}

func NewDialer(opts Options) *Dialer {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Dialer{opts: opts, log: logger}
}

// Dial connects, authenticating when credentials are configured.
func (d *Dialer) Dial(ctx context.Context) (session.Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, d.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.opts.URL, err)
	}
	c := &Conn{conn: conn}
	if d.opts.APIKey != "" {
		if err := c.authenticate(d.opts.APIKey, d.opts.APISecret); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}
	d.log.Info().Str("url", d.opts.URL).Msg("WebSocket connected")
	return c, nil
}

// Conn is one live websocket connection.
type Conn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// ReadMessage blocks until the next frame or a connection error.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *Conn) WriteJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Close sends a graceful close frame before tearing the socket down. It
// unblocks any concurrent ReadMessage.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
		time.Now().Add(closeWriteTimeout))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// authenticate sends the auth message for private data access.
func (c *Conn) authenticate(apiKey, apiSecret string) error {
	expires := time.Now().Add(authExpiryWindow).UnixMilli()
	authMsg := map[string]interface{}{
		"op": "auth",
		"args": []interface{}{
			apiKey,
			expires,
			signAuth(apiSecret, expires),
		},
	}
	return c.WriteJSON(authMsg)
}

// signAuth creates the HMAC-SHA256 signature for the auth handshake.
func signAuth(apiSecret string, expires int64) string {
	toSign := fmt.Sprintf("GET/realtime%d", expires)
	h := hmac.New(sha256.New, []byte(apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}
