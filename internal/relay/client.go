package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/therealutkarshpriyadarshi/compressor/internal/config"
	"github.com/therealutkarshpriyadarshi/compressor/pkg/models"
)

// ErrRelay is returned when a packet could not be sent at all. An upstream
// answer with a non-2xx status is reported through RelayAck instead.
var ErrRelay = errors.New("relay failed")

// maxDrainBytes bounds how much of an upstream reply is read before closing
const maxDrainBytes = 64 << 10

// Client delivers transport-encoded files to the upstream endpoint. It is
// safe for concurrent use.
type Client struct {
	client       *http.Client
	url          string
	cookieHeader string
}

// NewClient creates a new relay client
func NewClient(cfg config.RelayConfig) *Client {
	cookieHeader := cfg.CookieHeader
	if cookieHeader == "" {
		cookieHeader = "XRMCCookie"
	}
	return &Client{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		url:          cfg.URL,
		cookieHeader: cookieHeader,
	}
}

// Relay posts blob as a single final packet under correlationKey. Exactly
// one request is issued; there is no retry.
func (c *Client) Relay(ctx context.Context, blob models.TransportBlob, correlationKey string, auth models.AuthContext) (models.RelayAck, error) {
	packet := models.NewSinglePacket(blob, correlationKey)

	body, size, err := packetBody(packet)
	if err != nil {
		return models.RelayAck{}, fmt.Errorf("%w: failed to marshal packet: %w", ErrRelay, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return models.RelayAck{}, fmt.Errorf("%w: failed to create request: %w", ErrRelay, err)
	}
	req.ContentLength = size

	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", "Video-Compressor/1.0")
	if auth.HasCookie() {
		req.Header.Set(c.cookieHeader, auth.Cookie)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return models.RelayAck{}, fmt.Errorf("%w: failed to send request: %w", ErrRelay, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused; the body has no contract
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	ack := models.RelayAck{
		StatusCode: resp.StatusCode,
		Reason:     reason(resp),
	}
	return ack, nil
}

// packetBody streams the JSON encoding of packet without copying the data
// field. Data that would need escaping falls back to json.Marshal.
func packetBody(packet models.RelayPacket) (io.Reader, int64, error) {
	if strings.IndexFunc(string(packet.Data), needsEscape) >= 0 {
		raw, err := json.Marshal(packet)
		if err != nil {
			return nil, 0, err
		}
		return bytes.NewReader(raw), int64(len(raw)), nil
	}

	key, err := json.Marshal(packet.Key)
	if err != nil {
		return nil, 0, err
	}

	prefix := `{"Данные":"`
	suffix := `","Ключ":` + string(key) +
		`,"Пакет":` + strconv.Itoa(packet.Packet) +
		`,"ПоследнийПакет":` + strconv.Itoa(packet.LastPacket) + `}`

	body := io.MultiReader(
		strings.NewReader(prefix),
		strings.NewReader(string(packet.Data)),
		strings.NewReader(suffix),
	)
	return body, int64(len(prefix) + packet.Data.Len() + len(suffix)), nil
}

// needsEscape reports runes json.Marshal would not emit verbatim
func needsEscape(r rune) bool {
	return r < 0x20 || r == '"' || r == '\\' || r == '<' || r == '>' || r == '&' ||
		r == '\u2028' || r == '\u2029' || r == utf8.RuneError
}

// reason extracts the reason phrase from the status line
func reason(resp *http.Response) string {
	if text, ok := strings.CutPrefix(resp.Status, fmt.Sprintf("%d ", resp.StatusCode)); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
