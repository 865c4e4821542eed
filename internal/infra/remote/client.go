// Package remote is the client for the optional signed-in mirror of the
// library: track uploads plus the saved playlist.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultTimeout for HTTP requests
	DefaultTimeout = 60 * time.Second

	// DefaultRateLimit caps requests per second against the mirror.
	DefaultRateLimit = 4

	// DefaultUserAgent identifies this player to the mirror.
	DefaultUserAgent = "StellarLocal/1.0"
)

// Common errors
var (
	// ErrNotSignedIn indicates no credentials are available.
	ErrNotSignedIn = errors.New("not signed in")

	// ErrRemoteUnavailable indicates a transport failure or an error status.
	ErrRemoteUnavailable = errors.New("remote unavailable")
)

// TokenSource supplies the bearer token. An empty token means signed out.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// UploadResult is the stored location of an uploaded track.
type UploadResult struct {
	Path      string `json:"path"`
	SignedURL string `json:"signedUrl"`
}

// Item is a track entry of the saved playlist.
type Item struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	SignedURL string `json:"signedUrl,omitempty"`
}

// Playlist is the saved playlist document.
type Playlist struct {
	Items []Item   `json:"items"`
	Order []string `json:"order"`
}

// Client talks to the mirror.
type Client struct {
	baseURL    string
	tokens     TokenSource
	userAgent  string
	httpClient *http.Client
	limiter    *rateLimiter
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithRateLimit sets the maximum requests per second.
func WithRateLimit(rps int) Option {
	return func(c *Client) {
		c.limiter = newRateLimiter(rps)
	}
}

// NewClient creates a mirror client rooted at baseURL.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		tokens:    tokens,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: newRateLimiter(DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Upload stores a track payload under id.
func (c *Client) Upload(ctx context.Context, id, name, contentType string, data []byte) (*UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("id", id); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.WriteField("name", name); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	part, err := mw.CreatePart(filePartHeader(name, contentType))
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	var result UploadResult
	if err := c.do(ctx, http.MethodPost, "/tracks/upload", mw.FormDataContentType(), &body, &result); err != nil {
		return nil, err
	}

	log.Debug().Str("id", id).Str("path", result.Path).Msg("Track uploaded to remote")
	return &result, nil
}

// SavePlaylist overwrites the saved playlist.
func (c *Client) SavePlaylist(ctx context.Context, p Playlist) error {
	if p.Items == nil {
		p.Items = []Item{}
	}
	if p.Order == nil {
		p.Order = []string{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode playlist: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/playlist/save", "application/json", bytes.NewReader(data), nil)
}

// LoadPlaylist fetches the saved playlist with fresh signed URLs.
func (c *Client) LoadPlaylist(ctx context.Context) (*Playlist, error) {
	var p Playlist
	if err := c.do(ctx, http.MethodGet, "/playlist/load", "", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotSignedIn, err)
	}
	if token == "" {
		return ErrNotSignedIn
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Str("path", path).Int("status", resp.StatusCode).Msg("Remote request failed")
		return fmt.Errorf("%w: %s %s: status %d", ErrRemoteUnavailable, method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrRemoteUnavailable, err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: parse response: %w", ErrRemoteUnavailable, err)
	}
	return nil
}

func filePartHeader(name, contentType string) textproto.MIMEHeader {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, name)},
		"Content-Type":        {contentType},
	}
}
