// Package remote is the HTTP client for the Synax REST API
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
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/synaxhq/synax/internal/loggy"
)

// ErrNoCredentials is returned when the credential slot is empty
var ErrNoCredentials = errors.New("not logged in: no API token stored")

// maxErrorBody caps how much of an error response is read
const maxErrorBody = 64 << 10

// TokenProvider reads the bearer token from the local credential slot
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a plain function to TokenProvider
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Options configures a Client
type Options struct {
	BaseURL           string // API URL joined with the base path
	HealthURL         string // absolute URL probed by Ping
	Timeout           time.Duration
	RequestsPerMinute int
	BurstLimit        int
	MaxIdleConns      int
	IdleConnTimeout   time.Duration
	DeviceName        string
	UserAgent         string
}

// Client talks JSON to the API with a bearer token read from the credential
// slot on every request
type Client struct {
	baseURL    string
	healthURL  string
	deviceName string
	userAgent  string
	httpClient *http.Client
	probe      *http.Client
	limiter    *rate.Limiter
	logger     *loggy.Logger
}

// tokenSource reads the credential slot each time oauth2 asks for a token,
// so a logout or re-login takes effect on the next request
type tokenSource struct {
	provider TokenProvider
}

func (s tokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	token, err := s.provider.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading credential slot: %w", err)
	}
	if token == "" {
		return nil, ErrNoCredentials
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}

// NewClient creates a new API client
func NewClient(opts Options, tokens TokenProvider, logger *loggy.Logger) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConns,
		IdleConnTimeout:     opts.IdleConnTimeout,
	}

	authed := &http.Client{
		Timeout: opts.Timeout,
		Transport: &oauth2.Transport{
			Source: tokenSource{provider: tokens},
			Base:   transport,
		},
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "synax-agent"
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		healthURL:  opts.HealthURL,
		deviceName: opts.DeviceName,
		userAgent:  userAgent,
		httpClient: authed,
		probe:      &http.Client{Timeout: opts.Timeout, Transport: transport},
		limiter:    newLimiter(opts.RequestsPerMinute, opts.BurstLimit),
		logger:     logger,
	}
}

func newLimiter(rpm, burst int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
}

// Send performs one JSON request. Non-2xx responses come back as *APIError.
func (c *Client) Send(ctx context.Context, r *Request) error {
	var body io.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, r.Method, r.Path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, nil)
}

// Upload is one multipart photo upload
type Upload struct {
	Path     string // relative to the base path
	Field    string // form field name, "photo" when empty
	Filename string
	Data     []byte
}

// Upload sends a photo as multipart/form-data, with its content type
// sniffed from the bytes
func (c *Client) Upload(ctx context.Context, u *Upload) error {
	field := u.Field
	if field == "" {
		field = "photo"
	}

	mtype := mimetype.Detect(u.Data)
	filename := u.Filename
	if filename == "" {
		filename = "photo"
	}
	if filepath.Ext(filename) == "" {
		filename += mtype.Extension()
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", mtype.String())

	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("creating multipart part: %w", err)
	}
	if _, err := part.Write(u.Data); err != nil {
		return fmt.Errorf("writing multipart part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, u.Path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(req, nil)
}

// VerifyToken reports whether the API accepts the stored token. A 401 or
// 403 is a clean false; anything else non-2xx is an error.
func (c *Client) VerifyToken(ctx context.Context) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/verify", nil)
	if err != nil {
		return false, err
	}

	err = c.do(req, nil)
	if err == nil {
		return true, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
		return false, nil
	}
	if errors.Is(err, ErrNoCredentials) {
		return false, nil
	}
	return false, err
}

// Ping checks that the API health endpoint answers with a 2xx. It sends no
// credentials and skips the rate limiter.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.probe.Do(req)
	if err != nil {
		return fmt.Errorf("executing health request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	requestID := loggy.GetRequestID(ctx)
	if requestID == "" {
		requestID = loggy.NewRequestID()
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if c.deviceName != "" {
		req.Header.Set("X-Device-Name", c.deviceName)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("API request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get("X-Request-ID"),
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// parseAPIError takes the message from an {"error": "..."} body when there
// is one, and falls back to "HTTP <status>"
func parseAPIError(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("HTTP %d", resp.StatusCode),
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return apiErr
	}

	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && strings.TrimSpace(body.Error) != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}
