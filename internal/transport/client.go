// Package transport — HTTP-клиент бэкенда: фиксированный таймаут, JSON-тела, типизированные ошибки.
// Повторов нет; повторяет только очередь отправки.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/observability"
)

const DefaultTimeout = 10 * time.Second

// TimeoutError — запрос не уложился в таймаут клиента.
type TimeoutError struct {
	Method string
	URL    string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s %s took longer than %v", e.Method, e.URL, e.After)
}

// HTTPError — бэкенд ответил статусом вне 2xx.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http error: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("http error: %d - %s", e.Status, e.Body)
}

// IsTimeout сообщает, что в цепочке ошибок есть *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// StatusOf возвращает HTTP-статус из *HTTPError или 0.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// Request описывает один вызов. Path — относительно baseURL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
}

// Client вызывает REST-бэкенд.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient создаёт клиент. При timeout <= 0 берётся DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Do выполняет запрос и декодирует JSON-ответ в out (если out != nil и тело не пустое).
func (c *Client) Do(ctx context.Context, r Request, out any) error {
	target := c.baseURL + r.Path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}
	start := time.Now()
	status := 0
	defer func() {
		observability.ObserveBackendRequest(r.Method, status, start)
		logger.LogDuration("transport "+r.Method+" "+r.Path, start)
	}()

	var body io.Reader
	if r.Body != nil {
		raw, err := json.Marshal(r.Body)
		if err != nil {
			return fmt.Errorf("transport: encode body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return fmt.Errorf("transport: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vals := range r.Header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.wrap(ctx, r.Method, target, err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.wrap(ctx, r.Method, target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("transport: decode %s %s: %w", r.Method, r.Path, err)
	}
	return nil
}

func (c *Client) wrap(ctx context.Context, method, target string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.Debugf("transport: %s %s timed out after %v", method, target, c.timeout)
		return &TimeoutError{Method: method, URL: target, After: c.timeout}
	}
	return fmt.Errorf("transport: %s %s: %w", method, target, err)
}
