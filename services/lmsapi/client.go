package lmsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-client/core"
)

// Error is a non-2xx answer of the LMS API.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return e.Detail
}

// IsStatus reports whether the cause of err is an *Error with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client talks to the LMS REST API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  core.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger core.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// SetTransport replaces the round tripper, typically with the session transport.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.http.Transport = rt
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	reqID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug(fmt.Sprintf("%s %s -> %d (%s)", method, path, resp.StatusCode, time.Since(start)),
		map[string]interface{}{"request_id": reqID})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding %s %s", method, path)
	}
	return nil
}

// decodeError reads a DRF style error body: {"detail": "..."} or {"field": ["..."]}.
func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return apiErr
	}
	if raw, ok := body["detail"]; ok {
		_ = json.Unmarshal(raw, &apiErr.Detail)
		return apiErr
	}

	fields := make([]string, 0, len(body))
	for field := range body {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	msgs := make([]string, 0, len(fields))
	for _, field := range fields {
		var list []string
		if err := json.Unmarshal(body[field], &list); err != nil {
			var msg string
			if err = json.Unmarshal(body[field], &msg); err != nil {
				continue
			}
			list = []string{msg}
		}
		msgs = append(msgs, field+": "+strings.Join(list, " "))
	}
	apiErr.Detail = strings.Join(msgs, "; ")
	return apiErr
}
