// Package index talks to the search engine's bulk endpoint.
package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"db2es/internal/config"
	"db2es/internal/models"

	"github.com/tidwall/gjson"
)

// StatusError is returned when the bulk endpoint answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bulk request failed with status %d: %s", e.Code, e.Body)
}

// DecodeError is returned when a 2xx response is not a bulk response document.
type DecodeError struct {
	Body string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid bulk response: %.200s", e.Body)
}

// BulkResult summarizes a bulk response that the endpoint accepted at the transport level.
type BulkResult struct {
	Errors      bool
	FirstReason string
	Created     int64
	Updated     int64
}

type Client struct {
	url      string
	user     string
	password string
	http     *http.Client
}

func NewClient(cfg config.IndexConfig) *Client {
	return &Client{
		url:      strings.TrimRight(cfg.URL, "/"),
		user:     cfg.User,
		password: cfg.Password,
		http:     &http.Client{Timeout: config.Duration(cfg.TimeoutMs)},
	}
}

// Bulk posts an NDJSON body to {url}/_bulk.
// Transport failures and non-2xx statuses are errors; document rejections are reported in the result.
func (c *Client) Bulk(ctx context.Context, body []byte) (*BulkResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/_bulk", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build bulk request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read bulk response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	return ParseBulkResponse(respBody)
}

// ParseBulkResponse reads the top-level errors flag and per-item results.
// Only the first rejection reason is kept.
func ParseBulkResponse(body []byte) (*BulkResult, error) {
	if !gjson.ValidBytes(body) {
		return nil, &DecodeError{Body: string(body)}
	}

	root := gjson.ParseBytes(body)
	result := &BulkResult{Errors: root.Get("errors").Bool()}

	root.Get("items").ForEach(func(_, item gjson.Result) bool {
		// each item is {"<action>": {...}}
		item.ForEach(func(_, op gjson.Result) bool {
			switch op.Get("result").String() {
			case "created":
				result.Created++
			case "updated":
				result.Updated++
			}
			if result.FirstReason == "" && op.Get("error").Exists() {
				reason := op.Get("error.reason").String()
				if reason == "" {
					reason = op.Get("error.type").String()
				}
				result.FirstReason = reason
			}
			return false
		})
		return true
	})

	if result.Errors && result.FirstReason == "" {
		result.FirstReason = "Unknown_Error"
	}
	return result, nil
}

// FailureReason maps a transport error to the label used for dead-lettered batches.
func FailureReason(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("%s%d", models.ReasonHTTPPrefix, statusErr.Code)
	}

	kind := "Unknown"
	var decodeErr *DecodeError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = "Timeout"
	case errors.Is(err, context.Canceled):
		kind = "Canceled"
	case errors.As(err, &decodeErr):
		kind = "Decode"
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = "Timeout"
	case errors.As(err, &netErr):
		kind = "Connection"
	case err != nil:
		kind = typeName(err)
	}
	return models.ReasonExceptionPrefix + kind
}

func typeName(err error) string {
	name := fmt.Sprintf("%T", err)
	name = strings.TrimLeft(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
