// Package rest implements store.Store over the backend's collection REST
// API: /items/{collection} endpoints answering with a {"data": ...}
// envelope, Bearer authentication and multipart uploads to /files.
package rest

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
	"net/url"
	"strconv"
	"strings"
	"time"

	"freight-chat/pkg/credential"
	"freight-chat/pkg/store"

	"go.uber.org/zap"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status int
	Method string
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error (%s %s, status %d): %s", e.Method, e.Path, e.Status, e.Body)
}

// Client wraps the backend REST API.
type Client struct {
	baseURL    string
	cred       credential.Provider
	httpClient *http.Client
	log        *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a backend client; timeout applies to every request.
func NewClient(baseURL string, cred credential.Provider, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		cred:       cred,
		httpClient: &http.Client{Timeout: timeout},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// doRequest executes a request and decodes the data envelope into out.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, contentType string, out any) error {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.cred != nil {
		token, err := c.cred.Credential(ctx)
		if err != nil {
			return fmt.Errorf("credential: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	c.log.Debug("backend request",
		zap.String("method", method),
		zap.String("path", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusUnauthorized {
			if inv, ok := c.cred.(interface{ Invalidate() }); ok {
				inv.Invalidate()
			}
		}
		apiErr := &APIError{Status: resp.StatusCode, Method: method, Path: endpoint, Body: string(respBody)}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", store.ErrNotFound, apiErr.Error())
		}
		return apiErr
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, query url.Values, body any, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.doRequest(ctx, method, endpoint, query, reader, contentType, out)
}

func itemsPath(collection string, id ...any) string {
	p := "/items/" + url.PathEscape(collection)
	if len(id) > 0 {
		p += "/" + url.PathEscape(fmt.Sprint(id[0]))
	}
	return p
}

// EncodeQuery renders q as backend query parameters.
func EncodeQuery(q store.Query) (url.Values, error) {
	v := url.Values{}
	if !q.Filter.IsZero() {
		data, err := json.Marshal(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("encode filter: %w", err)
		}
		v.Set("filter", string(data))
	}
	if len(q.Fields) > 0 {
		v.Set("fields", strings.Join(q.Fields, ","))
	}
	if len(q.Sort) > 0 {
		v.Set("sort", strings.Join(q.Sort, ","))
	}
	if q.Limit != 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v, nil
}

func (c *Client) List(ctx context.Context, collection string, q store.Query) ([]store.Record, error) {
	query, err := EncodeQuery(q)
	if err != nil {
		return nil, err
	}
	var out []store.Record
	if err := c.doJSON(ctx, http.MethodGet, itemsPath(collection), query, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []store.Record{}
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, collection string, id any, fields ...string) (store.Record, error) {
	query := url.Values{}
	if len(fields) > 0 {
		query.Set("fields", strings.Join(fields, ","))
	}
	var out store.Record
	if err := c.doJSON(ctx, http.MethodGet, itemsPath(collection, id), query, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, store.ErrNotFound
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, collection string, rec store.Record) (store.Record, error) {
	var out store.Record
	if err := c.doJSON(ctx, http.MethodPost, itemsPath(collection), nil, rec, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, collection string, id any, patch store.Record) (store.Record, error) {
	var out store.Record
	if err := c.doJSON(ctx, http.MethodPatch, itemsPath(collection, id), nil, patch, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, collection string, id any) error {
	return c.doJSON(ctx, http.MethodDelete, itemsPath(collection, id), nil, nil, nil)
}

// Upload sends a file as multipart/form-data to /files and returns the
// backend's file identifier.
func (c *Client) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("copy upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	var out struct {
		ID any `json:"id"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/files", nil, &buf, mw.FormDataContentType(), &out); err != nil {
		return "", err
	}
	if out.ID == nil {
		return "", errors.New("upload response carries no file id")
	}
	return fmt.Sprint(out.ID), nil
}

var _ store.Store = (*Client)(nil)
