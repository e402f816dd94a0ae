// Package service is the HTTP client for the local component service.
package service

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
	"strings"
	"time"
)

const (
	// DefaultBaseURL is where the component service listens.
	DefaultBaseURL = "http://localhost:9400"
	// DefaultTimeout bounds every GET request.
	DefaultTimeout = 10 * time.Second
	// DefaultUploadTimeout bounds component uploads.
	DefaultUploadTimeout = 30 * time.Second
)

// ErrNameRequired is returned when a component name is blank.
var ErrNameRequired = errors.New("Component name is required")

// StatusError is returned for non-2xx responses. Upload failures with a
// detail report the detail alone; everything else leads with the code.
type StatusError struct {
	Method string
	Code   int
	Status string
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		if e.Method == http.MethodPost {
			return e.Detail
		}
		return fmt.Sprintf("HTTP %d: %s", e.Code, e.Detail)
	}
	status := strings.TrimSpace(strings.TrimPrefix(e.Status, fmt.Sprint(e.Code)))
	if status == "" {
		status = "Unknown error"
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, status)
}

// Health is the /health body.
type Health struct {
	Status string `json:"status"`
}

// ComponentList is the /components body.
type ComponentList struct {
	Components []string `json:"components"`
	Count      int      `json:"count"`
}

// ComponentContent is the /components/{name} body.
type ComponentContent struct {
	ComponentName string `json:"component_name"`
	Content       string `json:"content"`
}

// UploadResult is the /components/upload body.
type UploadResult struct {
	Message       string `json:"message"`
	ComponentName string `json:"component_name"`
	Filename      string `json:"filename"`
}

// Client talks to the component service.
type Client struct {
	BaseURL       string
	HTTPClient    *http.Client
	Timeout       time.Duration
	UploadTimeout time.Duration
}

// NewClient returns a client for baseURL, or DefaultBaseURL when empty.
func NewClient(baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:       strings.TrimSuffix(baseURL, "/"),
		HTTPClient:    &http.Client{},
		Timeout:       DefaultTimeout,
		UploadTimeout: DefaultUploadTimeout,
	}
}

// Health fetches the service health report.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.getJSON(ctx, "/health", &out)
	return out, err
}

// Healthy reports whether the health endpoint answers with a 2xx.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.get(ctx, "/health")
	return err == nil
}

// ListComponents returns every known component name.
func (c *Client) ListComponents(ctx context.Context) (ComponentList, error) {
	var out ComponentList
	err := c.getJSON(ctx, "/components", &out)
	return out, err
}

// ComponentContent returns the markdown documentation of a component.
func (c *Client) ComponentContent(ctx context.Context, name string) (ComponentContent, error) {
	path, err := ComponentPath(name, "")
	if err != nil {
		return ComponentContent{}, err
	}
	var out ComponentContent
	err = c.getJSON(ctx, path, &out)
	return out, err
}

// ComponentExists asks the service whether name is known.
func (c *Client) ComponentExists(ctx context.Context, name string) (bool, error) {
	path, err := ComponentPath(name, "/exists")
	if err != nil {
		return false, err
	}
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// MetadataPrompt returns the plain-text metadata generation prompt.
func (c *Client) MetadataPrompt(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/prompts/metadata-generation")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Raw fetches path and returns the body as JSON. Bodies that are not valid
// JSON are returned as a JSON string.
func (c *Client) Raw(ctx context.Context, path string) (json.RawMessage, error) {
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if json.Valid(body) {
		return json.RawMessage(body), nil
	}
	return json.Marshal(string(body))
}

// Upload posts filename as a multipart "file" field with markdown content type.
func (c *Client) Upload(ctx context.Context, filename, content string) (UploadResult, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", "text/markdown")
	part, err := form.CreatePart(header)
	if err != nil {
		return UploadResult{}, err
	}
	if _, err := io.WriteString(part, content); err != nil {
		return UploadResult{}, err
	}
	if err := form.Close(); err != nil {
		return UploadResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, orDefault(c.UploadTimeout, DefaultUploadTimeout))
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/components/upload", &buf)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	body, err := c.do(req)
	if err != nil {
		return UploadResult{}, err
	}
	var out UploadResult
	if err := json.Unmarshal(body, &out); err != nil {
		return UploadResult{}, errors.New("Invalid JSON response")
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, orDefault(c.Timeout, DefaultTimeout))
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("Request timeout: %w", err)
		}
		return nil, fmt.Errorf("Request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Method: req.Method, Code: resp.StatusCode, Status: resp.Status}
		var payload struct {
			Detail any `json:"detail"`
		}
		if json.Unmarshal(body, &payload) == nil {
			statusErr.Detail = detailString(payload.Detail)
		}
		return nil, statusErr
	}
	return body, nil
}

// ComponentPath builds the escaped URL path for a component endpoint.
func ComponentPath(name, suffix string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrNameRequired
	}
	return "/components/" + url.PathEscape(name) + suffix, nil
}

// detailString flattens FastAPI error details, which are either a string or
// a list of validation errors.
func detailString(detail any) string {
	switch v := detail.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
