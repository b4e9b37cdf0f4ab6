package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"forge-mcp-server/internal/domain"
)

// maxErrorBody bounds how much of a failed response is kept verbatim.
const maxErrorBody = 64 << 10

// rateLimitSignature matches the wording services use when they throttle
// with 401/403 instead of 429.
var rateLimitSignature = regexp.MustCompile(`(?i)rate limit|abuse detection|too many requests`)

// Call is one REST request relative to the client's base URL.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{} // marshalled as JSON unless it is already []byte
}

// RESTClient is the shared HTTP layer behind every service client.
// It joins paths onto the base URL, sets JSON headers, propagates the
// caller's context and turns non-2xx replies into typed domain errors.
type RESTClient struct {
	service    string
	baseURL    string
	httpClient *http.Client
	header     http.Header

	// Rename, when set, rewrites every object key of Record results.
	Rename func(string) string
}

// NewRESTClient creates a client for one service. The httpClient should
// come from the AuthenticationManager so every request is authenticated.
func NewRESTClient(service, baseURL string, httpClient *http.Client) *RESTClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RESTClient{
		service:    service,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		header:     http.Header{},
	}
}

// BaseURL returns the configured base URL.
func (c *RESTClient) BaseURL() string {
	return c.baseURL
}

// SetHeader adds a header sent with every request.
func (c *RESTClient) SetHeader(key, value string) {
	c.header.Set(key, value)
}

// Do executes call and decodes a JSON reply into out. A nil out discards
// the body.
func (c *RESTClient) Do(ctx context.Context, call Call, out interface{}) error {
	data, err := c.DoRaw(ctx, call)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.service, err)
	}
	return nil
}

// DoRecord executes call and returns the reply object with keys renamed.
func (c *RESTClient) DoRecord(ctx context.Context, call Call) (domain.Record, error) {
	data, err := c.DoRaw(ctx, call)
	if err != nil {
		return nil, err
	}
	return c.record(data)
}

// DoRecords executes call and returns the reply array with keys renamed.
// When the array is wrapped (as in search results), itemsPath selects it.
func (c *RESTClient) DoRecords(ctx context.Context, call Call, itemsPath string) ([]domain.Record, error) {
	data, err := c.DoRaw(ctx, call)
	if err != nil {
		return nil, err
	}
	result := gjson.ParseBytes(data)
	if itemsPath != "" {
		result = result.Get(itemsPath)
	}
	if !result.IsArray() {
		return nil, fmt.Errorf("unexpected %s response: expected an array", c.service)
	}
	items := result.Array()
	records := make([]domain.Record, 0, len(items))
	for _, item := range items {
		rec, err := c.record([]byte(item.Raw))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *RESTClient) record(data []byte) (domain.Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.Record{}, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", c.service, err)
	}
	if c.Rename == nil {
		return raw, nil
	}
	return renameKeys(raw, c.Rename).(map[string]interface{}), nil
}

// DoRaw executes call and returns the body of a 2xx reply.
func (c *RESTClient) DoRaw(ctx context.Context, call Call) ([]byte, error) {
	endpoint := c.baseURL + call.Path
	if len(call.Query) > 0 {
		endpoint += "?" + call.Query.Encode()
	}

	var body io.Reader
	if call.Body != nil {
		payload, ok := call.Body.([]byte)
		if !ok {
			var err error
			payload, err = json.Marshal(call.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request: %w", err)
			}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range c.header {
		req.Header[key] = values
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to execute %s request: %w", c.service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyRemoteError(&domain.RemoteError{
			Service:    c.service,
			Method:     call.Method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Message:    extractMessage(raw),
			Body:       string(raw),
		}, call.Path)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", c.service, err)
	}
	return data, nil
}

// classifyRemoteError maps a failed reply onto the error taxonomy.
func classifyRemoteError(remote *domain.RemoteError, resource string) error {
	switch remote.StatusCode {
	case http.StatusNotFound:
		return &domain.NotFoundError{Resource: resource, Remote: remote}
	case http.StatusTooManyRequests:
		return &domain.RateLimitError{RemoteError: remote}
	case http.StatusUnauthorized, http.StatusForbidden:
		if rateLimitSignature.MatchString(remote.Body) {
			return &domain.RateLimitError{RemoteError: remote}
		}
		return &domain.AuthError{RemoteError: remote}
	}
	return remote
}

// extractMessage pulls a human readable message out of the error formats
// used by Atlassian, GitHub and GitLab.
func extractMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	parsed := gjson.ParseBytes(body)
	for _, path := range []string{"message", "errorMessages.0", "error_description", "error", "errors.0.message"} {
		if v := parsed.Get(path); v.Exists() && v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	if v := parsed.Get("errors"); v.IsObject() {
		var parts []string
		v.ForEach(func(key, value gjson.Result) bool {
			parts = append(parts, key.String()+": "+value.String())
			return true
		})
		return strings.Join(parts, "; ")
	}
	return ""
}

func renameKeys(value interface{}, rename func(string) string) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[rename(key)] = renameKeys(item, rename)
		}
		return out
	case []interface{}:
		for i := range v {
			v[i] = renameKeys(v[i], rename)
		}
		return v
	}
	return value
}

// SnakeToCamel converts remote snake_case field names to the camelCase
// names used in tool results.
func SnakeToCamel(name string) string {
	if !strings.Contains(name, "_") {
		return name
	}
	parts := strings.Split(name, "_")
	var b strings.Builder
	b.Grow(len(name))
	first := true
	for _, part := range parts {
		if part == "" {
			continue
		}
		if first {
			b.WriteString(part)
			first = false
			continue
		}
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	if b.Len() == 0 {
		return name
	}
	return b.String()
}
