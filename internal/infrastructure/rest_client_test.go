package infrastructure

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge-mcp-server/internal/domain"
)

// replyWith serves one fixed status and body.
func replyWith(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRESTClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind string
		check    func(t *testing.T, err error)
	}{
		{
			name:     "not found",
			status:   http.StatusNotFound,
			body:     `{"errorMessages":["Issue does not exist"]}`,
			wantKind: "NotFoundError",
			check: func(t *testing.T, err error) {
				var nf *domain.NotFoundError
				require.ErrorAs(t, err, &nf)
				assert.Equal(t, "/rest/thing", nf.Resource)
				assert.Equal(t, "Issue does not exist", nf.Remote.Message)
			},
		},
		{
			name:     "too many requests",
			status:   http.StatusTooManyRequests,
			body:     `{"message":"slow down"}`,
			wantKind: "RateLimitError",
		},
		{
			name:     "forbidden with rate limit wording",
			status:   http.StatusForbidden,
			body:     `{"message":"API rate limit exceeded for 10.0.0.1"}`,
			wantKind: "RateLimitError",
		},
		{
			name:     "forbidden",
			status:   http.StatusForbidden,
			body:     `{"message":"Resource not accessible by integration"}`,
			wantKind: "AuthError",
		},
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"error":"invalid_token","error_description":"Token was revoked"}`,
			wantKind: "AuthError",
			check: func(t *testing.T, err error) {
				var remote *domain.RemoteError
				require.ErrorAs(t, err, &remote)
				assert.Equal(t, "Token was revoked", remote.Message)
			},
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			body:     "upstream down",
			wantKind: "RemoteError",
			check: func(t *testing.T, err error) {
				var remote *domain.RemoteError
				require.ErrorAs(t, err, &remote)
				assert.Equal(t, http.StatusBadGateway, remote.StatusCode)
				assert.Equal(t, "upstream down", remote.Body)
				assert.Equal(t, http.MethodGet, remote.Method)
				assert.Contains(t, err.Error(), "Test API returned HTTP 502")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := replyWith(t, tt.status, tt.body)
			client := NewRESTClient("Test", srv.URL, srv.Client())

			err := client.Do(context.Background(), Call{Method: http.MethodGet, Path: "/rest/thing"}, nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, domain.ErrorKind(err))
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestExtractMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"message":"Bad credentials"}`, "Bad credentials"},
		{`{"errorMessages":["JQL is invalid"],"errors":{}}`, "JQL is invalid"},
		{`{"error":"insufficient_scope"}`, "insufficient_scope"},
		{`{"errors":[{"message":"Validation Failed"}]}`, "Validation Failed"},
		{`{"errors":{"summary":"Field is required"}}`, "summary: Field is required"},
		{`{"message":{"title":["is too long"]}}`, ""},
		{"  plain text  ", "plain text"},
		{`{}`, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractMessage([]byte(tt.body)), tt.body)
	}
}

func TestRESTClient_Request(t *testing.T) {
	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"html_url":"https://x","nested":{"merged_at":null},"items":[{"full_name":"a/b"}]}`)
	}))
	defer srv.Close()

	client := NewRESTClient("Test", srv.URL+"/", srv.Client())
	client.SetHeader("X-Custom", "yes")
	client.Rename = SnakeToCamel

	rec, err := client.DoRecord(context.Background(), Call{
		Method: http.MethodPost,
		Path:   "/things",
		Query:  map[string][]string{"q": {"a b"}},
		Body:   map[string]string{"k": "v"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/things", got.URL.Path)
	assert.Equal(t, "a b", got.URL.Query().Get("q"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", got.Header.Get("Accept"))
	assert.Equal(t, "yes", got.Header.Get("X-Custom"))
	assert.JSONEq(t, `{"k":"v"}`, string(body))

	assert.Equal(t, "https://x", rec.WebURL())
	assert.Contains(t, rec["nested"], "mergedAt")

	records, err := client.DoRecords(context.Background(), Call{Method: http.MethodGet, Path: "/search"}, "items")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a/b", records[0]["fullName"])

	_, err = client.DoRecords(context.Background(), Call{Method: http.MethodGet, Path: "/search"}, "")
	assert.ErrorContains(t, err, "expected an array")
}

func TestRESTClient_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewRESTClient("Test", srv.URL, srv.Client()).Do(ctx, Call{Method: http.MethodGet, Path: "/slow"}, nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "err = %v", err)
}

func TestRESTClient_MalformedReply(t *testing.T) {
	srv := replyWith(t, http.StatusOK, `{"id": `)
	var out map[string]interface{}
	err := NewRESTClient("Test", srv.URL, srv.Client()).Do(context.Background(), Call{Method: http.MethodGet, Path: "/x"}, &out)
	assert.ErrorContains(t, err, "failed to decode Test response")
}

func TestSnakeToCamel(t *testing.T) {
	tests := map[string]string{
		"html_url":       "htmlUrl",
		"merged_at":      "mergedAt",
		"last_commit_id": "lastCommitId",
		"id":             "id",
		"alreadyCamel":   "alreadyCamel",
		"_links":         "links",
		"double__under":  "doubleUnder",
		"__":             "__",
	}
	for in, want := range tests {
		assert.Equal(t, want, SnakeToCamel(in), in)
	}
}
