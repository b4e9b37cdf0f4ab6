package infrastructure

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"forge-mcp-server/internal/domain"
)

// mockAuthTransport adds a fixed Authorization header to every request.
type mockAuthTransport struct {
	base http.RoundTripper
}

func (t *mockAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clonedReq := req.Clone(req.Context())
	clonedReq.Header.Set("Authorization", "Bearer test-token")
	return t.base.RoundTrip(clonedReq)
}

func getAuthenticatedClient() *http.Client {
	return &http.Client{Transport: &mockAuthTransport{base: http.DefaultTransport}}
}

func TestJiraClient_GetIssue(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"errorMessages":["Authentication required"]}`)
			return
		}
		query = r.URL.RawQuery
		_, _ = io.WriteString(w, `{
			"id": "10001", "key": "TEST-123",
			"fields": {
				"summary": "Test issue", "status": {"id": 1, "name": "Open"},
				"customfield_10020": {"value": "Team A"}, "customfield_10021": null,
				"labels": ["a"]
			},
			"transitions": [{"id": "21", "name": "Start", "to": {"id": "3", "name": "In Progress"}}]
		}`)
	}))
	defer srv.Close()

	issue, err := NewJiraClient(srv.URL, getAuthenticatedClient()).GetIssue(context.Background(), "TEST-123", nil, []string{"changelog"})
	require.NoError(t, err)

	assert.Equal(t, "TEST-123", issue.Key)
	assert.Equal(t, domain.FlexibleID("1"), issue.Fields.Status.ID)
	assert.Equal(t, srv.URL+"/browse/TEST-123", issue.URL)
	assert.Equal(t, map[string]interface{}{"customfield_10020": map[string]interface{}{"value": "Team A"}}, issue.Fields.Extra)
	require.Len(t, issue.Transitions, 1)
	assert.Equal(t, "In Progress", issue.Transitions[0].To.Name)
	assert.Equal(t, "expand=changelog%2Ctransitions", query)

	_, err = NewJiraClient(srv.URL, &http.Client{}).GetIssue(context.Background(), "TEST-123", nil, nil)
	var authErr *domain.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "Authentication required", authErr.Message)
}

func TestWithTransitions(t *testing.T) {
	assert.Equal(t, []string{"transitions"}, withTransitions(nil))
	assert.Equal(t, []string{"transitions", "changelog"}, withTransitions([]string{"transitions", "changelog"}))

	expand := []string{"changelog"}
	assert.Equal(t, []string{"changelog", "transitions"}, withTransitions(expand))
	assert.Equal(t, []string{"changelog"}, expand, "caller's slice must not change")
}

func TestIssueBody(t *testing.T) {
	body, err := issueBody(
		map[string]interface{}{"summary": "real", "labels": []string{"x"}},
		map[string]interface{}{"summary": "shadow", "customfield_1": 3, "weird.key": "dotted"},
	)
	require.NoError(t, err)

	assert.Equal(t, "real", gjson.GetBytes(body, "fields.summary").String())
	assert.Equal(t, int64(3), gjson.GetBytes(body, "fields.customfield_1").Int())
	assert.Equal(t, "dotted", gjson.GetBytes(body, `fields.weird\.key`).String())
	assert.Equal(t, "x", gjson.GetBytes(body, "fields.labels.0").String())

	body, err = issueBody(map[string]interface{}{}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fields":{}}`, string(body))
}

func TestJiraClient_SearchJQL(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = io.WriteString(w, `{"startAt": 0, "maxResults": 50, "total": 2, "issues": [{"id": 1, "key": "A-1"}, {"id": 2, "key": "A-2"}]}`)
	}))
	defer srv.Close()

	results, err := NewJiraClient(srv.URL, srv.Client()).SearchJQL(context.Background(), SearchOptions{JQL: "project = A"})
	require.NoError(t, err)
	assert.Equal(t, 2, results.Total)
	assert.Equal(t, srv.URL+"/browse/A-2", results.Issues[1].URL)

	q := got.URL.Query()
	assert.Equal(t, "project = A", q.Get("jql"))
	assert.False(t, q.Has("startAt"))
	assert.False(t, q.Has("maxResults"))
	assert.False(t, q.Has("fields"))
}

func TestJiraClient_Transitions(t *testing.T) {
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"transitions": [{"id": "11", "name": "To Do"}, {"id": "21", "name": "Done"}]}`)
		case http.MethodPost:
			data, _ := io.ReadAll(r.Body)
			body = string(data)
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()
	c := NewJiraClient(srv.URL, srv.Client())

	transitions, err := c.GetTransitions(context.Background(), "A-1")
	require.NoError(t, err)
	assert.Len(t, transitions, 2)

	err = c.TransitionIssue(context.Background(), "A-1", &domain.IssueTransition{Transition: domain.TransitionRef{ID: "21"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"transition":{"id":"21"}}`, body)
}

// Every issue operation addresses /rest/api/2/issue/<key> with the expected
// method and JSON headers.
func TestJiraClient_RequestValidity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	genIssueKey := gen.Identifier().
		SuchThat(func(s string) bool { return len(s) >= 2 }).
		Map(func(s string) string { return strings.ToUpper(s[:min(10, len(s))]) + "-123" })

	type captured struct {
		method, path, accept, contentType string
	}
	var last captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last = captured{r.Method, r.URL.Path, r.Header.Get("Accept"), r.Header.Get("Content-Type")}
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, `{"id": "1", "key": "X-1", "fields": {}}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	c := NewJiraClient(srv.URL, srv.Client())

	properties.Property("GetIssue is a GET on the issue path", prop.ForAll(
		func(key string) bool {
			_, err := c.GetIssue(context.Background(), key, nil, nil)
			return err == nil && last.method == http.MethodGet &&
				last.path == "/rest/api/2/issue/"+key &&
				last.accept == "application/json" && last.contentType == ""
		},
		genIssueKey,
	))

	properties.Property("UpdateIssue is a JSON PUT on the issue path", prop.ForAll(
		func(key, summary string) bool {
			err := c.UpdateIssue(context.Background(), key, map[string]interface{}{"summary": summary}, nil)
			return err == nil && last.method == http.MethodPut &&
				last.path == "/rest/api/2/issue/"+key &&
				last.contentType == "application/json"
		},
		genIssueKey,
		gen.AlphaString(),
	))

	properties.Property("DeleteIssue is a DELETE on the issue path", prop.ForAll(
		func(key string) bool {
			err := c.DeleteIssue(context.Background(), key)
			return err == nil && last.method == http.MethodDelete && last.path == "/rest/api/2/issue/"+key
		},
		genIssueKey,
	))

	properties.TestingRun(t)
}
