package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"forge-mcp-server/internal/domain"
)

// modelledJiraFields are decoded into domain.JiraFields; anything else the
// remote returns under "fields" lands in Extra.
var modelledJiraFields = map[string]bool{
	"summary": true, "description": true, "issuetype": true, "project": true,
	"status": true, "priority": true, "resolution": true, "labels": true,
	"assignee": true, "reporter": true, "created": true, "updated": true,
}

// JiraClient handles Jira REST API v2 interactions.
type JiraClient struct {
	rest *RESTClient
}

// NewJiraClient creates a new Jira API client.
// The baseURL should be the root URL of the Jira instance (e.g., "https://example.atlassian.net").
// The httpClient should be an authenticated client from the AuthenticationManager.
func NewJiraClient(baseURL string, httpClient *http.Client) *JiraClient {
	return &JiraClient{rest: NewRESTClient("Jira", baseURL, httpClient)}
}

// BaseURL returns the configured base URL for the Jira instance.
func (c *JiraClient) BaseURL() string {
	return c.rest.BaseURL()
}

// BrowseURL derives the web URL of an issue from its key.
func (c *JiraClient) BrowseURL(issueKey string) string {
	return c.rest.BaseURL() + "/browse/" + issueKey
}

// GetIssue retrieves a Jira issue by its key (e.g., "TEST-123").
// Transitions are always expanded so their ids can be used with
// TransitionIssue.
func (c *JiraClient) GetIssue(ctx context.Context, issueKey string, fields, expand []string) (*domain.JiraIssue, error) {
	query := url.Values{}
	if len(fields) > 0 {
		query.Set("fields", strings.Join(fields, ","))
	}
	query.Set("expand", strings.Join(withTransitions(expand), ","))

	data, err := c.rest.DoRaw(ctx, Call{
		Method: http.MethodGet,
		Path:   "/rest/api/2/issue/" + url.PathEscape(issueKey),
		Query:  query,
	})
	if err != nil {
		return nil, err
	}

	var issue domain.JiraIssue
	if err := json.Unmarshal(data, &issue); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	issue.Fields.Extra = extraFields(gjson.GetBytes(data, "fields"))
	issue.URL = c.BrowseURL(issue.Key)
	return &issue, nil
}

func withTransitions(expand []string) []string {
	for _, e := range expand {
		if e == "transitions" {
			return expand
		}
	}
	return append(append([]string(nil), expand...), "transitions")
}

func extraFields(fields gjson.Result) map[string]interface{} {
	if !fields.IsObject() {
		return nil
	}
	var extra map[string]interface{}
	fields.ForEach(func(key, value gjson.Result) bool {
		if modelledJiraFields[key.String()] || value.Type == gjson.Null {
			return true
		}
		if extra == nil {
			extra = make(map[string]interface{})
		}
		extra[key.String()] = value.Value()
		return true
	})
	return extra
}

// SearchOptions contains options for JQL search operations.
type SearchOptions struct {
	JQL        string   // passed to the remote verbatim
	StartAt    int      // the index of the first issue to return (0-based)
	MaxResults int      // the maximum number of issues to return
	Fields     []string // the fields to include in the response (optional)
}

// SearchJQL performs a JQL (Jira Query Language) search.
// Returns search results including issues and pagination metadata.
func (c *JiraClient) SearchJQL(ctx context.Context, options SearchOptions) (*domain.SearchResults, error) {
	params := url.Values{}
	params.Set("jql", options.JQL)
	if options.StartAt > 0 {
		params.Set("startAt", strconv.Itoa(options.StartAt))
	}
	if options.MaxResults > 0 {
		params.Set("maxResults", strconv.Itoa(options.MaxResults))
	}
	if len(options.Fields) > 0 {
		params.Set("fields", strings.Join(options.Fields, ","))
	}

	var results domain.SearchResults
	if err := c.rest.Do(ctx, Call{Method: http.MethodGet, Path: "/rest/api/2/search", Query: params}, &results); err != nil {
		return nil, err
	}
	for i := range results.Issues {
		results.Issues[i].URL = c.BrowseURL(results.Issues[i].Key)
	}
	return &results, nil
}

// ListProjects returns every project visible to the caller.
func (c *JiraClient) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var projects []domain.Project
	if err := c.rest.Do(ctx, Call{Method: http.MethodGet, Path: "/rest/api/2/project"}, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// GetTransitions lists the workflow transitions currently available on an issue.
func (c *JiraClient) GetTransitions(ctx context.Context, issueKey string) ([]domain.Transition, error) {
	var reply struct {
		Transitions []domain.Transition `json:"transitions"`
	}
	err := c.rest.Do(ctx, Call{
		Method: http.MethodGet,
		Path:   "/rest/api/2/issue/" + url.PathEscape(issueKey) + "/transitions",
	}, &reply)
	if err != nil {
		return nil, err
	}
	return reply.Transitions, nil
}

// CreateIssue creates a new Jira issue. Standard fields come from fields;
// extra holds additional remote fields (custom fields and the like) merged
// into the same "fields" object. Standard fields win on conflict.
func (c *JiraClient) CreateIssue(ctx context.Context, fields, extra map[string]interface{}) (*domain.CreatedIssue, error) {
	body, err := issueBody(fields, extra)
	if err != nil {
		return nil, err
	}

	var created domain.CreatedIssue
	if err := c.rest.Do(ctx, Call{Method: http.MethodPost, Path: "/rest/api/2/issue", Body: body}, &created); err != nil {
		return nil, err
	}
	created.URL = c.BrowseURL(created.Key)
	return &created, nil
}

// UpdateIssue updates an existing Jira issue.
func (c *JiraClient) UpdateIssue(ctx context.Context, issueKey string, fields, extra map[string]interface{}) error {
	body, err := issueBody(fields, extra)
	if err != nil {
		return err
	}
	return c.rest.Do(ctx, Call{
		Method: http.MethodPut,
		Path:   "/rest/api/2/issue/" + url.PathEscape(issueKey),
		Body:   body,
	}, nil)
}

// issueBody renders {"fields": ...}, patching extra fields in with sjson.
func issueBody(fields, extra map[string]interface{}) ([]byte, error) {
	body := []byte(`{"fields":{}}`)
	var err error
	for key, value := range extra {
		if _, standard := fields[key]; standard {
			continue
		}
		if body, err = sjson.SetBytes(body, "fields."+escapePathKey(key), value); err != nil {
			return nil, fmt.Errorf("failed to set field %s: %w", key, err)
		}
	}
	for key, value := range fields {
		if body, err = sjson.SetBytes(body, "fields."+escapePathKey(key), value); err != nil {
			return nil, fmt.Errorf("failed to set field %s: %w", key, err)
		}
	}
	return body, nil
}

// escapePathKey protects gjson/sjson path metacharacters inside a key.
func escapePathKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DeleteIssue deletes a Jira issue.
func (c *JiraClient) DeleteIssue(ctx context.Context, issueKey string) error {
	return c.rest.Do(ctx, Call{
		Method: http.MethodDelete,
		Path:   "/rest/api/2/issue/" + url.PathEscape(issueKey),
	}, nil)
}

// TransitionIssue moves an issue through its workflow in one request.
func (c *JiraClient) TransitionIssue(ctx context.Context, issueKey string, transition *domain.IssueTransition) error {
	return c.rest.Do(ctx, Call{
		Method: http.MethodPost,
		Path:   "/rest/api/2/issue/" + url.PathEscape(issueKey) + "/transitions",
		Body:   transition,
	}, nil)
}

// AddComment adds a comment to an issue.
func (c *JiraClient) AddComment(ctx context.Context, issueKey, body string) (*domain.Comment, error) {
	var comment domain.Comment
	err := c.rest.Do(ctx, Call{
		Method: http.MethodPost,
		Path:   "/rest/api/2/issue/" + url.PathEscape(issueKey) + "/comment",
		Body:   map[string]string{"body": body},
	}, &comment)
	if err != nil {
		return nil, err
	}
	return &comment, nil
}
