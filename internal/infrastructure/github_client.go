package infrastructure

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"forge-mcp-server/internal/domain"
)

// GitHubClient implements domain.SourceHost against the GitHub REST API.
type GitHubClient struct {
	rest *RESTClient
}

var _ domain.SourceHost = (*GitHubClient)(nil)

// NewGitHubClient creates a GitHub client. baseURL is the API root
// ("https://api.github.com" or "https://ghe.example.com/api/v3").
// Authentication comes from httpClient.
func NewGitHubClient(baseURL string, httpClient *http.Client) *GitHubClient {
	rest := NewRESTClient("GitHub", baseURL, httpClient)
	rest.SetHeader("Accept", "application/vnd.github+json")
	rest.SetHeader("X-GitHub-Api-Version", "2022-11-28")
	rest.Rename = SnakeToCamel
	return &GitHubClient{rest: rest}
}

// repoPath turns "owner/repo" into "/repos/owner/repo".
func (c *GitHubClient) repoPath(repo string) (string, error) {
	owner, name, ok := strings.Cut(strings.Trim(repo, "/"), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid GitHub repository %q: expected owner/repo", repo)
	}
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name), nil
}

// DefaultBranch resolves the repository's default branch.
func (c *GitHubClient) DefaultBranch(ctx context.Context, repo string) (string, error) {
	base, err := c.repoPath(repo)
	if err != nil {
		return "", err
	}
	data, err := c.rest.DoRaw(ctx, Call{Method: http.MethodGet, Path: base})
	if err != nil {
		return "", err
	}
	branch := gjson.GetBytes(data, "default_branch").String()
	if branch == "" {
		return "", fmt.Errorf("GitHub did not report a default branch for %s", repo)
	}
	return branch, nil
}

// GetFile reads a file through the contents API.
func (c *GitHubClient) GetFile(ctx context.Context, repo, path, ref string) (*domain.RepoFile, error) {
	base, err := c.repoPath(repo)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	if ref != "" {
		query.Set("ref", ref)
	}
	data, err := c.rest.DoRaw(ctx, Call{
		Method: http.MethodGet,
		Path:   base + "/contents/" + escapeFilePath(path),
		Query:  query,
	})
	if err != nil {
		return nil, err
	}

	reply := gjson.ParseBytes(data)
	if reply.IsArray() {
		return nil, &domain.NotAFileError{Path: path, Type: "dir"}
	}
	if kind := reply.Get("type").String(); kind != "file" {
		return nil, &domain.NotAFileError{Path: path, Type: kind}
	}

	content, err := decodeBase64(reply.Get("content").String())
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", path, err)
	}
	return &domain.RepoFile{
		Path:    reply.Get("path").String(),
		Ref:     ref,
		Size:    int(reply.Get("size").Int()),
		SHA:     reply.Get("sha").String(),
		Content: content,
		URL:     reply.Get("html_url").String(),
	}, nil
}

// CreateFile commits a new file.
func (c *GitHubClient) CreateFile(ctx context.Context, repo string, change domain.FileChange) (*domain.FileCommit, error) {
	change.SHA = ""
	return c.putFile(ctx, repo, change)
}

// UpdateFile commits a new revision of an existing file; change.SHA must
// be the blob sha of the version being replaced.
func (c *GitHubClient) UpdateFile(ctx context.Context, repo string, change domain.FileChange) (*domain.FileCommit, error) {
	if change.SHA == "" {
		return nil, fmt.Errorf("updating %s requires the current blob sha", change.Path)
	}
	return c.putFile(ctx, repo, change)
}

func (c *GitHubClient) putFile(ctx context.Context, repo string, change domain.FileChange) (*domain.FileCommit, error) {
	base, err := c.repoPath(repo)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"message": change.Message,
		"content": base64.StdEncoding.EncodeToString([]byte(change.Content)),
	}
	if change.Branch != "" {
		body["branch"] = change.Branch
	}
	if change.SHA != "" {
		body["sha"] = change.SHA
	}

	data, err := c.rest.DoRaw(ctx, Call{
		Method: http.MethodPut,
		Path:   base + "/contents/" + escapeFilePath(change.Path),
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	reply := gjson.ParseBytes(data)
	return &domain.FileCommit{
		Path:      change.Path,
		Branch:    change.Branch,
		Created:   change.SHA == "",
		CommitSHA: reply.Get("commit.sha").String(),
		URL:       reply.Get("content.html_url").String(),
	}, nil
}

// ListPullRequests lists pull requests. GitHub has no "merged" state, so
// merged is served as closed requests that carry a merge timestamp.
func (c *GitHubClient) ListPullRequests(ctx context.Context, repo string, opts domain.ListOptions) ([]domain.Record, error) {
	base, err := c.repoPath(repo)
	if err != nil {
		return nil, err
	}
	state := opts.State
	if state == "merged" {
		state = "closed"
	}
	query := listQuery(state, opts.PerPage)
	records, err := c.rest.DoRecords(ctx, Call{Method: http.MethodGet, Path: base + "/pulls", Query: query}, "")
	if err != nil {
		return nil, err
	}
	if opts.State != "merged" {
		return records, nil
	}
	merged := records[:0]
	for _, r := range records {
		if r["mergedAt"] != nil {
			merged = append(merged, r)
		}
	}
	return merged, nil
}

// GetPullRequest fetches one pull request.
func (c *GitHubClient) GetPullRequest(ctx context.Context, repo string, number int) (domain.Record, error) {
	base, err := c.repoPath(repo)
	if err != nil {
		return nil, err
	}
	return c.rest.DoRecord(ctx, Call{Method: http.MethodGet, Path: base + "/pulls/" + strconv.Itoa(number)})
}

// CreatePullRequest opens a pull request from SourceBranch into TargetBranch.
func (c *GitHubClient) CreatePullRequest(ctx context.Context, repo string, pr domain.PullRequestCreate) (domain.Record, error) {
	base, err := c.repoPath(repo)
	if err != nil {
		return nil, err
	}
	return c.rest.DoRecord(ctx, Call{
		Method: http.MethodPost,
		Path:   base + "/pulls",
		Body: map[string]interface{}{
			"title": pr.Title,
			"body":  pr.Body,
			"head":  pr.SourceBranch,
			"base":  pr.TargetBranch,
			"draft": pr.Draft,
		},
	})
}

// ApprovePullRequest submits an approving review.
func (c *GitHubClient) ApprovePullRequest(ctx context.Context, repo string, number int) (domain.Record, error) {
	base, err := c.repoPath(repo)
	if err != nil {
		return nil, err
	}
	return c.rest.DoRecord(ctx, Call{
		Method: http.MethodPost,
		Path:   base + "/pulls/" + strconv.Itoa(number) + "/reviews",
		Body:   map[string]string{"event": "APPROVE"},
	})
}

// ClosePullRequest closes a pull request without merging it.
func (c *GitHubClient) ClosePullRequest(ctx context.Context, repo string, number int) (domain.Record, error) {
	base, err := c.repoPath(repo)
	if err != nil {
		return nil, err
	}
	return c.rest.DoRecord(ctx, Call{
		Method: http.MethodPatch,
		Path:   base + "/pulls/" + strconv.Itoa(number),
		Body:   map[string]string{"state": "closed"},
	})
}

// CommentPullRequest posts a conversation comment. Pull requests share the
// issue comment endpoint.
func (c *GitHubClient) CommentPullRequest(ctx context.Context, repo string, number int, body string) (domain.Record, error) {
	base, err := c.repoPath(repo)
	if err != nil {
		return nil, err
	}
	return c.rest.DoRecord(ctx, Call{
		Method: http.MethodPost,
		Path:   base + "/issues/" + strconv.Itoa(number) + "/comments",
		Body:   map[string]string{"body": body},
	})
}

// ListIssues lists issues, leaving out the pull requests GitHub mixes in.
func (c *GitHubClient) ListIssues(ctx context.Context, repo string, opts domain.ListOptions) ([]domain.Record, error) {
	base, err := c.repoPath(repo)
	if err != nil {
		return nil, err
	}
	query := listQuery(opts.State, opts.PerPage)
	if len(opts.Labels) > 0 {
		query.Set("labels", strings.Join(opts.Labels, ","))
	}
	records, err := c.rest.DoRecords(ctx, Call{Method: http.MethodGet, Path: base + "/issues", Query: query}, "")
	if err != nil {
		return nil, err
	}
	issues := records[:0]
	for _, r := range records {
		if _, isPR := r["pullRequest"]; !isPR {
			issues = append(issues, r)
		}
	}
	return issues, nil
}

// CreateIssue opens an issue.
func (c *GitHubClient) CreateIssue(ctx context.Context, repo string, issue domain.IssueCreate) (domain.Record, error) {
	base, err := c.repoPath(repo)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{"title": issue.Title, "body": issue.Body}
	if len(issue.Labels) > 0 {
		body["labels"] = issue.Labels
	}
	return c.rest.DoRecord(ctx, Call{Method: http.MethodPost, Path: base + "/issues", Body: body})
}

// SearchRepositories runs a repository search.
func (c *GitHubClient) SearchRepositories(ctx context.Context, query string, perPage int) ([]domain.Record, error) {
	params := url.Values{"q": {query}}
	if perPage > 0 {
		params.Set("per_page", strconv.Itoa(perPage))
	}
	return c.rest.DoRecords(ctx, Call{Method: http.MethodGet, Path: "/search/repositories", Query: params}, "items")
}

func listQuery(state string, perPage int) url.Values {
	query := url.Values{}
	if state != "" {
		query.Set("state", state)
	}
	if perPage > 0 {
		query.Set("per_page", strconv.Itoa(perPage))
	}
	return query
}

// escapeFilePath escapes each segment of a repository path, keeping the
// separators.
func escapeFilePath(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// decodeBase64 decodes the line-wrapped base64 both hosts return.
func decodeBase64(encoded string) (string, error) {
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(encoded)
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
