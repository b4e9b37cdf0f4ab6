package infrastructure

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"forge-mcp-server/internal/domain"
)

// GitLabClient implements domain.SourceHost against the GitLab REST API v4.
// Merge requests play the role of pull requests and are addressed by iid.
type GitLabClient struct {
	rest *RESTClient
}

var _ domain.SourceHost = (*GitLabClient)(nil)

// NewGitLabClient creates a GitLab client. baseURL is the instance root
// ("https://gitlab.com"); the /api/v4 prefix is added per request.
func NewGitLabClient(baseURL string, httpClient *http.Client) *GitLabClient {
	rest := NewRESTClient("GitLab", baseURL, httpClient)
	rest.Rename = SnakeToCamel
	return &GitLabClient{rest: rest}
}

// projectPath accepts a numeric id or a "group/subgroup/project" path.
func (c *GitLabClient) projectPath(repo string) (string, error) {
	repo = strings.Trim(repo, "/")
	if repo == "" {
		return "", fmt.Errorf("invalid GitLab project: empty identifier")
	}
	return "/api/v4/projects/" + url.PathEscape(repo), nil
}

// DefaultBranch resolves the project's default branch.
func (c *GitLabClient) DefaultBranch(ctx context.Context, repo string) (string, error) {
	base, err := c.projectPath(repo)
	if err != nil {
		return "", err
	}
	data, err := c.rest.DoRaw(ctx, Call{Method: http.MethodGet, Path: base})
	if err != nil {
		return "", err
	}
	branch := gjson.GetBytes(data, "default_branch").String()
	if branch == "" {
		return "", fmt.Errorf("GitLab did not report a default branch for %s", repo)
	}
	return branch, nil
}

// GetFile reads a file through the repository files API. GitLab answers a
// directory with 404, so a miss is checked against the tree before it is
// reported as not found.
func (c *GitLabClient) GetFile(ctx context.Context, repo, path, ref string) (*domain.RepoFile, error) {
	base, err := c.projectPath(repo)
	if err != nil {
		return nil, err
	}
	data, err := c.rest.DoRaw(ctx, Call{
		Method: http.MethodGet,
		Path:   base + "/repository/files/" + url.PathEscape(strings.Trim(path, "/")),
		Query:  url.Values{"ref": {ref}},
	})
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) && c.isDirectory(ctx, base, path, ref) {
			return nil, &domain.NotAFileError{Path: path, Type: "dir"}
		}
		return nil, err
	}

	reply := gjson.ParseBytes(data)
	content := reply.Get("content").String()
	if reply.Get("encoding").String() == "base64" {
		if content, err = decodeBase64(content); err != nil {
			return nil, fmt.Errorf("failed to decode content of %s: %w", path, err)
		}
	}
	return &domain.RepoFile{
		Path:         reply.Get("file_path").String(),
		Ref:          reply.Get("ref").String(),
		Size:         int(reply.Get("size").Int()),
		SHA:          reply.Get("blob_id").String(),
		LastCommitID: reply.Get("last_commit_id").String(),
		Content:      content,
	}, nil
}

func (c *GitLabClient) isDirectory(ctx context.Context, base, path, ref string) bool {
	query := url.Values{"path": {strings.Trim(path, "/")}, "per_page": {"1"}}
	if ref != "" {
		query.Set("ref", ref)
	}
	data, err := c.rest.DoRaw(ctx, Call{Method: http.MethodGet, Path: base + "/repository/tree", Query: query})
	if err != nil {
		return false
	}
	tree := gjson.ParseBytes(data)
	return tree.IsArray() && len(tree.Array()) > 0
}

// CreateFile commits a new file.
func (c *GitLabClient) CreateFile(ctx context.Context, repo string, change domain.FileChange) (*domain.FileCommit, error) {
	change.LastCommitID = ""
	return c.writeFile(ctx, repo, http.MethodPost, change)
}

// UpdateFile commits a new revision of an existing file. LastCommitID
// guards against overwriting a concurrent change.
func (c *GitLabClient) UpdateFile(ctx context.Context, repo string, change domain.FileChange) (*domain.FileCommit, error) {
	return c.writeFile(ctx, repo, http.MethodPut, change)
}

func (c *GitLabClient) writeFile(ctx context.Context, repo, method string, change domain.FileChange) (*domain.FileCommit, error) {
	base, err := c.projectPath(repo)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"branch":         change.Branch,
		"commit_message": change.Message,
		"encoding":       "base64",
		"content":        base64.StdEncoding.EncodeToString([]byte(change.Content)),
	}
	if change.LastCommitID != "" {
		body["last_commit_id"] = change.LastCommitID
	}
	data, err := c.rest.DoRaw(ctx, Call{
		Method: method,
		Path:   base + "/repository/files/" + url.PathEscape(strings.Trim(change.Path, "/")),
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	reply := gjson.ParseBytes(data)
	branch := reply.Get("branch").String()
	if branch == "" {
		branch = change.Branch
	}
	return &domain.FileCommit{
		Path:    change.Path,
		Branch:  branch,
		Created: method == http.MethodPost,
	}, nil
}

// ListPullRequests lists merge requests.
func (c *GitLabClient) ListPullRequests(ctx context.Context, repo string, opts domain.ListOptions) ([]domain.Record, error) {
	base, err := c.projectPath(repo)
	if err != nil {
		return nil, err
	}
	query := listQuery(gitlabState(opts.State), opts.PerPage)
	return c.rest.DoRecords(ctx, Call{Method: http.MethodGet, Path: base + "/merge_requests", Query: query}, "")
}

// GetPullRequest fetches one merge request by iid.
func (c *GitLabClient) GetPullRequest(ctx context.Context, repo string, number int) (domain.Record, error) {
	base, err := c.projectPath(repo)
	if err != nil {
		return nil, err
	}
	return c.rest.DoRecord(ctx, Call{Method: http.MethodGet, Path: base + "/merge_requests/" + strconv.Itoa(number)})
}

// CreatePullRequest opens a merge request. Drafts are marked through the
// title prefix GitLab recognises.
func (c *GitLabClient) CreatePullRequest(ctx context.Context, repo string, pr domain.PullRequestCreate) (domain.Record, error) {
	base, err := c.projectPath(repo)
	if err != nil {
		return nil, err
	}
	title := pr.Title
	if pr.Draft && !strings.HasPrefix(title, "Draft:") {
		title = "Draft: " + title
	}
	return c.rest.DoRecord(ctx, Call{
		Method: http.MethodPost,
		Path:   base + "/merge_requests",
		Body: map[string]interface{}{
			"title":         title,
			"description":   pr.Body,
			"source_branch": pr.SourceBranch,
			"target_branch": pr.TargetBranch,
		},
	})
}

// ApprovePullRequest approves a merge request.
func (c *GitLabClient) ApprovePullRequest(ctx context.Context, repo string, number int) (domain.Record, error) {
	base, err := c.projectPath(repo)
	if err != nil {
		return nil, err
	}
	return c.rest.DoRecord(ctx, Call{Method: http.MethodPost, Path: base + "/merge_requests/" + strconv.Itoa(number) + "/approve"})
}

// ClosePullRequest closes a merge request.
func (c *GitLabClient) ClosePullRequest(ctx context.Context, repo string, number int) (domain.Record, error) {
	base, err := c.projectPath(repo)
	if err != nil {
		return nil, err
	}
	return c.rest.DoRecord(ctx, Call{
		Method: http.MethodPut,
		Path:   base + "/merge_requests/" + strconv.Itoa(number),
		Body:   map[string]string{"state_event": "close"},
	})
}

// CommentPullRequest adds a note to a merge request.
func (c *GitLabClient) CommentPullRequest(ctx context.Context, repo string, number int, body string) (domain.Record, error) {
	base, err := c.projectPath(repo)
	if err != nil {
		return nil, err
	}
	return c.rest.DoRecord(ctx, Call{
		Method: http.MethodPost,
		Path:   base + "/merge_requests/" + strconv.Itoa(number) + "/notes",
		Body:   map[string]string{"body": body},
	})
}

// ListIssues lists project issues.
func (c *GitLabClient) ListIssues(ctx context.Context, repo string, opts domain.ListOptions) ([]domain.Record, error) {
	base, err := c.projectPath(repo)
	if err != nil {
		return nil, err
	}
	query := listQuery(gitlabState(opts.State), opts.PerPage)
	if len(opts.Labels) > 0 {
		query.Set("labels", strings.Join(opts.Labels, ","))
	}
	return c.rest.DoRecords(ctx, Call{Method: http.MethodGet, Path: base + "/issues", Query: query}, "")
}

// CreateIssue opens a project issue.
func (c *GitLabClient) CreateIssue(ctx context.Context, repo string, issue domain.IssueCreate) (domain.Record, error) {
	base, err := c.projectPath(repo)
	if err != nil {
		return nil, err
	}
	body := map[string]interface{}{"title": issue.Title, "description": issue.Body}
	if len(issue.Labels) > 0 {
		body["labels"] = strings.Join(issue.Labels, ",")
	}
	return c.rest.DoRecord(ctx, Call{Method: http.MethodPost, Path: base + "/issues", Body: body})
}

// SearchRepositories searches projects by name.
func (c *GitLabClient) SearchRepositories(ctx context.Context, query string, perPage int) ([]domain.Record, error) {
	params := url.Values{"search": {query}}
	if perPage > 0 {
		params.Set("per_page", strconv.Itoa(perPage))
	}
	return c.rest.DoRecords(ctx, Call{Method: http.MethodGet, Path: "/api/v4/projects", Query: params}, "")
}

// gitlabState translates the shared state names; GitLab calls open
// "opened" and expresses "all" by omitting the filter.
func gitlabState(state string) string {
	switch state {
	case "open":
		return "opened"
	case "all":
		return ""
	}
	return state
}
