package domain

import (
	"context"
)

// SourceHost defines the operations every source-hosting backend (GitHub,
// GitLab) provides. Repository identifiers are backend native: "owner/repo"
// for GitHub, a numeric id or "group/project" path for GitLab.
//
// Lookups that find nothing return *NotFoundError. GetFile returns
// *NotAFileError when the path names a directory.
type SourceHost interface {
	// DefaultBranch resolves the repository's default branch.
	DefaultBranch(ctx context.Context, repo string) (string, error)

	// GetFile fetches a file at ref and returns its decoded text.
	GetFile(ctx context.Context, repo, path, ref string) (*RepoFile, error)

	// CreateFile commits a new file.
	CreateFile(ctx context.Context, repo string, change FileChange) (*FileCommit, error)

	// UpdateFile commits a new revision of an existing file. The change
	// carries the revision markers read beforehand.
	UpdateFile(ctx context.Context, repo string, change FileChange) (*FileCommit, error)

	ListPullRequests(ctx context.Context, repo string, opts ListOptions) ([]Record, error)
	GetPullRequest(ctx context.Context, repo string, number int) (Record, error)
	CreatePullRequest(ctx context.Context, repo string, pr PullRequestCreate) (Record, error)
	ApprovePullRequest(ctx context.Context, repo string, number int) (Record, error)
	ClosePullRequest(ctx context.Context, repo string, number int) (Record, error)
	CommentPullRequest(ctx context.Context, repo string, number int, body string) (Record, error)

	ListIssues(ctx context.Context, repo string, opts ListOptions) ([]Record, error)
	CreateIssue(ctx context.Context, repo string, issue IssueCreate) (Record, error)

	SearchRepositories(ctx context.Context, query string, perPage int) ([]Record, error)
}

// Record is a remote object after field renaming, passed through to the
// agent without a fixed shape.
type Record map[string]interface{}

// WebURL returns the browser URL the remote reported for the object.
func (r Record) WebURL() string {
	for _, key := range []string{"htmlUrl", "webUrl"} {
		if s, ok := r[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// RepoFile is a file read from a repository.
type RepoFile struct {
	Path         string `json:"path"`
	Ref          string `json:"ref"`
	Size         int    `json:"size"`
	SHA          string `json:"sha,omitempty"`          // blob id
	LastCommitID string `json:"lastCommitId,omitempty"` // GitLab only
	Content      string `json:"content"`
	URL          string `json:"url,omitempty"`
}

// FileChange describes a file write. SHA and LastCommitID are the revision
// markers of the version being replaced and are empty for a create.
type FileChange struct {
	Path         string
	Branch       string
	Content      string // plain text; encoding is the backend's concern
	Message      string
	SHA          string
	LastCommitID string
}

// FileCommit is the outcome of a file write.
type FileCommit struct {
	Path      string `json:"path"`
	Branch    string `json:"branch"`
	Created   bool   `json:"created"`
	CommitSHA string `json:"commitSha,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ListOptions filters list operations.
type ListOptions struct {
	State   string // open, closed, merged, all
	Labels  []string
	PerPage int
}

// PullRequestCreate describes a new pull or merge request.
type PullRequestCreate struct {
	Title        string
	Body         string
	SourceBranch string
	TargetBranch string
	Draft        bool
}

// IssueCreate describes a new repository issue.
type IssueCreate struct {
	Title  string
	Body   string
	Labels []string
}
