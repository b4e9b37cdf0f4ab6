package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"forge-mcp-server/internal/domain"
	"forge-mcp-server/internal/infrastructure"
)

// Tool name suffixes shared by the source-hosting groups. The full name
// is "<group>_<suffix>", e.g. github_get_file_contents.
const (
	SuffixGetFileContents    = "get_file_contents"
	SuffixCreateOrUpdateFile = "create_or_update_file"
	SuffixListPullRequests   = "list_pull_requests"
	SuffixGetPullRequest     = "get_pull_request"
	SuffixCreatePullRequest  = "create_pull_request"
	SuffixReviewPullRequest  = "review_pull_request"
	SuffixListIssues         = "list_issues"
	SuffixCreateIssue        = "create_issue"
	SuffixSearchRepositories = "search_repositories"
)

const (
	reviewActionApprove = "approve"
	reviewActionClose   = "close"
)

// SourceHostHandler provides the repository tools for one source-hosting
// group over a domain.SourceHost.
type SourceHostHandler struct {
	group domain.Group
	host  domain.SourceHost
	vocab hostVocabulary
	ready error
}

// NewGitHubHandler builds the GitHub tools from the service configuration.
func NewGitHubHandler(service *domain.ServiceConfig, auth *domain.AuthenticationManager) *SourceHostHandler {
	if err := service.Ready(); err != nil {
		return &SourceHostHandler{group: domain.GroupGitHub, ready: err}
	}
	httpClient, err := auth.GetAuthenticatedClient(domain.GroupGitHub)
	if err != nil {
		return &SourceHostHandler{group: domain.GroupGitHub, ready: err}
	}
	return NewSourceHostHandler(domain.GroupGitHub, infrastructure.NewGitHubClient(service.BaseURL, httpClient))
}

// NewGitLabHandler builds the GitLab tools from the service configuration.
func NewGitLabHandler(service *domain.ServiceConfig, auth *domain.AuthenticationManager) *SourceHostHandler {
	if err := service.Ready(); err != nil {
		return &SourceHostHandler{group: domain.GroupGitLab, ready: err}
	}
	httpClient, err := auth.GetAuthenticatedClient(domain.GroupGitLab)
	if err != nil {
		return &SourceHostHandler{group: domain.GroupGitLab, ready: err}
	}
	return NewSourceHostHandler(domain.GroupGitLab, infrastructure.NewGitLabClient(service.BaseURL, httpClient))
}

// NewSourceHostHandler wraps an existing source host for group.
func NewSourceHostHandler(group domain.Group, host domain.SourceHost) *SourceHostHandler {
	h := &SourceHostHandler{group: group, host: host, vocab: vocabularies[group]}
	if _, known := vocabularies[group]; !known {
		h.ready = fmt.Errorf("%s is not a source-hosting group", group)
	}
	return h
}

// Group implements ToolProvider.
func (h *SourceHostHandler) Group() domain.Group { return h.group }

// Ready implements ToolProvider.
func (h *SourceHostHandler) Ready() error { return h.ready }

func (h *SourceHostHandler) name(suffix string) string {
	return string(h.group) + "_" + suffix
}

// Tools implements ToolProvider.
func (h *SourceHostHandler) Tools() []Tool {
	v := h.vocab
	repo := repositoryField(v)
	number := numberField(v)
	prs := strings.ToLower(v.prName) + "s"

	return []Tool{
		{
			Name:        h.name(SuffixGetFileContents),
			Description: fmt.Sprintf("Read a file from a %s repository; without ref the default branch is used", v.name),
			ReadOnly:    true,
			Schema: domain.NewSchema(
				repo,
				domain.String("path", "File path relative to the repository root").Require(),
				domain.String("ref", "Branch, tag or commit; defaults to the default branch"),
			),
			Handler: h.getFileContents,
		},
		{
			Name:        h.name(SuffixCreateOrUpdateFile),
			Description: fmt.Sprintf("Create a file in a %s repository, or commit a new revision if it already exists", v.name),
			Schema: domain.NewSchema(
				repo,
				domain.String("path", "File path relative to the repository root").Require(),
				domain.String("content", "Full new file content").Require(),
				domain.String("message", "Commit message").Require(),
				domain.String("branch", "Branch to commit to; defaults to the default branch"),
			),
			Handler: h.createOrUpdateFile,
		},
		{
			Name:        h.name(SuffixListPullRequests),
			Description: fmt.Sprintf("List %s %s", v.name, prs),
			ReadOnly:    true,
			Schema: domain.NewSchema(
				repo,
				domain.Enum("state", "State filter", "open", "closed", "merged", "all").WithDefault("open"),
				perPageField(),
			),
			Handler: h.listPullRequests,
		},
		{
			Name:        h.name(SuffixGetPullRequest),
			Description: fmt.Sprintf("Get one %s %s", v.name, strings.ToLower(v.prName)),
			ReadOnly:    true,
			Schema:      domain.NewSchema(repo, number),
			Handler:     h.getPullRequest,
		},
		{
			Name:        h.name(SuffixCreatePullRequest),
			Description: fmt.Sprintf("Open a %s %s", v.name, strings.ToLower(v.prName)),
			Schema: domain.NewSchema(
				repo,
				domain.String("title", "Title").Require(),
				domain.String("source_branch", "Branch containing the changes").Require(),
				domain.String("target_branch", "Branch to merge into; defaults to the default branch"),
				domain.String("body", "Description"),
				domain.Boolean("draft", "Open as draft").WithDefault(false),
			),
			Handler: h.createPullRequest,
		},
		{
			Name: h.name(SuffixReviewPullRequest),
			Description: fmt.Sprintf("Approve or close a %s %s, optionally leaving a comment afterwards",
				v.name, strings.ToLower(v.prName)),
			Schema: domain.NewSchema(
				repo,
				number,
				domain.Enum("action", "Review action", reviewActionApprove, reviewActionClose).Require(),
				domain.String("comment", "Comment posted after the action"),
			),
			Handler: h.reviewPullRequest,
		},
		{
			Name:        h.name(SuffixListIssues),
			Description: fmt.Sprintf("List %s issues", v.name),
			ReadOnly:    true,
			Schema: domain.NewSchema(
				repo,
				domain.Enum("state", "State filter", "open", "closed", "all").WithDefault("open"),
				domain.Array("labels", "Only issues carrying all of these labels", domain.String("", "Label")),
				perPageField(),
			),
			Handler: h.listIssues,
		},
		{
			Name:        h.name(SuffixCreateIssue),
			Description: fmt.Sprintf("Open a %s issue", v.name),
			Schema: domain.NewSchema(
				repo,
				domain.String("title", "Title").Require(),
				domain.String("body", "Description"),
				domain.Array("labels", "Labels to set", domain.String("", "Label")),
			),
			Handler: h.createIssue,
		},
		{
			Name:        h.name(SuffixSearchRepositories),
			Description: fmt.Sprintf("Search %s repositories", v.name),
			ReadOnly:    true,
			Schema: domain.NewSchema(
				domain.String("query", "Search query").Require(),
				perPageField(),
			),
			Handler: h.searchRepositories,
		},
	}
}

// getFileContents resolves the default branch only when no ref is given,
// so a call costs one lookup plus one fetch at most.
func (h *SourceHostHandler) getFileContents(ctx context.Context, args domain.Arguments) (interface{}, error) {
	repo := args.String("repository")
	ref := args.String("ref")
	if ref == "" {
		branch, err := h.host.DefaultBranch(ctx, repo)
		if err != nil {
			return nil, err
		}
		ref = branch
	}
	file, err := h.host.GetFile(ctx, repo, args.String("path"), ref)
	if err != nil {
		return nil, err
	}
	if file.Ref == "" {
		file.Ref = ref
	}
	return file, nil
}

// createOrUpdateFile reads the file first: not found means create, found
// means update against the revision just read. Any other read failure
// stops before a write is attempted.
func (h *SourceHostHandler) createOrUpdateFile(ctx context.Context, args domain.Arguments) (interface{}, error) {
	repo := args.String("repository")
	branch := args.String("branch")
	if branch == "" {
		b, err := h.host.DefaultBranch(ctx, repo)
		if err != nil {
			return nil, err
		}
		branch = b
	}

	change := domain.FileChange{
		Path:    args.String("path"),
		Branch:  branch,
		Content: args.String("content"),
		Message: args.String("message"),
	}

	existing, err := h.host.GetFile(ctx, repo, change.Path, branch)
	var notFound *domain.NotFoundError
	switch {
	case errors.As(err, &notFound):
		return h.host.CreateFile(ctx, repo, change)
	case err != nil:
		return nil, err
	}

	change.SHA = existing.SHA
	change.LastCommitID = existing.LastCommitID
	return h.host.UpdateFile(ctx, repo, change)
}

func (h *SourceHostHandler) listPullRequests(ctx context.Context, args domain.Arguments) (interface{}, error) {
	records, err := h.host.ListPullRequests(ctx, args.String("repository"), listOptions(args))
	if err != nil {
		return nil, err
	}
	return listResult("pullRequests", records), nil
}

func (h *SourceHostHandler) getPullRequest(ctx context.Context, args domain.Arguments) (interface{}, error) {
	return withURL(h.host.GetPullRequest(ctx, args.String("repository"), args.Int("number")))
}

func (h *SourceHostHandler) createPullRequest(ctx context.Context, args domain.Arguments) (interface{}, error) {
	repo := args.String("repository")
	target := args.String("target_branch")
	if target == "" {
		b, err := h.host.DefaultBranch(ctx, repo)
		if err != nil {
			return nil, err
		}
		target = b
	}
	return withURL(h.host.CreatePullRequest(ctx, repo, domain.PullRequestCreate{
		Title:        args.String("title"),
		Body:         args.String("body"),
		SourceBranch: args.String("source_branch"),
		TargetBranch: target,
		Draft:        args.Bool("draft"),
	}))
}

// reviewPullRequest applies the state change, then the comment. The
// state change is not rolled back when the comment fails.
func (h *SourceHostHandler) reviewPullRequest(ctx context.Context, args domain.Arguments) (interface{}, error) {
	repo := args.String("repository")
	number := args.Int("number")
	action := args.String("action")

	var (
		result domain.Record
		err    error
	)
	switch action {
	case reviewActionApprove:
		result, err = h.host.ApprovePullRequest(ctx, repo, number)
	case reviewActionClose:
		result, err = h.host.ClosePullRequest(ctx, repo, number)
	default:
		return nil, fmt.Errorf("unsupported review action %q", action)
	}
	if err != nil {
		return nil, err
	}

	outcome := map[string]interface{}{
		"number": number,
		"action": action,
		"result": result,
	}

	comment := args.String("comment")
	if comment == "" {
		return outcome, nil
	}
	posted, err := h.host.CommentPullRequest(ctx, repo, number, comment)
	if err != nil {
		return nil, &domain.PartialSuccessError{
			Completed: fmt.Sprintf("%s of %s %d", action, strings.ToLower(h.vocab.prName), number),
			Failed:    "comment",
			Result:    outcome,
			Err:       err,
		}
	}
	outcome["comment"] = posted
	return outcome, nil
}

func (h *SourceHostHandler) listIssues(ctx context.Context, args domain.Arguments) (interface{}, error) {
	records, err := h.host.ListIssues(ctx, args.String("repository"), listOptions(args))
	if err != nil {
		return nil, err
	}
	return listResult("issues", records), nil
}

func (h *SourceHostHandler) createIssue(ctx context.Context, args domain.Arguments) (interface{}, error) {
	return withURL(h.host.CreateIssue(ctx, args.String("repository"), domain.IssueCreate{
		Title:  args.String("title"),
		Body:   args.String("body"),
		Labels: args.Strings("labels"),
	}))
}

func (h *SourceHostHandler) searchRepositories(ctx context.Context, args domain.Arguments) (interface{}, error) {
	records, err := h.host.SearchRepositories(ctx, args.String("query"), args.Int("per_page"))
	if err != nil {
		return nil, err
	}
	return listResult("repositories", records), nil
}

// withURL copies the remote's browser link into a uniform "url" field.
func withURL(rec domain.Record, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	if u := rec.WebURL(); u != "" {
		rec["url"] = u
	}
	return rec, nil
}

func listResult(key string, records []domain.Record) map[string]interface{} {
	if records == nil {
		records = []domain.Record{}
	}
	return map[string]interface{}{key: records, "total": len(records)}
}
