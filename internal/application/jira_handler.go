package application

import (
	"context"
	"strings"

	"forge-mcp-server/internal/domain"
	"forge-mcp-server/internal/infrastructure"
)

// Tool name constants for Jira operations
const (
	ToolJiraGetIssue       = "jira_get_issue"
	ToolJiraSearch         = "jira_search"
	ToolJiraListProjects   = "jira_list_projects"
	ToolJiraGetTransitions = "jira_get_transitions"
	ToolJiraCreateIssue    = "jira_create_issue"
	ToolJiraUpdateIssue    = "jira_update_issue"
	ToolJiraDeleteIssue    = "jira_delete_issue"
	ToolJiraTransition     = "jira_transition_issue"
	ToolJiraAddComment     = "jira_add_comment"
)

const defaultJiraMaxResults = 10

// JiraHandler provides the issue-tracking tools.
type JiraHandler struct {
	client *infrastructure.JiraClient
	ready  error
}

// NewJiraHandler builds the Jira tools from the service configuration.
// Missing configuration or credentials leave the handler not Ready.
func NewJiraHandler(service *domain.ServiceConfig, auth *domain.AuthenticationManager) *JiraHandler {
	if err := service.Ready(); err != nil {
		return &JiraHandler{ready: err}
	}
	httpClient, err := auth.GetAuthenticatedClient(domain.GroupJira)
	if err != nil {
		return &JiraHandler{ready: err}
	}
	return NewJiraHandlerWithClient(infrastructure.NewJiraClient(service.BaseURL, httpClient))
}

// NewJiraHandlerWithClient wraps an existing client.
func NewJiraHandlerWithClient(client *infrastructure.JiraClient) *JiraHandler {
	return &JiraHandler{client: client}
}

// Group implements ToolProvider.
func (h *JiraHandler) Group() domain.Group { return domain.GroupJira }

// Ready implements ToolProvider.
func (h *JiraHandler) Ready() error { return h.ready }

// Tools implements ToolProvider.
func (h *JiraHandler) Tools() []Tool {
	issueKey := domain.String("issue_key", "The issue key (e.g., PROJ-123)").Require()
	fields := domain.Array("fields", "Field names to return; omit for the remote's default set",
		domain.String("", "Field name"))
	additional := domain.Extension("additional_fields",
		"Extra remote fields merged into the request, e.g. {\"customfield_10010\": 5}. Values must be scalars")

	return []Tool{
		{
			Name:        ToolJiraGetIssue,
			Description: "Retrieve a Jira issue by key, including the transitions currently available on it",
			ReadOnly:    true,
			Schema: domain.NewSchema(
				issueKey,
				fields,
				domain.Array("expand", "Additional expansions (e.g., changelog, renderedFields)", domain.String("", "Expansion")),
			),
			Handler: h.getIssue,
		},
		{
			Name:        ToolJiraSearch,
			Description: "Search Jira issues with JQL",
			ReadOnly:    true,
			Schema: domain.NewSchema(
				domain.String("jql", "JQL query, passed to Jira verbatim").Require(),
				fields,
				domain.Integer("start_at", "Index of the first result (0-based)").WithDefault(0),
				domain.Integer("max_results", "Maximum number of issues to return").WithDefault(defaultJiraMaxResults),
			),
			Handler: h.search,
		},
		{
			Name:        ToolJiraListProjects,
			Description: "List the Jira projects visible to the configured account",
			ReadOnly:    true,
			Schema:      domain.NewSchema(),
			Handler:     h.listProjects,
		},
		{
			Name:        ToolJiraGetTransitions,
			Description: "List the workflow transitions available on an issue",
			ReadOnly:    true,
			Schema:      domain.NewSchema(issueKey),
			Handler:     h.getTransitions,
		},
		{
			Name:        ToolJiraCreateIssue,
			Description: "Create a new Jira issue",
			Schema: domain.NewSchema(
				domain.String("project_key", "The project key (e.g., PROJ)").Require(),
				domain.String("summary", "The issue summary/title").Require(),
				domain.String("issue_type", "The issue type name (e.g., Bug, Story, Task)").Require(),
				domain.String("description", "The issue description"),
				domain.String("assignee", "Account id of the assignee"),
				domain.Array("labels", "Labels to set", domain.String("", "Label")),
				additional,
			),
			Handler: h.createIssue,
		},
		{
			Name:        ToolJiraUpdateIssue,
			Description: "Update fields of an existing Jira issue",
			Schema: domain.NewSchema(
				issueKey,
				domain.String("summary", "New summary"),
				domain.String("description", "New description"),
				domain.String("assignee", "Account id of the new assignee"),
				domain.Array("labels", "Replacement label set", domain.String("", "Label")),
				additional,
			),
			Handler: h.updateIssue,
		},
		{
			Name:        ToolJiraDeleteIssue,
			Description: "Delete a Jira issue",
			Destructive: true,
			Schema:      domain.NewSchema(issueKey),
			Handler:     h.deleteIssue,
		},
		{
			Name:        ToolJiraTransition,
			Description: "Move an issue through its workflow. Use jira_get_transitions to find transition ids",
			Schema: domain.NewSchema(
				issueKey,
				domain.String("transition_id", "The transition id").Require(),
				domain.String("comment", "Comment added with the transition"),
				domain.String("resolution", "Resolution name set with the transition (e.g., Done)"),
			),
			Handler: h.transitionIssue,
		},
		{
			Name:        ToolJiraAddComment,
			Description: "Add a comment to a Jira issue",
			Schema: domain.NewSchema(
				issueKey,
				domain.String("body", "Comment text").Require(),
			),
			Handler: h.addComment,
		},
	}
}

func (h *JiraHandler) getIssue(ctx context.Context, args domain.Arguments) (interface{}, error) {
	return h.client.GetIssue(ctx, args.String("issue_key"), args.Strings("fields"), args.Strings("expand"))
}

func (h *JiraHandler) search(ctx context.Context, args domain.Arguments) (interface{}, error) {
	return h.client.SearchJQL(ctx, infrastructure.SearchOptions{
		JQL:        args.String("jql"),
		StartAt:    args.Int("start_at"),
		MaxResults: args.Int("max_results"),
		Fields:     args.Strings("fields"),
	})
}

func (h *JiraHandler) listProjects(ctx context.Context, _ domain.Arguments) (interface{}, error) {
	projects, err := h.client.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"projects": projects, "total": len(projects)}, nil
}

func (h *JiraHandler) getTransitions(ctx context.Context, args domain.Arguments) (interface{}, error) {
	transitions, err := h.client.GetTransitions(ctx, args.String("issue_key"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"transitions": transitions}, nil
}

func (h *JiraHandler) createIssue(ctx context.Context, args domain.Arguments) (interface{}, error) {
	fields := map[string]interface{}{
		"project":   map[string]string{"key": args.String("project_key")},
		"summary":   args.String("summary"),
		"issuetype": map[string]string{"name": args.String("issue_type")},
	}
	setCommonIssueFields(fields, args)
	return h.client.CreateIssue(ctx, fields, args.Map("additional_fields"))
}

func (h *JiraHandler) updateIssue(ctx context.Context, args domain.Arguments) (interface{}, error) {
	key := args.String("issue_key")
	fields := map[string]interface{}{}
	if args.Has("summary") {
		fields["summary"] = args.String("summary")
	}
	setCommonIssueFields(fields, args)
	if err := h.client.UpdateIssue(ctx, key, fields, args.Map("additional_fields")); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"key":     key,
		"updated": true,
		"url":     h.client.BrowseURL(key),
	}, nil
}

func setCommonIssueFields(fields map[string]interface{}, args domain.Arguments) {
	if args.Has("description") {
		fields["description"] = args.String("description")
	}
	if args.Has("assignee") {
		fields["assignee"] = map[string]string{"accountId": args.String("assignee")}
	}
	if args.Has("labels") {
		fields["labels"] = args.Strings("labels")
	}
}

func (h *JiraHandler) deleteIssue(ctx context.Context, args domain.Arguments) (interface{}, error) {
	key := args.String("issue_key")
	if err := h.client.DeleteIssue(ctx, key); err != nil {
		return nil, err
	}
	return map[string]interface{}{"key": key, "deleted": true}, nil
}

// transitionIssue sends the transition, its comment and its resolution in
// one request so the workflow sees them together.
func (h *JiraHandler) transitionIssue(ctx context.Context, args domain.Arguments) (interface{}, error) {
	key := args.String("issue_key")
	transition := &domain.IssueTransition{
		Transition: domain.TransitionRef{ID: strings.TrimSpace(args.String("transition_id"))},
	}
	if resolution := args.String("resolution"); resolution != "" {
		transition.Fields = map[string]interface{}{
			"resolution": map[string]string{"name": resolution},
		}
	}
	if comment := args.String("comment"); comment != "" {
		transition.Update = map[string]interface{}{
			"comment": []interface{}{
				map[string]interface{}{"add": map[string]string{"body": comment}},
			},
		}
	}

	if err := h.client.TransitionIssue(ctx, key, transition); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"key":          key,
		"transitionId": transition.Transition.ID,
		"transitioned": true,
		"url":          h.client.BrowseURL(key),
	}, nil
}

func (h *JiraHandler) addComment(ctx context.Context, args domain.Arguments) (interface{}, error) {
	return h.client.AddComment(ctx, args.String("issue_key"), args.String("body"))
}
