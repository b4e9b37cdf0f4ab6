package application

import (
	"context"
	"fmt"

	"forge-mcp-server/internal/domain"
	"forge-mcp-server/internal/infrastructure"
)

// Tool name constants for Confluence operations
const (
	ToolConfluenceSearch      = "confluence_search"
	ToolConfluenceGetPage     = "confluence_get_page"
	ToolConfluenceListSpaces  = "confluence_list_spaces"
	ToolConfluenceGetChildren = "confluence_get_page_children"
	ToolConfluenceCreatePage  = "confluence_create_page"
	ToolConfluenceUpdatePage  = "confluence_update_page"
	ToolConfluenceDeletePage  = "confluence_delete_page"
	ToolConfluenceAddComment  = "confluence_add_comment"
)

const defaultConfluenceLimit = 10

// ConfluenceHandler provides the wiki tools.
type ConfluenceHandler struct {
	client *infrastructure.ConfluenceClient
	ready  error
}

// NewConfluenceHandler builds the Confluence tools from the service
// configuration.
func NewConfluenceHandler(service *domain.ServiceConfig, auth *domain.AuthenticationManager) *ConfluenceHandler {
	if err := service.Ready(); err != nil {
		return &ConfluenceHandler{ready: err}
	}
	httpClient, err := auth.GetAuthenticatedClient(domain.GroupConfluence)
	if err != nil {
		return &ConfluenceHandler{ready: err}
	}
	return NewConfluenceHandlerWithClient(infrastructure.NewConfluenceClient(service.BaseURL, httpClient))
}

// NewConfluenceHandlerWithClient wraps an existing client.
func NewConfluenceHandlerWithClient(client *infrastructure.ConfluenceClient) *ConfluenceHandler {
	return &ConfluenceHandler{client: client}
}

// Group implements ToolProvider.
func (h *ConfluenceHandler) Group() domain.Group { return domain.GroupConfluence }

// Ready implements ToolProvider.
func (h *ConfluenceHandler) Ready() error { return h.ready }

// Tools implements ToolProvider.
func (h *ConfluenceHandler) Tools() []Tool {
	pageID := domain.String("page_id", "The page ID").Require()
	limit := domain.Integer("limit", "Maximum number of results").WithDefault(defaultConfluenceLimit)

	return []Tool{
		{
			Name:        ToolConfluenceSearch,
			Description: "Search Confluence content with CQL",
			ReadOnly:    true,
			Schema: domain.NewSchema(
				domain.String("cql", "CQL query, passed to Confluence verbatim").Require(),
				domain.Integer("start", "Index of the first result (0-based)").WithDefault(0),
				limit,
			),
			Handler: h.search,
		},
		{
			Name:        ToolConfluenceGetPage,
			Description: "Retrieve a Confluence page with its storage-format body",
			ReadOnly:    true,
			Schema:      domain.NewSchema(pageID),
			Handler:     h.getPage,
		},
		{
			Name:        ToolConfluenceListSpaces,
			Description: "List the Confluence spaces visible to the configured account",
			ReadOnly:    true,
			Schema:      domain.NewSchema(domain.Integer("limit", "Maximum number of spaces").WithDefault(25)),
			Handler:     h.listSpaces,
		},
		{
			Name:        ToolConfluenceGetChildren,
			Description: "List the direct child pages of a page",
			ReadOnly:    true,
			Schema:      domain.NewSchema(pageID, limit),
			Handler:     h.getChildren,
		},
		{
			Name:        ToolConfluenceCreatePage,
			Description: "Create a Confluence page",
			Schema: domain.NewSchema(
				domain.String("space_key", "Key of the space to create the page in").Require(),
				domain.String("title", "Page title").Require(),
				domain.String("body", "Page body in storage format (XHTML)").Require(),
				domain.String("parent_id", "ID of the parent page"),
			),
			Handler: h.createPage,
		},
		{
			Name:        ToolConfluenceUpdatePage,
			Description: "Update a Confluence page; the version number is incremented automatically",
			Schema: domain.NewSchema(
				pageID,
				domain.String("title", "New title; defaults to the current title"),
				domain.String("body", "New body in storage format; defaults to the current body"),
				domain.String("version_message", "Version comment"),
			),
			Handler: h.updatePage,
		},
		{
			Name:        ToolConfluenceDeletePage,
			Description: "Delete a Confluence page",
			Destructive: true,
			Schema:      domain.NewSchema(pageID),
			Handler:     h.deletePage,
		},
		{
			Name:        ToolConfluenceAddComment,
			Description: "Add a comment to a Confluence page",
			Schema: domain.NewSchema(
				pageID,
				domain.String("body", "Comment body in storage format").Require(),
			),
			Handler: h.addComment,
		},
	}
}

func (h *ConfluenceHandler) search(ctx context.Context, args domain.Arguments) (interface{}, error) {
	return h.client.SearchCQL(ctx, infrastructure.ConfluenceSearchOptions{
		CQL:   args.String("cql"),
		Start: args.Int("start"),
		Limit: args.Int("limit"),
	})
}

func (h *ConfluenceHandler) getPage(ctx context.Context, args domain.Arguments) (interface{}, error) {
	return h.client.GetPage(ctx, args.String("page_id"))
}

func (h *ConfluenceHandler) listSpaces(ctx context.Context, args domain.Arguments) (interface{}, error) {
	spaces, err := h.client.GetSpaces(ctx, args.Int("limit"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"spaces": spaces, "total": len(spaces)}, nil
}

func (h *ConfluenceHandler) getChildren(ctx context.Context, args domain.Arguments) (interface{}, error) {
	children, err := h.client.GetChildren(ctx, args.String("page_id"), args.Int("limit"))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"children": children, "total": len(children)}, nil
}

func (h *ConfluenceHandler) createPage(ctx context.Context, args domain.Arguments) (interface{}, error) {
	page := &domain.PageCreate{
		Type:  "page",
		Title: args.String("title"),
		Space: domain.SpaceRef{Key: args.String("space_key")},
		Body:  storageBody(args.String("body")),
	}
	if parent := args.String("parent_id"); parent != "" {
		page.Ancestors = []domain.PageRef{{ID: parent}}
	}
	return h.client.CreatePage(ctx, page)
}

// updatePage reads the current version and writes version+1. A concurrent
// edit in between makes the remote reject the write with a conflict.
func (h *ConfluenceHandler) updatePage(ctx context.Context, args domain.Arguments) (interface{}, error) {
	pageID := args.String("page_id")
	current, err := h.client.GetPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if current.Version == nil {
		return nil, fmt.Errorf("page %s did not report its version", pageID)
	}

	update := &domain.PageUpdate{
		Version: domain.VersionUpdate{
			Number:  current.Version.Number + 1,
			Message: args.String("version_message"),
		},
		Title: current.Title,
		Type:  current.Type,
	}
	if args.Has("title") {
		update.Title = args.String("title")
	}
	if update.Type == "" {
		update.Type = "page"
	}
	switch {
	case args.Has("body"):
		body := storageBody(args.String("body"))
		update.Body = &body
	case current.Body != nil:
		body := storageBody(current.Body.Storage.Value)
		update.Body = &body
	}

	return h.client.UpdatePage(ctx, pageID, update)
}

func storageBody(value string) domain.BodyCreate {
	return domain.BodyCreate{Storage: domain.StorageCreate{Value: value, Representation: "storage"}}
}

func (h *ConfluenceHandler) deletePage(ctx context.Context, args domain.Arguments) (interface{}, error) {
	pageID := args.String("page_id")
	if err := h.client.DeletePage(ctx, pageID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"pageId": pageID, "deleted": true}, nil
}

func (h *ConfluenceHandler) addComment(ctx context.Context, args domain.Arguments) (interface{}, error) {
	return h.client.AddComment(ctx, args.String("page_id"), args.String("body"))
}
