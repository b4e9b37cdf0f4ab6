package infrastructure

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"forge-mcp-server/internal/domain"
)

// ConfluenceClient handles Confluence REST API interactions.
type ConfluenceClient struct {
	rest *RESTClient
}

// NewConfluenceClient creates a new Confluence API client.
// The baseURL should be the root URL of the Confluence instance, including
// the /wiki context path on Atlassian Cloud.
// The httpClient should be an authenticated client from the AuthenticationManager.
func NewConfluenceClient(baseURL string, httpClient *http.Client) *ConfluenceClient {
	return &ConfluenceClient{rest: NewRESTClient("Confluence", baseURL, httpClient)}
}

// BaseURL returns the configured base URL for the Confluence instance.
func (c *ConfluenceClient) BaseURL() string {
	return c.rest.BaseURL()
}

// GetPage retrieves a Confluence page by its ID, with body, version and space.
func (c *ConfluenceClient) GetPage(ctx context.Context, pageID string) (*domain.ConfluencePage, error) {
	var page domain.ConfluencePage
	err := c.rest.Do(ctx, Call{
		Method: http.MethodGet,
		Path:   "/rest/api/content/" + url.PathEscape(pageID),
		Query:  url.Values{"expand": {"body.storage,version,space"}},
	}, &page)
	if err != nil {
		return nil, err
	}
	return c.withURL(&page), nil
}

// CreatePage creates a new page.
func (c *ConfluenceClient) CreatePage(ctx context.Context, page *domain.PageCreate) (*domain.ConfluencePage, error) {
	var created domain.ConfluencePage
	if err := c.rest.Do(ctx, Call{Method: http.MethodPost, Path: "/rest/api/content", Body: page}, &created); err != nil {
		return nil, err
	}
	return c.withURL(&created), nil
}

// UpdatePage writes a new version of a page. The update must carry the
// next version number.
func (c *ConfluenceClient) UpdatePage(ctx context.Context, pageID string, update *domain.PageUpdate) (*domain.ConfluencePage, error) {
	var updated domain.ConfluencePage
	err := c.rest.Do(ctx, Call{
		Method: http.MethodPut,
		Path:   "/rest/api/content/" + url.PathEscape(pageID),
		Body:   update,
	}, &updated)
	if err != nil {
		return nil, err
	}
	return c.withURL(&updated), nil
}

// DeletePage moves a page to the trash.
func (c *ConfluenceClient) DeletePage(ctx context.Context, pageID string) error {
	return c.rest.Do(ctx, Call{Method: http.MethodDelete, Path: "/rest/api/content/" + url.PathEscape(pageID)}, nil)
}

// ConfluenceSearchOptions contains options for CQL search operations.
type ConfluenceSearchOptions struct {
	CQL   string
	Start int
	Limit int
}

// SearchCQL performs a CQL (Confluence Query Language) search.
func (c *ConfluenceClient) SearchCQL(ctx context.Context, options ConfluenceSearchOptions) (*domain.ConfluenceSearchResults, error) {
	params := url.Values{}
	params.Set("cql", options.CQL)
	if options.Start > 0 {
		params.Set("start", strconv.Itoa(options.Start))
	}
	if options.Limit > 0 {
		params.Set("limit", strconv.Itoa(options.Limit))
	}
	params.Set("expand", "space,version")

	var results domain.ConfluenceSearchResults
	if err := c.rest.Do(ctx, Call{Method: http.MethodGet, Path: "/rest/api/content/search", Query: params}, &results); err != nil {
		return nil, err
	}
	for i := range results.Results {
		c.withURL(&results.Results[i])
	}
	return &results, nil
}

// GetSpaces returns the spaces visible to the caller.
func (c *ConfluenceClient) GetSpaces(ctx context.Context, limit int) ([]domain.Space, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var reply struct {
		Results []domain.Space `json:"results"`
	}
	if err := c.rest.Do(ctx, Call{Method: http.MethodGet, Path: "/rest/api/space", Query: params}, &reply); err != nil {
		return nil, err
	}
	return reply.Results, nil
}

// GetChildren lists the direct child pages of a page.
func (c *ConfluenceClient) GetChildren(ctx context.Context, pageID string, limit int) ([]domain.ConfluencePage, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var reply struct {
		Results []domain.ConfluencePage `json:"results"`
		Links   domain.PageLinks        `json:"_links"`
	}
	err := c.rest.Do(ctx, Call{
		Method: http.MethodGet,
		Path:   "/rest/api/content/" + url.PathEscape(pageID) + "/child/page",
		Query:  params,
	}, &reply)
	if err != nil {
		return nil, err
	}
	for i := range reply.Results {
		if reply.Results[i].Links.Base == "" {
			reply.Results[i].Links.Base = reply.Links.Base
		}
		c.withURL(&reply.Results[i])
	}
	return reply.Results, nil
}

// AddComment adds a storage-format comment to a page.
func (c *ConfluenceClient) AddComment(ctx context.Context, pageID, body string) (*domain.ConfluencePage, error) {
	comment := &domain.CommentCreate{
		Type:      "comment",
		Container: domain.PageRef{ID: pageID, Type: "page"},
		Body: domain.BodyCreate{Storage: domain.StorageCreate{
			Value:          body,
			Representation: "storage",
		}},
	}
	var created domain.ConfluencePage
	if err := c.rest.Do(ctx, Call{Method: http.MethodPost, Path: "/rest/api/content", Body: comment}, &created); err != nil {
		return nil, err
	}
	return c.withURL(&created), nil
}

// withURL fills URL from the remote's link fields, falling back to the
// configured base when the reply carries no base link.
func (c *ConfluenceClient) withURL(page *domain.ConfluencePage) *domain.ConfluencePage {
	if page.Links.Base == "" && page.Links.WebUI != "" {
		page.Links.Base = c.rest.BaseURL()
	}
	page.URL = page.Links.WebURL()
	return page
}
