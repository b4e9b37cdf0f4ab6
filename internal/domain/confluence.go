package domain

import "encoding/json"

// ConfluencePage represents a Confluence page with all its fields.
// This is the main entity returned by Confluence API operations.
type ConfluencePage struct {
	ID      json.Number `json:"id"`
	Type    string      `json:"type"`
	Status  string      `json:"status,omitempty"`
	Title   string      `json:"title"`
	Space   *Space      `json:"space,omitempty"`
	Body    *Body       `json:"body,omitempty"`
	Version *Version    `json:"version,omitempty"`
	Links   PageLinks   `json:"_links"`
	URL     string      `json:"url,omitempty"`
}

// PageLinks holds the link fragments Confluence returns with content.
// The browser URL is Base + WebUI.
type PageLinks struct {
	Base  string `json:"base,omitempty"`
	WebUI string `json:"webui,omitempty"`
	Self  string `json:"self,omitempty"`
}

// WebURL derives the browser URL from the remote's own link fields.
func (l PageLinks) WebURL() string {
	if l.WebUI == "" {
		return ""
	}
	return l.Base + l.WebUI
}

// Space represents a Confluence space.
type Space struct {
	ID   json.Number `json:"id,omitempty"`
	Key  string      `json:"key"`
	Name string      `json:"name,omitempty"`
	Type string      `json:"type,omitempty"`
}

// Body represents the body content of a Confluence page.
type Body struct {
	Storage Storage `json:"storage"`
}

// Storage represents the storage format of page content.
type Storage struct {
	Value          string `json:"value"`
	Representation string `json:"representation"`
}

// Version represents the version information of a Confluence page.
type Version struct {
	Number int    `json:"number"`
	When   string `json:"when,omitempty"`
	By     *User  `json:"by,omitempty"`
}

// ConfluenceSearchResults represents the results of a CQL search.
type ConfluenceSearchResults struct {
	Results []ConfluencePage `json:"results"`
	Start   int              `json:"start"`
	Limit   int              `json:"limit"`
	Size    int              `json:"size"`
}

// PageCreate represents the request body for creating a new Confluence page.
type PageCreate struct {
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Space     SpaceRef   `json:"space"`
	Body      BodyCreate `json:"body"`
	Ancestors []PageRef  `json:"ancestors,omitempty"`
}

// PageRef references another page (parent or container).
type PageRef struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

// SpaceRef is a reference to a space (used in create/update operations).
type SpaceRef struct {
	Key string `json:"key"`
}

// BodyCreate represents the body content for creating a page.
type BodyCreate struct {
	Storage StorageCreate `json:"storage"`
}

// StorageCreate represents the storage format for creating page content.
type StorageCreate struct {
	Value          string `json:"value"`
	Representation string `json:"representation"`
}

// PageUpdate represents the request body for updating a Confluence page.
type PageUpdate struct {
	Version VersionUpdate `json:"version"`
	Title   string        `json:"title"`
	Type    string        `json:"type"`
	Body    *BodyCreate   `json:"body,omitempty"`
}

// VersionUpdate represents the version information for updating a page.
type VersionUpdate struct {
	Number  int    `json:"number"`
	Message string `json:"message,omitempty"`
}

// CommentCreate is the request body for a page comment.
type CommentCreate struct {
	Type      string     `json:"type"`
	Container PageRef    `json:"container"`
	Body      BodyCreate `json:"body"`
}
