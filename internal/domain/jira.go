package domain

import (
	"encoding/json"
	"fmt"
)

// FlexibleID is a type that can unmarshal both string and numeric IDs from JSON.
type FlexibleID string

// UnmarshalJSON implements custom unmarshaling to handle both string and numeric IDs.
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexibleID(n.String())
		return nil
	}

	return fmt.Errorf("id must be a string or number")
}

// String returns the string representation of the ID.
func (f FlexibleID) String() string {
	return string(f)
}

// JiraIssue represents a Jira issue with all its fields.
type JiraIssue struct {
	ID          FlexibleID   `json:"id"`
	Key         string       `json:"key"`
	Self        string       `json:"self,omitempty"`
	URL         string       `json:"url,omitempty"`
	Fields      JiraFields   `json:"fields"`
	Transitions []Transition `json:"transitions,omitempty"`
}

// JiraFields contains the commonly used field data for a Jira issue.
// Custom fields are not modelled; ask for them with the fields argument
// and they are carried in Extra.
type JiraFields struct {
	Summary     string                 `json:"summary"`
	Description string                 `json:"description,omitempty"`
	IssueType   IssueType              `json:"issuetype"`
	Project     Project                `json:"project"`
	Status      Status                 `json:"status"`
	Priority    *NamedRef              `json:"priority,omitempty"`
	Resolution  *NamedRef              `json:"resolution,omitempty"`
	Labels      []string               `json:"labels,omitempty"`
	Assignee    *User                  `json:"assignee,omitempty"`
	Reporter    *User                  `json:"reporter,omitempty"`
	Created     string                 `json:"created,omitempty"`
	Updated     string                 `json:"updated,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// IssueType represents a Jira issue type (e.g., Bug, Story, Task).
type IssueType struct {
	ID   FlexibleID `json:"id"`
	Name string     `json:"name"`
}

// Project represents a Jira project.
type Project struct {
	ID   FlexibleID `json:"id"`
	Key  string     `json:"key"`
	Name string     `json:"name"`
}

// Status represents a Jira issue status (e.g., Open, In Progress, Done).
type Status struct {
	ID   FlexibleID `json:"id"`
	Name string     `json:"name"`
}

// NamedRef is any Jira object referenced by name (priority, resolution).
type NamedRef struct {
	ID   FlexibleID `json:"id,omitempty"`
	Name string     `json:"name"`
}

// User represents a Jira or Confluence user.
type User struct {
	AccountID    string `json:"accountId,omitempty"`
	Name         string `json:"name,omitempty"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

// Transition is a workflow transition available on an issue.
type Transition struct {
	ID   FlexibleID `json:"id"`
	Name string     `json:"name"`
	To   Status     `json:"to"`
}

// SearchResults represents the results of a JQL search.
type SearchResults struct {
	Issues     []JiraIssue `json:"issues"`
	Total      int         `json:"total"`
	StartAt    int         `json:"startAt"`
	MaxResults int         `json:"maxResults"`
}

// CreatedIssue is the reply to an issue creation, plus its browse URL.
type CreatedIssue struct {
	ID   FlexibleID `json:"id"`
	Key  string     `json:"key"`
	Self string     `json:"self"`
	URL  string     `json:"url"`
}

// IssueTransition represents a workflow transition request. The comment
// and resolution ride along in the same request.
type IssueTransition struct {
	Transition TransitionRef          `json:"transition"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
	Update     map[string]interface{} `json:"update,omitempty"`
}

// TransitionRef is a reference to a workflow transition.
type TransitionRef struct {
	ID string `json:"id"`
}

// Comment represents a comment on a Jira issue or Confluence page.
type Comment struct {
	ID      FlexibleID `json:"id,omitempty"`
	Body    string     `json:"body"`
	Author  *User      `json:"author,omitempty"`
	Created string     `json:"created,omitempty"`
}
