package application

import (
	"forge-mcp-server/internal/domain"
)

const defaultPerPage = 30

// repositoryField declares the repository argument in the host's own
// identifier format.
func repositoryField(host hostVocabulary) domain.Field {
	return domain.String("repository", host.repoFormat).Require()
}

func perPageField() domain.Field {
	return domain.Integer("per_page", "Maximum number of results").WithDefault(defaultPerPage)
}

func numberField(host hostVocabulary) domain.Field {
	return domain.Integer("number", host.prName+" number ("+host.numberName+")").Require()
}

// listOptions collects the shared list filters from validated arguments.
func listOptions(args domain.Arguments) domain.ListOptions {
	return domain.ListOptions{
		State:   args.String("state"),
		Labels:  args.Strings("labels"),
		PerPage: args.Int("per_page"),
	}
}

// hostVocabulary is the wording a source host uses for its objects.
type hostVocabulary struct {
	name       string // GitHub, GitLab
	prName     string // Pull request, Merge request
	numberName string // number, iid
	repoFormat string
}

var vocabularies = map[domain.Group]hostVocabulary{
	domain.GroupGitHub: {
		name:       "GitHub",
		prName:     "Pull request",
		numberName: "number",
		repoFormat: "Repository as owner/repo",
	},
	domain.GroupGitLab: {
		name:       "GitLab",
		prName:     "Merge request",
		numberName: "iid",
		repoFormat: "Project path (group/project) or numeric project id",
	},
}
