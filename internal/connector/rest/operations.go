package rest

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v69/github"

	"github.com/wiseflow-dev/wiseflow/internal/types"
)

func (c *Connector) collectRepoInfo(ctx context.Context, owner, name string) ([]*types.DataItem, error) {
	repo, _, err := c.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, classifyGithubError(err)
	}

	readme := c.readme(ctx, owner, name)

	item, err := types.NewDataItem(fmt.Sprintf("github_repo_%s_%s", owner, name), firstNonEmpty(readme, repo.GetDescription()))
	if err != nil {
		return nil, err
	}
	item.URL = repo.GetHTMLURL()
	item.ContentType = "text/plain"
	if readme != "" {
		item.ContentType = "text/markdown"
	}
	if updated := repo.GetUpdatedAt(); !updated.IsZero() {
		item.Timestamp = updated
	}
	item.Set("repo", owner+"/"+name)
	item.Set("owner", owner)
	item.Set("kind", "repo")
	item.Set("name", repo.GetName())
	item.Set("full_name", repo.GetFullName())
	item.Set("stars", repo.GetStargazersCount())
	item.Set("forks", repo.GetForksCount())
	item.Set("open_issues", repo.GetOpenIssuesCount())
	item.Set("language", repo.GetLanguage())
	item.Set("default_branch", repo.GetDefaultBranch())
	item.Set("archived", repo.GetArchived())
	item.Set("topics", repo.Topics)

	return []*types.DataItem{item}, nil
}

func (c *Connector) readme(ctx context.Context, owner, name string) string {
	rc, _, err := c.client.Repositories.GetReadme(ctx, owner, name, nil)
	if err != nil {
		return ""
	}
	content, err := rc.GetContent()
	if err != nil {
		return ""
	}
	return content
}

func (c *Connector) collectContent(ctx context.Context, owner, name, path string) ([]*types.DataItem, error) {
	file, dir, _, err := c.client.Repositories.GetContents(ctx, owner, name, path, nil)
	if err != nil {
		return nil, classifyGithubError(err)
	}

	if file != nil {
		item, convErr := c.fileToItem(owner, name, file)
		if convErr != nil {
			return nil, convErr
		}
		return []*types.DataItem{item}, nil
	}

	items := make([]*types.DataItem, 0, len(dir))
	for _, entry := range dir {
		if entry.GetType() != "file" {
			continue
		}
		fileContent, _, _, err := c.client.Repositories.GetContents(ctx, owner, name, entry.GetPath(), nil)
		if err != nil || fileContent == nil {
			continue
		}
		item, convErr := c.fileToItem(owner, name, fileContent)
		if convErr != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *Connector) fileToItem(owner, name string, file *github.RepositoryContent) (*types.DataItem, error) {
	body, _ := file.GetContent()

	item, err := types.NewDataItem(fmt.Sprintf("github_content_%s_%s_%s", owner, name, file.GetPath()), body)
	if err != nil {
		return nil, err
	}
	item.URL = file.GetHTMLURL()
	item.ContentType = contentTypeForPath(file.GetName())
	item.Set("repo", owner+"/"+name)
	item.Set("owner", owner)
	item.Set("kind", "file")
	item.Set("path", file.GetPath())
	item.Set("language", languageForPath(file.GetName()))
	return item, nil
}

func contentTypeForPath(name string) string {
	switch {
	case strings.HasSuffix(name, ".md"):
		return "text/markdown"
	default:
		return "text/plain"
	}
}

func languageForPath(name string) string {
	switch {
	case strings.HasSuffix(name, ".go"):
		return "go"
	case strings.HasSuffix(name, ".py"):
		return "python"
	case strings.HasSuffix(name, ".js"), strings.HasSuffix(name, ".ts"):
		return "javascript"
	default:
		return ""
	}
}

func (c *Connector) collectIssue(ctx context.Context, owner, name string, number int) ([]*types.DataItem, error) {
	issue, _, err := c.client.Issues.Get(ctx, owner, name, number)
	if err != nil {
		return nil, classifyGithubError(err)
	}
	comments, _, _ := c.client.Issues.ListComments(ctx, owner, name, number, nil)

	var b strings.Builder
	b.WriteString("# " + issue.GetTitle() + "\n\n")
	b.WriteString(issue.GetBody() + "\n\n")
	for _, cm := range comments {
		b.WriteString("## Comment by " + cm.GetUser().GetLogin() + "\n\n")
		b.WriteString(cm.GetBody() + "\n\n")
	}

	item, err := types.NewDataItem(fmt.Sprintf("github_issue_%s_%s_%d", owner, name, number), b.String())
	if err != nil {
		return nil, err
	}
	item.URL = issue.GetHTMLURL()
	item.ContentType = "text/markdown"
	if created := issue.GetCreatedAt(); !created.IsZero() {
		item.Timestamp = created
	}
	item.Set("repo", owner+"/"+name)
	item.Set("owner", owner)
	item.Set("kind", "issue")
	item.Set("number", number)
	item.Set("state", issue.GetState())
	return []*types.DataItem{item}, nil
}

func (c *Connector) collectPR(ctx context.Context, owner, name string, number int) ([]*types.DataItem, error) {
	pr, _, err := c.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, classifyGithubError(err)
	}
	reviewComments, _, _ := c.client.PullRequests.ListComments(ctx, owner, name, number, nil)

	var b strings.Builder
	b.WriteString("# " + pr.GetTitle() + "\n\n")
	b.WriteString(pr.GetBody() + "\n\n")
	for _, rc := range reviewComments {
		b.WriteString("## Review comment by " + rc.GetUser().GetLogin() + "\n\n")
		b.WriteString(rc.GetBody() + "\n\n")
	}

	item, err := types.NewDataItem(fmt.Sprintf("github_pr_%s_%s_%d", owner, name, number), b.String())
	if err != nil {
		return nil, err
	}
	item.URL = pr.GetHTMLURL()
	item.ContentType = "text/markdown"
	if created := pr.GetCreatedAt(); !created.IsZero() {
		item.Timestamp = created
	}
	item.Set("repo", owner+"/"+name)
	item.Set("owner", owner)
	item.Set("kind", "pull_request")
	item.Set("number", number)
	item.Set("state", pr.GetState())
	item.Set("merged", pr.GetMerged())
	return []*types.DataItem{item}, nil
}

func (c *Connector) collectUserInfo(ctx context.Context, username string) ([]*types.DataItem, error) {
	user, _, err := c.client.Users.Get(ctx, username)
	if err != nil {
		return nil, classifyGithubError(err)
	}

	item, err := types.NewDataItem(fmt.Sprintf("github_user_%s", username), user.GetBio())
	if err != nil {
		return nil, err
	}
	item.URL = user.GetHTMLURL()
	item.ContentType = "text/plain"
	item.Set("owner", username)
	item.Set("kind", "user")
	item.Set("name", user.GetName())
	item.Set("company", user.GetCompany())
	item.Set("followers", user.GetFollowers())
	item.Set("public_repos", user.GetPublicRepos())
	return []*types.DataItem{item}, nil
}

func (c *Connector) search(ctx context.Context, searchType, query string, maxItems int) ([]*types.DataItem, error) {
	var items []*types.DataItem
	opts := &github.SearchOptions{ListOptions: github.ListOptions{PerPage: 30}}

	for {
		var total int
		var stop bool

		switch searchType {
		case "repositories":
			result, _, e := c.client.Search.Repositories(ctx, query, opts)
			if e != nil {
				return nil, classifyGithubError(e)
			}
			for _, repo := range result.Repositories {
				item, convErr := types.NewDataItem(fmt.Sprintf("github_search_repo_%d", repo.GetID()), repo.GetDescription())
				if convErr != nil {
					continue
				}
				item.URL = repo.GetHTMLURL()
				item.Set("repo", repo.GetFullName())
				item.Set("kind", "search_repo")
				items = append(items, item)
			}
			total = result.GetTotal()
			stop = len(result.Repositories) == 0
		case "code":
			result, _, e := c.client.Search.Code(ctx, query, opts)
			if e != nil {
				return nil, classifyGithubError(e)
			}
			for _, code := range result.CodeResults {
				item, convErr := types.NewDataItem(fmt.Sprintf("github_search_code_%s", code.GetSHA()), code.GetName())
				if convErr != nil {
					continue
				}
				item.URL = code.GetHTMLURL()
				item.Set("repo", code.GetRepository().GetFullName())
				item.Set("path", code.GetPath())
				item.Set("kind", "search_code")
				items = append(items, item)
			}
			total = result.GetTotal()
			stop = len(result.CodeResults) == 0
		case "issues":
			result, _, e := c.client.Search.Issues(ctx, query, opts)
			if e != nil {
				return nil, classifyGithubError(e)
			}
			for _, issue := range result.Issues {
				item, convErr := types.NewDataItem(fmt.Sprintf("github_search_issue_%d", issue.GetID()), issue.GetTitle())
				if convErr != nil {
					continue
				}
				item.URL = issue.GetHTMLURL()
				item.Set("kind", "search_issue")
				item.Set("state", issue.GetState())
				items = append(items, item)
			}
			total = result.GetTotal()
			stop = len(result.Issues) == 0
		default:
			return nil, &Validation{Message: fmt.Sprintf("unsupported search_type %q", searchType)}
		}

		if stop || (maxItems > 0 && len(items) >= maxItems) || len(items) >= total {
			break
		}
		opts.Page++
	}

	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
