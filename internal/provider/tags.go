package provider

import (
	"context"
	"fmt"

	"github.com/google/go-github/v27/github"
	"go.uber.org/zap"
)

// GetLatestTag returns the most recent tag name for owner/repo, or "" if
// the repository has no tags yet (treated by NextSemver as v0.0.0).
func (c *Client) GetLatestTag(ctx context.Context, cred Credential, owner, repo string) (string, error) {
	gh := c.githubClient(ctx, cred)

	var latest string
	err := c.call("list_tags", func() (*github.Response, error) {
		tags, resp, err := gh.Repositories.ListTags(ctx, owner, repo, &github.ListOptions{PerPage: 1})
		if len(tags) > 0 {
			latest = tags[0].GetName()
		}
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return latest, nil
}

// CreateTag creates an annotated tag object pointing at sha and returns
// once it exists — the caller must still call CreateRef to make it visible
// as refs/tags/<tag> (§4.6 finalize step 5).
func (c *Client) CreateTag(ctx context.Context, cred Credential, owner, repo, tag, sha, message string) error {
	gh := c.githubClient(ctx, cred)

	err := c.call("create_tag", func() (*github.Response, error) {
		_, resp, err := gh.Git.CreateTag(ctx, owner, repo, &github.Tag{
			Tag:     github.String(tag),
			Message: github.String(message),
			Object: &github.GitObject{
				Type: github.String("commit"),
				SHA:  github.String(sha),
			},
		})
		return resp, err
	})
	if err != nil {
		c.logger.Warn("create tag failed",
			zap.String("repo", repoRef(owner, repo)), zap.String("tag", tag), zap.Error(err))
		return err
	}
	c.logger.Info("tag created", zap.String("repo", repoRef(owner, repo)), zap.String("tag", tag))
	return nil
}

// CreateRef publishes an annotated tag object as refs/tags/<tag>.
func (c *Client) CreateRef(ctx context.Context, cred Credential, owner, repo, tag, sha string) error {
	gh := c.githubClient(ctx, cred)
	refName := fmt.Sprintf("refs/tags/%s", tag)

	err := c.call("create_ref", func() (*github.Response, error) {
		_, resp, err := gh.Git.CreateRef(ctx, owner, repo, &github.Reference{
			Ref: github.String(refName),
			Object: &github.GitObject{
				SHA: github.String(sha),
			},
		})
		return resp, err
	})
	if err != nil {
		c.logger.Warn("create ref failed",
			zap.String("repo", repoRef(owner, repo)), zap.String("ref", refName), zap.Error(err))
		return err
	}
	c.logger.Info("ref created", zap.String("repo", repoRef(owner, repo)), zap.String("ref", refName))
	return nil
}
