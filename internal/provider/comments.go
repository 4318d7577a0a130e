package provider

import (
	"context"

	"github.com/google/go-github/v27/github"
	"go.uber.org/zap"
)

// CreateReviewComment posts a build-result comment on a pull request,
// per §4.6 finalize step 3 ("if event_kind = pull_request: post a
// formatted review comment"). prNumber and issue-comment number are the
// same thing on the provider's side — a PR is an issue.
func (c *Client) CreateReviewComment(ctx context.Context, cred Credential, owner, repo string, prNumber int, body string) error {
	gh := c.githubClient(ctx, cred)

	err := c.call("create_review_comment", func() (*github.Response, error) {
		_, resp, err := gh.Issues.CreateComment(ctx, owner, repo, prNumber, &github.IssueComment{
			Body: github.String(body),
		})
		return resp, err
	})
	if err != nil {
		c.logger.Warn("review comment failed",
			zap.String("repo", repoRef(owner, repo)),
			zap.Int("pr_number", prNumber),
			zap.Error(err),
		)
		return err
	}
	c.logger.Info("review comment posted",
		zap.String("repo", repoRef(owner, repo)),
		zap.Int("pr_number", prNumber),
	)
	return nil
}
