package provider

import (
	"context"

	"github.com/google/go-github/v27/github"
	"go.uber.org/zap"
)

// CreateCheckRun creates a new check run in "in_progress" state, returning
// its ID for a later UpdateCheckRun call.
func (c *Client) CreateCheckRun(ctx context.Context, cred Credential, owner, repo, headSHA, name string) (int64, error) {
	gh := c.githubClient(ctx, cred)

	var checkRunID int64
	err := c.call("create_check_run", func() (*github.Response, error) {
		cr, resp, err := gh.Checks.CreateCheckRun(ctx, owner, repo, github.CreateCheckRunOptions{
			Name:    name,
			HeadSHA: headSHA,
			Status:  github.String("in_progress"),
		})
		if cr != nil {
			checkRunID = cr.GetID()
		}
		return resp, err
	})
	if err != nil {
		return 0, err
	}
	return checkRunID, nil
}

// UpdateCheckRun marks an existing check run completed with the given
// conclusion ("success" or "failure"), per §4.6 finalize step 4.
func (c *Client) UpdateCheckRun(ctx context.Context, cred Credential, owner, repo string, checkRunID int64, conclusion string) error {
	gh := c.githubClient(ctx, cred)

	err := c.call("update_check_run", func() (*github.Response, error) {
		_, resp, err := gh.Checks.UpdateCheckRun(ctx, owner, repo, checkRunID, github.UpdateCheckRunOptions{
			Status:     github.String("completed"),
			Conclusion: github.String(conclusion),
		})
		return resp, err
	})
	if err != nil {
		c.logger.Warn("check run update failed",
			zap.String("repo", repoRef(owner, repo)),
			zap.Int64("check_run_id", checkRunID),
			zap.Error(err),
		)
		return err
	}
	c.logger.Info("check run updated",
		zap.String("repo", repoRef(owner, repo)),
		zap.Int64("check_run_id", checkRunID),
		zap.String("conclusion", conclusion),
	)
	return nil
}
