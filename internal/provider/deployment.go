package provider

import (
	"context"

	"github.com/google/go-github/v27/github"
	"go.uber.org/zap"
)

// CreateDeploymentStatus updates the deployment-status of an existing
// upstream deployment (§4.6 finalize step 2). state is "success" or
// "failure"; description is shown in the provider's UI.
func (c *Client) CreateDeploymentStatus(ctx context.Context, cred Credential, owner, repo string, deploymentID int64, state, description, logURL string) error {
	gh := c.githubClient(ctx, cred)

	req := &github.DeploymentStatusRequest{
		State:       github.String(state),
		Description: github.String(description),
	}
	if logURL != "" {
		req.LogURL = github.String(logURL)
	}

	err := c.call("create_deployment_status", func() (*github.Response, error) {
		_, resp, err := gh.Repositories.CreateDeploymentStatus(ctx, owner, repo, deploymentID, req)
		return resp, err
	})
	if err != nil {
		c.logger.Warn("deployment status update failed",
			zap.String("repo", repoRef(owner, repo)),
			zap.Int64("deployment_id", deploymentID),
			zap.String("state", state),
			zap.Error(err),
		)
		return err
	}
	c.logger.Info("deployment status updated",
		zap.String("repo", repoRef(owner, repo)),
		zap.Int64("deployment_id", deploymentID),
		zap.String("state", state),
	)
	return nil
}
