package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/compiler"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/provider"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/queue"
	"github.com/ArnavK-09/tsc-deploy-sub000/internal/store"
)

// finalizeNotify runs the provider notifications of §4.6 step 6. Every
// sub-step is independent and best-effort: a notification failure is
// logged, never returned, and never changes job or deployment status,
// which are already terminal by the time this runs (§7 "Finalize/provider
// error... never fails the job").
func (w *Worker) finalizeNotify(ctx context.Context, job *store.Job, success bool, failureMessage string) {
	if w.deps.Provider == nil {
		return
	}
	meta, err := queue.UnmarshalMetadata(job.Metadata)
	if err != nil {
		w.logger.Warn("finalize: cannot decode job metadata, skipping notifications",
			zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	token := meta.CredentialToken
	if token == "" {
		token = w.cfg.BotCredential
	}
	if token == "" {
		return
	}
	cred := provider.Credential{Token: token}
	log := w.logger.With(zap.String("job_id", job.ID.String()), zap.String("deployment_id", job.DeploymentID))

	state := "success"
	conclusion := "success"
	description := "build completed"
	if !success {
		state = "failure"
		conclusion = "failure"
		description = "build failed: " + truncate(failureMessage, 140)
	}

	if meta.UpstreamDeployID != 0 {
		logURL := statusLogURL(meta)
		if err := w.deps.Provider.CreateDeploymentStatus(ctx, cred, meta.RepoOwner, meta.RepoName, meta.UpstreamDeployID, state, description, logURL); err != nil {
			log.Warn("finalize: deployment status notification failed", zap.Error(err))
		}
	}

	if meta.CheckRunID != nil {
		if err := w.deps.Provider.UpdateCheckRun(ctx, cred, meta.RepoOwner, meta.RepoName, *meta.CheckRunID, conclusion); err != nil {
			log.Warn("finalize: check run update failed", zap.Error(err))
		}
	}

	if meta.EventKind == string(store.EventPullRequest) {
		if prNumber, err := strconv.Atoi(meta.Meta); err == nil {
			artifacts, err := w.deps.Store.ListArtifactsByJob(ctx, job.ID.String())
			if err != nil {
				log.Warn("finalize: could not list artifacts for review comment", zap.Error(err))
			}
			body := reviewCommentBody(success, description, job, artifacts, w.cfg.PublicBaseURL)
			if err := w.deps.Provider.CreateReviewComment(ctx, cred, meta.RepoOwner, meta.RepoName, prNumber, body); err != nil {
				log.Warn("finalize: review comment failed", zap.Error(err))
			}
		} else {
			log.Warn("finalize: pull_request event has non-numeric pr identifier, skipping comment", zap.String("meta", meta.Meta))
		}
	}

	if success && meta.CreateRelease && meta.EventKind == string(store.EventPush) && isReleaseBranch(meta.Meta) {
		w.createRelease(ctx, cred, meta)
	}
}

// createRelease computes the next semantic version from the latest tag and
// the triggering commit message, then publishes it (§4.4, §4.6 step 5).
func (w *Worker) createRelease(ctx context.Context, cred provider.Credential, meta store.JobMetadata) {
	log := w.logger.With(zap.String("repo", meta.RepoOwner+"/"+meta.RepoName))

	latest, err := w.deps.Provider.GetLatestTag(ctx, cred, meta.RepoOwner, meta.RepoName)
	if err != nil {
		log.Warn("finalize: could not determine latest tag, skipping release", zap.Error(err))
		return
	}
	next, err := provider.NextSemver(latest, meta.CommitMessage)
	if err != nil {
		log.Warn("finalize: could not compute next version, skipping release", zap.Error(err))
		return
	}
	sha := meta.CommitSHA
	if sha == "" {
		sha = meta.CommitRef
	}
	message := fmt.Sprintf("Release %s", next)
	if err := w.deps.Provider.CreateTag(ctx, cred, meta.RepoOwner, meta.RepoName, next, sha, message); err != nil {
		log.Warn("finalize: create tag failed", zap.Error(err))
		return
	}
	if err := w.deps.Provider.CreateRef(ctx, cred, meta.RepoOwner, meta.RepoName, next, sha); err != nil {
		log.Warn("finalize: create ref failed", zap.Error(err))
		return
	}
	log.Info("release tag published", zap.String("tag", next))
}

func statusLogURL(meta store.JobMetadata) string {
	if meta.ServerURL == "" || meta.RunID == "" {
		return ""
	}
	return fmt.Sprintf("%s/runs/%s", meta.ServerURL, meta.RunID)
}

// reviewCommentBody builds the PR comment posted at finalize time. §4.6 step
// 3 requires it to link each produced artifact; when baseURL is unset (no
// public address configured) the links fall back to bare artifact IDs.
func reviewCommentBody(success bool, description string, job *store.Job, artifacts []store.Artifact, baseURL string) string {
	icon := "✅"
	if !success {
		icon = "❌"
	}
	body := fmt.Sprintf("%s %s\n\nJob: `%s`", icon, description, job.ID.String())
	if len(artifacts) == 0 {
		return body
	}
	body += "\n\nArtifacts:\n"
	for _, a := range artifacts {
		body += fmt.Sprintf("- [%s](%s)\n", a.FileName, artifactLink(baseURL, a.ID.String()))
	}
	return body
}

func artifactLink(baseURL, artifactID string) string {
	if baseURL == "" {
		return artifactID
	}
	return fmt.Sprintf("%s/api/v1/artifacts/%s", strings.TrimSuffix(baseURL, "/"), artifactID)
}

// isReleaseBranch reports whether branch names the repository's default
// branch, per §4.6 finalize step 5 ("event_kind = push and the ref is main
// or master"). For a push event, meta carries the branch name (§6) —
// commit_ref carries the SHA, never the branch.
func isReleaseBranch(branch string) bool {
	return branch == "main" || branch == "master"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// marshalSnapshotMeta stores only the compiler's summary fields in the
// deployment's snapshot column — file bodies live in the artifacts table,
// which is the authoritative store (§9 Open Question decision: "snapshot
// column stores only metadata").
func marshalSnapshotMeta(snapshot *compiler.Snapshot) (string, error) {
	summary := struct {
		Success          bool    `json:"success"`
		FileCount        int     `json:"file_count"`
		BuildTimeSeconds float64 `json:"build_time_seconds"`
	}{
		Success:          snapshot.Success,
		FileCount:        len(snapshot.Files),
		BuildTimeSeconds: snapshot.BuildTimeSeconds,
	}
	b, err := json.Marshal(summary)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
