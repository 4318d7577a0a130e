// Package fetcher implements RevisionFetcher (C2): resolving a commit
// revision to an archive URL, downloading it under a byte ceiling, and
// unpacking it into a scratch workspace with any single top-level wrapper
// directory stripped (§4.2).
package fetcher

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/klauspost/pgzip"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/apperr"
)

// Input describes what revision to fetch and how to authenticate.
type Input struct {
	RepoOwner        string
	RepoName         string
	CommitRef        string
	CredentialToken  string
	ExplicitArchiveURL string // optional, §4.2 step 1
}

// Config controls Fetcher behavior.
type Config struct {
	WorkspaceRoot   string
	MaxArchiveBytes int64
	HTTPTimeout     time.Duration
}

// Fetcher is RevisionFetcher (§4.2). The returned workspace directory is
// owned by the caller, who must eventually remove it (the Worker does this
// via a deferred cleanup after every attempt, §8 invariant 5).
type Fetcher struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// New constructs a Fetcher. Defaults match §6's configuration table.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.MaxArchiveBytes <= 0 {
		cfg.MaxArchiveBytes = 100 * 1024 * 1024
	}
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 2 * time.Minute
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "revision_fetcher",
		MaxRequests: 2,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Named("fetcher").Warn("circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Fetcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		breaker: breaker,
		logger:  logger.Named("fetcher"),
	}
}

// Fetch runs the full §4.2 algorithm and returns the workspace path.
func (f *Fetcher) Fetch(ctx context.Context, in Input) (string, error) {
	archiveURL := in.ExplicitArchiveURL
	if archiveURL == "" {
		archiveURL = deriveArchiveURL(in.RepoOwner, in.RepoName, in.CommitRef)
	}

	archivePath, err := f.download(ctx, archiveURL, in.CredentialToken)
	if err != nil {
		return "", err
	}
	defer os.Remove(archivePath)

	workspace, err := os.MkdirTemp(f.cfg.WorkspaceRoot, "tsc-deploy-workspace-*")
	if err != nil {
		return "", apperr.Wrapf(apperr.KindFatal, "fetcher: failed to create workspace: %w", err)
	}

	if err := extractTarGz(archivePath, workspace); err != nil {
		os.RemoveAll(workspace)
		return "", err
	}

	normalized, err := stripSingleWrapperDir(workspace)
	if err != nil {
		os.RemoveAll(workspace)
		return "", err
	}

	f.logger.Info("revision fetched",
		zap.String("repo_owner", in.RepoOwner), zap.String("repo_name", in.RepoName),
		zap.String("commit_ref", in.CommitRef), zap.String("workspace", normalized),
	)
	return normalized, nil
}

// deriveArchiveURL builds the well-known tarball endpoint for (owner, repo,
// ref) when the caller hasn't supplied an explicit URL (§4.2 step 2).
func deriveArchiveURL(owner, repo, ref string) string {
	return fmt.Sprintf("https://codeload.github.com/%s/%s/tar.gz/%s", owner, repo, ref)
}

// download requests the archive, enforcing the configured byte ceiling, and
// classifies the response per §4.2's error table. Transport-level failures
// (timeouts, connection resets) are retryable; 404/403 and oversized
// archives are not.
func (f *Fetcher) download(ctx context.Context, url, credential string) (string, error) {
	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.doDownload(ctx, url, credential)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", apperr.Wrapf(apperr.KindRetryable, "fetcher: circuit breaker open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (f *Fetcher) doDownload(ctx context.Context, url, credential string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", apperr.Wrapf(apperr.KindFatal, "fetcher: failed to build request: %w", err)
	}
	if credential != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential})
		tok, err := ts.Token()
		if err != nil {
			return "", apperr.Wrapf(apperr.KindNonRetryable, "fetcher: failed to resolve credential: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", apperr.Wrapf(apperr.KindRetryable, "fetcher: request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusForbidden:
		return "", apperr.Wrapf(apperr.KindNonRetryable, "fetcher: archive request returned %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return "", apperr.Wrapf(apperr.KindRetryable, "fetcher: archive request returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", apperr.Wrapf(apperr.KindNonRetryable, "fetcher: archive request returned %d", resp.StatusCode)
	}

	if resp.ContentLength > f.cfg.MaxArchiveBytes {
		return "", apperr.Wrapf(apperr.KindNonRetryable, "fetcher: archive size %d exceeds max %d", resp.ContentLength, f.cfg.MaxArchiveBytes)
	}

	destPath := filepath.Join(f.cfg.WorkspaceRoot, fmt.Sprintf("archive-%d.tar.gz", time.Now().UnixNano()))
	tmp, err := renameio.TempFile("", destPath)
	if err != nil {
		return "", apperr.Wrapf(apperr.KindFatal, "fetcher: failed to create temp archive: %w", err)
	}
	defer tmp.Cleanup()

	limited := io.LimitReader(resp.Body, f.cfg.MaxArchiveBytes+1)
	written, err := io.Copy(tmp, limited)
	if err != nil {
		return "", apperr.Wrapf(apperr.KindRetryable, "fetcher: truncated transfer: %w", err)
	}
	if written > f.cfg.MaxArchiveBytes {
		return "", apperr.Wrapf(apperr.KindNonRetryable, "fetcher: archive exceeds max size %d bytes", f.cfg.MaxArchiveBytes)
	}

	// CloseAtomicallyReplace renames the temp file into place at destPath —
	// the archive never appears on disk in a partially-written state.
	if err := tmp.CloseAtomicallyReplace(); err != nil {
		return "", apperr.Wrapf(apperr.KindFatal, "fetcher: failed to finalize archive write: %w", err)
	}
	return destPath, nil
}

// extractTarGz decompresses and unpacks src into destDir. A corrupt or
// truncated archive is non-retryable — the bytes it was given will never
// decode correctly no matter how many times extraction is retried.
func extractTarGz(src, destDir string) error {
	f, err := os.Open(src)
	if err != nil {
		return apperr.Wrapf(apperr.KindFatal, "fetcher: failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return apperr.Wrapf(apperr.KindNonRetryable, "fetcher: invalid archive (gzip): %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return apperr.Wrapf(apperr.KindNonRetryable, "fetcher: invalid archive (tar): %w", err)
		}

		target := filepath.Join(destDir, hdr.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
			return apperr.Wrapf(apperr.KindNonRetryable, "fetcher: archive entry %q escapes workspace", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0750); err != nil {
				return apperr.Wrapf(apperr.KindFatal, "fetcher: failed to create directory %q: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
				return apperr.Wrapf(apperr.KindFatal, "fetcher: failed to create directory for %q: %w", target, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return apperr.Wrapf(apperr.KindFatal, "fetcher: failed to create %q: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return apperr.Wrapf(apperr.KindNonRetryable, "fetcher: invalid archive (entry %q): %w", hdr.Name, err)
			}
			out.Close()
		}
	}
	return nil
}

// stripSingleWrapperDir removes the one top-level directory that revision
// tarballs commonly wrap their contents in (e.g. "owner-repo-abc123/"),
// returning the normalized root. If the workspace has zero or more than one
// top-level entry, it is returned unchanged.
func stripSingleWrapperDir(workspace string) (string, error) {
	entries, err := os.ReadDir(workspace)
	if err != nil {
		return "", apperr.Wrapf(apperr.KindFatal, "fetcher: failed to read workspace: %w", err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return workspace, nil
	}

	wrapped := filepath.Join(workspace, entries[0].Name())
	normalized := workspace + ".root"
	if err := os.Rename(wrapped, normalized); err != nil {
		return "", apperr.Wrapf(apperr.KindFatal, "fetcher: failed to normalize workspace root: %w", err)
	}
	os.Remove(workspace)
	return normalized, nil
}
