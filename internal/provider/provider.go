// Package provider implements ProviderClient (C4): the outbound notification
// protocol to the upstream code-hosting provider — deployment statuses,
// check runs, review comments, and release tags (§4.4). Every method takes
// its credential per call; the client holds no ambient authentication state.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v27/github"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ArnavK-09/tsc-deploy-sub000/internal/apperr"
)

// Credential is a provider credential handle, supplied per call (§5 "Shared
// resources": "Provider credentials are passed by value per call, never
// stored process-wide").
type Credential struct {
	Token string
}

// Client is ProviderClient (§4.4). Every method returns a classified error
// via apperr rather than throwing — the Worker decides what to do with a
// notification failure (§7: "Finalize/provider error... never fails the
// job").
type Client struct {
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// Config controls Client behavior.
type Config struct{}

// New constructs a Client.
func New(_ Config, logger *zap.Logger) *Client {
	log := logger.Named("provider")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider_client",
		MaxRequests: 2,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Client{breaker: breaker, logger: log}
}

// githubClient builds a go-github client authenticated with cred, scoped to
// this call only — no client is cached across calls (§5).
func (c *Client) githubClient(ctx context.Context, cred Credential) *github.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.Token})
	tc := oauth2.NewClient(ctx, ts)
	return github.NewClient(tc)
}

// call runs fn through the circuit breaker and classifies the resulting
// error from the go-github response, matching §4.4's "classified error
// (retryable network vs. non-retryable 4xx)" contract.
func (c *Client) call(label string, fn func() (*github.Response, error)) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperr.Wrapf(apperr.KindRetryable, "provider: %s: circuit breaker open: %w", label, err)
	}
	return apperr.Wrapf(classifyResponseErr(err), "provider: %s failed: %w", label, err)
}

// classifyResponseErr inspects a go-github error for an embedded *Response
// and classifies by status code; errors with no HTTP response (network
// failures, timeouts) are treated as retryable.
func classifyResponseErr(err error) apperr.Kind {
	if ghErr, ok := err.(*github.ErrorResponse); ok && ghErr.Response != nil {
		return classifyStatus(ghErr.Response.StatusCode)
	}
	return apperr.KindRetryable
}

func classifyStatus(status int) apperr.Kind {
	switch {
	case status == http.StatusNotFound, status == http.StatusForbidden, status == http.StatusUnprocessableEntity:
		return apperr.KindNonRetryable
	case status >= 500:
		return apperr.KindRetryable
	case status >= 400:
		return apperr.KindNonRetryable
	default:
		return apperr.KindRetryable
	}
}

func repoRef(owner, repo string) string {
	return fmt.Sprintf("%s/%s", owner, repo)
}
