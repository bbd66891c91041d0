package github

import (
	"net/http"
	"time"

	"github.com/dundeezhang/UWGitRank/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithGraphQLURL sets the GraphQL endpoint.
func WithGraphQLURL(u string) Option {
	return func(c *Client) { c.graphQLURL = u }
}

// WithRESTURL sets the REST API base URL. It must end with a slash.
func WithRESTURL(u string) Option {
	return func(c *Client) { c.restURL = u }
}

// WithHTTPClient sets the base HTTP client wrapped by auth and pacing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.base = hc }
}

// WithRateLimit paces outbound requests to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.rps = rps
		c.burst = burst
	}
}

// WithTimeout bounds every outbound request once the rate limiter admits it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMergedPRLimit bounds how many merged pull requests are paged through.
func WithMergedPRLimit(n int) Option {
	return func(c *Client) { c.mergedLimit = n }
}

// WithRepoPageLimit bounds how many pages of repositories are summed.
func WithRepoPageLimit(n int) Option {
	return func(c *Client) { c.repoPages = n }
}

// WithReposCacheTTL sets how long top repositories are cached.
func WithReposCacheTTL(d time.Duration) Option {
	return func(c *Client) { c.reposTTL = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l.Named("github") }
}
