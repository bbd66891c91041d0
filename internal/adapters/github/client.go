// Package github fetches contribution metrics and profile data from GitHub.
// Metrics come from the GraphQL API; rate limit status and repository
// listings come from the REST API.
package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gh "github.com/google/go-github/v83/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/dundeezhang/UWGitRank/pkg/logger"
	"github.com/dundeezhang/UWGitRank/pkg/metrics"
)

const userAgent = "UWGitRank"

// Defaults.
const (
	DefaultGraphQLURL    = "https://api.github.com/graphql"
	DefaultRESTURL       = "https://api.github.com/"
	DefaultMergedPRLimit = 500
	DefaultRepoPageLimit = 10
)

// Client talks to GitHub on behalf of one token.
type Client struct {
	graphQLURL  string
	restURL     string
	base        *http.Client
	rps         float64
	burst       int
	timeout     time.Duration
	mergedLimit int
	repoPages   int
	reposTTL    time.Duration
	now         func() time.Time
	logger      logger.Logger

	gql   *graphQLClient
	rest  *gh.Client
	repos *ttlCache[[]Repo]
}

// NewClient creates a Client authenticating with token. An empty token
// sends unauthenticated requests.
func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	c := &Client{
		graphQLURL:  DefaultGraphQLURL,
		restURL:     DefaultRESTURL,
		base:        &http.Client{},
		rps:         10,
		burst:       20,
		timeout:     15 * time.Second,
		mergedLimit: DefaultMergedPRLimit,
		repoPages:   DefaultRepoPageLimit,
		reposTTL:    time.Hour,
		now:         time.Now,
		logger:      logger.Get().Named("github"),
	}
	for _, opt := range opts {
		opt(c)
	}

	hc := c.base
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.base), ts)
	}
	transport := hc.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	limit := rate.Limit(c.rps)
	if c.rps <= 0 {
		limit = rate.Inf
	}
	hc = &http.Client{
		Transport: &pacedTransport{
			base:    transport,
			limiter: rate.NewLimiter(limit, max(c.burst, 1)),
			timeout: c.timeout,
		},
	}

	c.gql = &graphQLClient{endpoint: c.graphQLURL, httpClient: hc}

	rest := gh.NewClient(hc)
	u, err := url.Parse(c.restURL)
	if err != nil {
		return nil, fmt.Errorf("parse rest url %q: %w", c.restURL, err)
	}
	rest.BaseURL = u
	rest.UserAgent = userAgent
	c.rest = rest

	c.repos = newTTLCache[[]Repo](c.reposTTL, c.now)
	return c, nil
}

// pacedTransport waits on a shared limiter before every request. The
// timeout starts once the limiter admits the request, so time spent queued
// behind other calls never counts against it.
type pacedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
	timeout time.Duration
}

func (t *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	metrics.RecordGitHubRequest()
	if t.timeout <= 0 {
		return t.base.RoundTrip(req)
	}

	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose keeps the request deadline alive until the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
