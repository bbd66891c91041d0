package github

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sort"
	"time"

	gh "github.com/google/go-github/v83/github"

	"github.com/dundeezhang/UWGitRank/pkg/logger"
	"github.com/dundeezhang/UWGitRank/pkg/metrics"
)

// topReposCount is how many repositories a profile shows.
const topReposCount = 3

// Repo is a repository shown on a profile.
type Repo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	Stars       int    `json:"stars"`
	Language    string `json:"language,omitempty"`
}

// TopRepos returns the most starred owned, non-fork repositories of handle.
// Results are cached per handle.
func (c *Client) TopRepos(ctx context.Context, handle string) ([]Repo, error) {
	if repos, ok := c.repos.Get(handle); ok {
		return repos, nil
	}

	var all []Repo
	opts := &gh.RepositoryListByUserOptions{
		Type:        "owner",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for page := 0; page < c.repoPages; page++ {
		list, resp, err := c.rest.Repositories.ListByUser(ctx, handle, opts)
		if err != nil {
			return nil, restError(handle, resp, err)
		}
		for _, r := range list {
			if r.GetFork() {
				continue
			}
			all = append(all, Repo{
				Name:        r.GetName(),
				Description: r.GetDescription(),
				URL:         r.GetHTMLURL(),
				Stars:       r.GetStargazersCount(),
				Language:    r.GetLanguage(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Stars > all[j].Stars })
	top := append([]Repo{}, all[:min(topReposCount, len(all))]...)
	c.repos.Put(handle, top)
	if c.repos.Len() > 1000 {
		c.repos.CleanExpired()
	}
	return top, nil
}

// Quota is the GraphQL rate limit status.
type Quota struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// Quota returns the current GraphQL rate limit. Checking it does not count
// against the limit.
func (c *Client) Quota(ctx context.Context) (Quota, error) {
	limits, resp, err := c.rest.RateLimit.Get(ctx)
	if err != nil {
		return Quota{}, restError("", resp, err)
	}
	r := limits.GetGraphQL()
	if r == nil {
		r = limits.GetCore()
	}
	if r == nil {
		return Quota{}, fetchErr(KindProtocol, "", errors.New("rate limit response has no graphql resource"))
	}
	q := Quota{Limit: r.Limit, Remaining: r.Remaining, Reset: r.Reset.Time}
	metrics.UpdateGitHubQuota(q.Remaining)
	return q, nil
}

func restError(handle string, resp *gh.Response, err error) error {
	var rle *gh.RateLimitError
	var are *gh.AbuseRateLimitError
	switch {
	case errors.As(err, &rle), errors.As(err, &are):
		return fetchErr(KindTransient, handle, err)
	case resp == nil:
		return fetchErr(KindTransient, handle, err)
	case resp.StatusCode == http.StatusNotFound:
		return fetchErr(KindNotFound, handle, err)
	case resp.StatusCode >= 500:
		return fetchErr(KindTransient, handle, err)
	}
	return fetchErr(KindProtocol, handle, fmt.Errorf("status %d: %w", resp.StatusCode, err))
}

// QuotaSource reports the remaining API budget.
type QuotaSource interface {
	Quota(ctx context.Context) (Quota, error)
}

// QuotaGate blocks callers while the remaining quota is at or below a
// threshold, until the limit resets.
type QuotaGate struct {
	source    QuotaSource
	threshold int
	maxJitter time.Duration
	logger    logger.Logger
}

// NewQuotaGate creates a gate over source.
func NewQuotaGate(source QuotaSource, threshold int, maxJitter time.Duration) *QuotaGate {
	return &QuotaGate{
		source:    source,
		threshold: threshold,
		maxJitter: maxJitter,
		logger:    logger.Get().Named("quota"),
	}
}

// Wait returns once the quota is above the threshold or has reset. A failed
// quota check does not block.
func (g *QuotaGate) Wait(ctx context.Context) error {
	q, err := g.source.Quota(ctx)
	if err != nil {
		g.logger.Warn(ctx, "quota check failed", logger.Error(err))
		return nil
	}
	if q.Remaining > g.threshold {
		return nil
	}
	wait := time.Until(q.Reset)
	if wait <= 0 {
		return nil
	}
	if g.maxJitter > 0 {
		wait += time.Duration(rand.Int64N(int64(g.maxJitter))) //nolint:gosec // jitter only
	}

	g.logger.Info(ctx, "rate limit approaching, waiting",
		logger.Int("remaining", q.Remaining),
		logger.String("reset_at", q.Reset.Format(time.RFC3339)),
		logger.Duration("wait", wait),
	)

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
