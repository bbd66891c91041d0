package github

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/pkg/logger"
	"github.com/dundeezhang/UWGitRank/pkg/metrics"
)

// Fetch returns all-time and windowed metrics for handle. It never retries
// and never substitutes zero for a failed query.
func (c *Client) Fetch(ctx context.Context, handle string) (model.RawMetrics, error) {
	start := time.Now()
	raw, err := c.fetch(ctx, handle)
	metrics.RecordFetchLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		err = withHandle(classifyContext(err), handle)
		var fe *FetchError
		if errors.As(err, &fe) {
			metrics.RecordFetchError(string(fe.Kind))
		}
		c.logger.Debug(ctx, "fetch failed", logger.String("handle", handle), logger.Error(err))
		return model.RawMetrics{}, err
	}
	return raw, nil
}

func (c *Client) fetch(ctx context.Context, handle string) (model.RawMetrics, error) {
	now := c.now().UTC()

	stars, years, err := c.totals(ctx, handle)
	if err != nil {
		return model.RawMetrics{}, err
	}
	contributions, err := c.allTimeContributions(ctx, handle, years)
	if err != nil {
		return model.RawMetrics{}, err
	}

	windows := []model.Window{model.Window7d, model.Window30d, model.Window1y}
	windowed := make([]int64, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range windows {
		g.Go(func() error {
			n, err := c.windowContributions(gctx, handle, w.Start(now), now)
			windowed[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return model.RawMetrics{}, err
	}

	totalMerged, mergedAt, err := c.mergedPRs(ctx, handle)
	if err != nil {
		return model.RawMetrics{}, err
	}
	merges := func(w model.Window) int64 {
		from := w.Start(now)
		var n int64
		for _, t := range mergedAt {
			if !t.Before(from) {
				n++
			}
		}
		return n
	}

	return model.RawMetrics{
		Stars:    stars,
		AllTime:  model.Counts{Contributions: contributions, Merges: totalMerged},
		Last7d:   model.Counts{Contributions: windowed[0], Merges: merges(model.Window7d)},
		Last30d:  model.Counts{Contributions: windowed[1], Merges: merges(model.Window30d)},
		LastYear: model.Counts{Contributions: windowed[2], Merges: merges(model.Window1y)},
	}, nil
}

// totals sums stars over owned non-fork repositories, paging up to the
// configured bound, and returns the years with contributions.
func (c *Client) totals(ctx context.Context, handle string) (int64, []int, error) {
	var (
		stars int64
		years []int
		after *string
	)
	for page := 0; page < c.repoPages; page++ {
		var data totalsData
		if err := c.gql.do(ctx, totalsQuery, map[string]any{"login": handle, "after": after}, &data); err != nil {
			return 0, nil, err
		}
		if data.User == nil {
			return 0, nil, fetchErr(KindNotFound, handle, errors.New("user not found"))
		}
		if page == 0 {
			years = data.User.ContributionsCollection.ContributionYears
		}
		for _, n := range data.User.Repositories.Nodes {
			if n.StargazerCount < 0 {
				return 0, nil, fetchErr(KindProtocol, handle, fmt.Errorf("negative stargazer count %d", n.StargazerCount))
			}
			stars += n.StargazerCount
		}
		pi := data.User.Repositories.PageInfo
		if !pi.HasNextPage || pi.EndCursor == nil {
			break
		}
		after = pi.EndCursor
	}
	return stars, years, nil
}

func (c *Client) allTimeContributions(ctx context.Context, handle string, years []int) (int64, error) {
	if len(years) == 0 {
		return 0, nil
	}
	years = append([]int(nil), years...)
	sort.Ints(years)

	var data yearsData
	if err := c.gql.do(ctx, yearsQuery(years), map[string]any{"login": handle}, &data); err != nil {
		return 0, err
	}
	if data.User == nil {
		return 0, fetchErr(KindNotFound, handle, errors.New("user not found"))
	}
	var total int64
	for _, y := range years {
		cc, ok := data.User[fmt.Sprintf("y%d", y)]
		if !ok {
			return 0, fetchErr(KindProtocol, handle, fmt.Errorf("missing contributions for %d", y))
		}
		n := cc.ContributionCalendar.TotalContributions
		if n < 0 {
			return 0, fetchErr(KindProtocol, handle, fmt.Errorf("negative contribution count %d", n))
		}
		total += n
	}
	return total, nil
}

func (c *Client) windowContributions(ctx context.Context, handle string, from, to time.Time) (int64, error) {
	var data windowData
	vars := map[string]any{
		"login": handle,
		"from":  from.Format(time.RFC3339),
		"to":    to.Format(time.RFC3339),
	}
	if err := c.gql.do(ctx, windowQuery, vars, &data); err != nil {
		return 0, err
	}
	if data.User == nil {
		return 0, fetchErr(KindNotFound, handle, errors.New("user not found"))
	}
	n := data.User.ContributionsCollection.ContributionCalendar.TotalContributions
	if n < 0 {
		return 0, fetchErr(KindProtocol, handle, fmt.Errorf("negative contribution count %d", n))
	}
	return n, nil
}

// mergedPRs returns the all-time merged count and the merge times of the
// most recently updated merged pull requests, up to the configured limit.
func (c *Client) mergedPRs(ctx context.Context, handle string) (int64, []time.Time, error) {
	var (
		total    int64
		mergedAt []time.Time
		after    *string
	)
	for len(mergedAt) < c.mergedLimit {
		var data mergedData
		vars := map[string]any{"login": handle, "first": min(100, c.mergedLimit-len(mergedAt)), "after": after}
		if err := c.gql.do(ctx, mergedQuery, vars, &data); err != nil {
			return 0, nil, err
		}
		if data.User == nil {
			return 0, nil, fetchErr(KindNotFound, handle, errors.New("user not found"))
		}
		prs := data.User.PullRequests
		if prs.TotalCount < 0 {
			return 0, nil, fetchErr(KindProtocol, handle, fmt.Errorf("negative merged count %d", prs.TotalCount))
		}
		total = prs.TotalCount
		for _, n := range prs.Nodes {
			if n.MergedAt != nil {
				mergedAt = append(mergedAt, *n.MergedAt)
			}
		}
		if !prs.PageInfo.HasNextPage || prs.PageInfo.EndCursor == nil || len(prs.Nodes) == 0 {
			break
		}
		after = prs.PageInfo.EndCursor
	}
	return total, mergedAt, nil
}

// classifyContext marks caller cancellations and deadlines as transient.
func classifyContext(err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fetchErr(KindTransient, "", err)
	}
	return fetchErr(KindProtocol, "", err)
}
