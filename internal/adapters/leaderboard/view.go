// Package leaderboard serves ranked reads from an in-process index rebuilt
// from the store's aggregate rows on every refresh.
package leaderboard

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/internal/domain/scoring"
	"github.com/dundeezhang/UWGitRank/pkg/logger"
	"github.com/dundeezhang/UWGitRank/pkg/metrics"
)

// Source recomputes and returns the aggregate rows.
type Source interface {
	RefreshAggregate(ctx context.Context) error
	AggregateRows(ctx context.Context) ([]model.Profile, error)
}

// Entry is one ranked row for a window.
type Entry struct {
	Rank         int                 `json:"rank"`
	UserID       string              `json:"user_id"`
	Username     string              `json:"username"`
	GitHubHandle string              `json:"github_handle,omitempty"`
	Rating       model.Rating        `json:"rating"`
	Stats        scoring.WindowStats `json:"stats"`
}

// Page is a slice of the ranking.
type Page struct {
	Window  model.Window `json:"window"`
	Entries []Entry      `json:"entries"`
	Total   int          `json:"total"`
	Offset  int          `json:"offset"`
	Limit   int          `json:"limit"`
	HasMore bool         `json:"has_more"`
}

type index struct {
	root       *node
	byUsername map[string]*node
}

// snapshot is immutable once published. seq orders snapshots by when their
// rows were read.
type snapshot struct {
	seq     uint64
	windows map[model.Window]*index
	rows    int
	builtAt time.Time
}

// pass is one refresh run shared by every caller that requested it.
type pass struct {
	ctx  context.Context
	done chan struct{}
	err  error
}

// View is the ranked projection. Reads never block on a refresh; they see
// the last published snapshot.
type View struct {
	source Source
	scorer *scoring.Scorer
	logger logger.Logger
	now    func() time.Time

	snap  atomic.Pointer[snapshot]
	seq   atomic.Uint64
	group singleflight.Group

	mu      sync.Mutex
	running *pass
	next    *pass
}

// New creates a view over source. Nothing is loaded until the first read or
// Refresh.
func New(source Source, scorer *scoring.Scorer, opts ...Option) *View {
	v := &View{
		source: source,
		scorer: scorer,
		logger: logger.Get().Named("leaderboard"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Refresh recomputes the store projection and republishes the index. It
// returns once a pass that started after the call has finished, so writes
// made before Refresh are visible when it returns nil. Callers arriving
// while a pass runs share the single pass queued behind it. Passes run
// detached from the caller's cancellation; a caller whose ctx ends stops
// waiting but the pass still completes.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	p := v.next
	switch {
	case v.running == nil:
		p = newPass(ctx)
		v.running = p
		go v.drain(p)
	case p == nil:
		p = newPass(ctx)
		v.next = p
	}
	v.mu.Unlock()

	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newPass(ctx context.Context) *pass {
	return &pass{ctx: context.WithoutCancel(ctx), done: make(chan struct{})}
}

// drain runs p and then every pass queued while it ran.
func (v *View) drain(p *pass) {
	for p != nil {
		p.err = v.refreshOnce(p.ctx)
		close(p.done)

		v.mu.Lock()
		p, v.next = v.next, nil
		v.running = p
		v.mu.Unlock()
	}
}

func (v *View) refreshOnce(ctx context.Context) error {
	start := time.Now()
	if err := v.source.RefreshAggregate(ctx); err != nil {
		metrics.RecordAggregateRefreshError()
		return err
	}
	s, err := v.load(ctx)
	if err != nil {
		metrics.RecordAggregateRefreshError()
		return err
	}
	metrics.RecordAggregateRefresh(float64(time.Since(start).Milliseconds()), s.rows, s.builtAt.Unix())
	v.logger.Debug(ctx, "leaderboard refreshed",
		logger.Int("rows", s.rows),
		logger.Duration("took", time.Since(start)),
	)
	return nil
}

// load rebuilds the index from the current aggregate rows and publishes it
// unless a snapshot read later has already been published. It returns the
// snapshot left in place.
func (v *View) load(ctx context.Context) (*snapshot, error) {
	seq := v.seq.Add(1)
	rows, err := v.source.AggregateRows(ctx)
	if err != nil {
		return nil, err
	}
	s := v.build(rows)
	s.seq = seq
	for {
		cur := v.snap.Load()
		if cur != nil && cur.seq > seq {
			return cur, nil
		}
		if v.snap.CompareAndSwap(cur, s) {
			return s, nil
		}
	}
}

func (v *View) build(rows []model.Profile) *snapshot {
	rng := rand.New(rand.NewPCG(uint64(v.now().UnixNano()), uint64(len(rows))))
	s := &snapshot{
		windows: make(map[model.Window]*index, len(model.Windows)),
		rows:    len(rows),
		builtAt: v.now(),
	}
	for _, w := range model.Windows {
		idx := &index{byUsername: make(map[string]*node, len(rows))}
		for _, p := range rows {
			n := newNode(Entry{
				UserID:       p.User.ID,
				Username:     p.User.Username,
				GitHubHandle: p.User.GitHubHandle,
				Rating:       p.EffectiveRating(v.scorer.Baseline()),
				Stats:        v.scorer.Stats(p, w),
			}, rng)
			idx.root = insert(idx.root, n)
			idx.byUsername[p.User.Username] = n
		}
		assignDenseRanks(idx.root)
		s.windows[w] = idx
	}
	return s
}

// current returns the published snapshot, loading one on first use.
func (v *View) current(ctx context.Context) (*snapshot, error) {
	if s := v.snap.Load(); s != nil {
		return s, nil
	}
	res, err, _ := v.group.Do("load", func() (any, error) {
		if s := v.snap.Load(); s != nil {
			return s, nil
		}
		return v.load(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return res.(*snapshot), nil
}

// TopN returns up to limit entries of window starting at offset.
func (v *View) TopN(ctx context.Context, w model.Window, limit, offset int) (Page, error) {
	if limit < 1 || offset < 0 {
		metrics.RecordErrorByComponent("leaderboard", "invalid_limit")
		return Page{}, ErrInvalidLimit
	}
	s, err := v.current(ctx)
	if err != nil {
		return Page{}, err
	}
	idx := s.windows[w]
	if idx == nil {
		return Page{}, model.ErrInvalidWindow
	}

	out := make([]Entry, 0, min(limit, max(nsize(idx.root)-offset, 0)))
	collectRange(idx.root, offset, limit, &out)
	total := nsize(idx.root)
	return Page{
		Window:  w,
		Entries: out,
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: offset+len(out) < total,
	}, nil
}

// Rank returns username's entry in window.
func (v *View) Rank(ctx context.Context, w model.Window, username string) (Entry, error) {
	s, err := v.current(ctx)
	if err != nil {
		return Entry{}, err
	}
	idx := s.windows[w]
	if idx == nil {
		return Entry{}, model.ErrInvalidWindow
	}
	n, ok := idx.byUsername[username]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return n.entry, nil
}

// Count returns the number of ranked users in the published snapshot.
func (v *View) Count() int {
	if s := v.snap.Load(); s != nil {
		return s.rows
	}
	return 0
}

// BuiltAt returns when the published snapshot was built, or the zero time.
func (v *View) BuiltAt() time.Time {
	if s := v.snap.Load(); s != nil {
		return s.builtAt
	}
	return time.Time{}
}
