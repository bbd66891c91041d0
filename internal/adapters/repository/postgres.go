package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dundeezhang/UWGitRank/internal/domain/model"
	"github.com/dundeezhang/UWGitRank/pkg/logger"
)

const pgForeignKeyViolation = "23503"

// PostgresStore persists to PostgreSQL. The aggregate rows live in the
// leaderboard materialized view.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to databaseURL, verifies the connection and applies
// migrations unless disabled.
func OpenPostgres(ctx context.Context, databaseURL string, opts ...PostgresOption) (*PostgresStore, error) {
	cfg := defaultPostgresConfig()
	for _, o := range opts {
		o(&cfg)
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.maxConns
	poolCfg.MinConns = cfg.minConns
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	cctx, cancel := context.WithTimeout(ctx, cfg.connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(cctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if cfg.migrate {
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	log := logger.Get().Named("postgres")
	log.Info(ctx, "database pool ready",
		logger.Int("max_conns", int(cfg.maxConns)),
		logger.Int("min_conns", int(cfg.minConns)),
	)
	return &PostgresStore{pool: pool, logger: log}, nil
}

// Pool exposes the underlying pool.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) UpsertUser(ctx context.Context, u model.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (id, username, github_handle, is_verified)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			github_handle = EXCLUDED.github_handle,
			is_verified = EXCLUDED.is_verified,
			updated_at = NOW()`,
		u.ID, u.Username, u.GitHubHandle, u.Verified)
	return wrapPG("upsert user", err)
}

const userColumns = `id, username, COALESCE(github_handle, ''), is_verified`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.GitHubHandle, &u.Verified)
	return u, err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM profiles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, fmt.Errorf("user %q: %w", id, ErrNotFound)
	}
	return u, wrapPG("get user", err)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM profiles WHERE username = $1`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, fmt.Errorf("username %q: %w", username, ErrNotFound)
	}
	return u, wrapPG("get user", err)
}

func (s *PostgresStore) SyncableUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+` FROM profiles
		WHERE is_verified AND btrim(COALESCE(github_handle, '')) <> ''
		ORDER BY id`)
	if err != nil {
		return nil, wrapPG("list syncable users", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrapPG("scan user", err)
		}
		out = append(out, u)
	}
	return out, wrapPG("list syncable users", rows.Err())
}

// SaveMetrics upserts the snapshot. New rows take the current endorsement
// count; existing rows keep theirs.
func (s *PostgresStore) SaveMetrics(ctx context.Context, m model.MetricsSnapshot) error {
	syncedAt := m.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO github_metrics (
			user_id, stars,
			contributions_all, merges_all, contributions_7d, merges_7d,
			contributions_30d, merges_30d, contributions_1y, merges_1y,
			score_all, score_7d, score_30d, score_1y,
			endorsement_count, synced_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			(SELECT COUNT(*) FROM endorsements WHERE target_id = $1), $15
		)
		ON CONFLICT (user_id) DO UPDATE SET
			stars = EXCLUDED.stars,
			contributions_all = EXCLUDED.contributions_all,
			merges_all = EXCLUDED.merges_all,
			contributions_7d = EXCLUDED.contributions_7d,
			merges_7d = EXCLUDED.merges_7d,
			contributions_30d = EXCLUDED.contributions_30d,
			merges_30d = EXCLUDED.merges_30d,
			contributions_1y = EXCLUDED.contributions_1y,
			merges_1y = EXCLUDED.merges_1y,
			score_all = EXCLUDED.score_all,
			score_7d = EXCLUDED.score_7d,
			score_30d = EXCLUDED.score_30d,
			score_1y = EXCLUDED.score_1y,
			synced_at = EXCLUDED.synced_at`,
		m.UserID, m.Stars,
		m.AllTime.Contributions, m.AllTime.Merges,
		m.Last7d.Contributions, m.Last7d.Merges,
		m.Last30d.Contributions, m.Last30d.Merges,
		m.LastYear.Contributions, m.LastYear.Merges,
		m.Scores.All, m.Scores.D7, m.Scores.D30, m.Scores.Y1,
		syncedAt,
	)
	return wrapPG("save metrics", err)
}

const profileColumns = `
	id, username, github_handle, is_verified, stars,
	contributions_all, merges_all, contributions_7d, merges_7d,
	contributions_30d, merges_30d, contributions_1y, merges_1y,
	score_all, score_7d, score_30d, score_1y,
	endorsement_count, synced_at, rating, rated`

func scanProfile(row pgx.Row) (model.Profile, error) {
	var p model.Profile
	m := &p.Metrics
	err := row.Scan(
		&p.User.ID, &p.User.Username, &p.User.GitHubHandle, &p.User.Verified, &m.Stars,
		&m.AllTime.Contributions, &m.AllTime.Merges, &m.Last7d.Contributions, &m.Last7d.Merges,
		&m.Last30d.Contributions, &m.Last30d.Merges, &m.LastYear.Contributions, &m.LastYear.Merges,
		&m.Scores.All, &m.Scores.D7, &m.Scores.D30, &m.Scores.Y1,
		&m.EndorsementCount, &m.SyncedAt, &p.Rating, &p.Rated,
	)
	m.UserID = p.User.ID
	return p, err
}

func (s *PostgresStore) queryProfiles(ctx context.Context, op, sql string) ([]model.Profile, error) {
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, wrapPG(op, err)
	}
	defer rows.Close()

	var out []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, wrapPG(op, err)
		}
		out = append(out, p)
	}
	return out, wrapPG(op, rows.Err())
}

// MatchupCandidates reads live tables; users never synced get zero metrics.
func (s *PostgresStore) MatchupCandidates(ctx context.Context) ([]model.Profile, error) {
	return s.queryProfiles(ctx, "matchup candidates", `
		SELECT `+profileColumns+` FROM (
			SELECT
				p.id, p.username, COALESCE(p.github_handle, '') AS github_handle, p.is_verified,
				COALESCE(m.stars, 0) AS stars,
				COALESCE(m.contributions_all, 0) AS contributions_all, COALESCE(m.merges_all, 0) AS merges_all,
				COALESCE(m.contributions_7d, 0) AS contributions_7d, COALESCE(m.merges_7d, 0) AS merges_7d,
				COALESCE(m.contributions_30d, 0) AS contributions_30d, COALESCE(m.merges_30d, 0) AS merges_30d,
				COALESCE(m.contributions_1y, 0) AS contributions_1y, COALESCE(m.merges_1y, 0) AS merges_1y,
				COALESCE(m.score_all, 0) AS score_all, COALESCE(m.score_7d, 0) AS score_7d,
				COALESCE(m.score_30d, 0) AS score_30d, COALESCE(m.score_1y, 0) AS score_1y,
				(SELECT COUNT(*) FROM endorsements e WHERE e.target_id = p.id) AS endorsement_count,
				COALESCE(m.synced_at, 'epoch'::timestamptz) AS synced_at,
				COALESCE(r.rating, 0) AS rating,
				(r.user_id IS NOT NULL) AS rated
			FROM profiles p
			LEFT JOIN github_metrics m ON m.user_id = p.id
			LEFT JOIN elo_ratings r ON r.user_id = p.id
			WHERE p.is_verified AND btrim(COALESCE(p.github_handle, '')) <> ''
		) c
		ORDER BY id`)
}

// RecordMatch locks both rating rows in id order, applies transfer and
// appends the match in one transaction.
func (s *PostgresStore) RecordMatch(ctx context.Context, m model.MatchRecord, baseline model.Rating, transfer model.Transfer) (model.MatchRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.MatchRecord{}, wrapPG("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	first, second := m.WinnerID, m.LoserID
	if second < first {
		first, second = second, first
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO elo_ratings (user_id, rating) VALUES ($1, $3), ($2, $3)
		ON CONFLICT (user_id) DO NOTHING`, first, second, int64(baseline))
	if err != nil {
		return model.MatchRecord{}, wrapPG("seed ratings", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT r.user_id, r.rating, p.username
		FROM elo_ratings r JOIN profiles p ON p.id = r.user_id
		WHERE r.user_id = ANY($1)
		ORDER BY r.user_id
		FOR UPDATE OF r`, []string{first, second})
	if err != nil {
		return model.MatchRecord{}, wrapPG("lock ratings", err)
	}
	found := 0
	for rows.Next() {
		var (
			id, username string
			rating       int64
		)
		if err := rows.Scan(&id, &rating, &username); err != nil {
			rows.Close()
			return model.MatchRecord{}, wrapPG("scan rating", err)
		}
		switch id {
		case m.WinnerID:
			m.WinnerBefore, m.WinnerUsername = model.Rating(rating), username
		case m.LoserID:
			m.LoserBefore, m.LoserUsername = model.Rating(rating), username
		}
		found++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.MatchRecord{}, wrapPG("lock ratings", err)
	}
	if found != 2 {
		return model.MatchRecord{}, fmt.Errorf("match %s vs %s: %w", m.WinnerID, m.LoserID, ErrNotFound)
	}

	m.WinnerAfter, m.LoserAfter = transfer(m.WinnerBefore, m.LoserBefore)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	batch := &pgx.Batch{}
	batch.Queue(`UPDATE elo_ratings SET rating = $2, updated_at = NOW() WHERE user_id = $1`, m.WinnerID, int64(m.WinnerAfter))
	batch.Queue(`UPDATE elo_ratings SET rating = $2, updated_at = NOW() WHERE user_id = $1`, m.LoserID, int64(m.LoserAfter))
	batch.Queue(`
		INSERT INTO elo_matches (id, winner_id, loser_id, voter_id, winner_before, winner_after, loser_before, loser_after, created_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.WinnerID, m.LoserID, m.VoterID,
		int64(m.WinnerBefore), int64(m.WinnerAfter), int64(m.LoserBefore), int64(m.LoserAfter), m.CreatedAt)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return model.MatchRecord{}, wrapPG("record match", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.MatchRecord{}, wrapPG("commit match", err)
	}
	return m, nil
}

func (s *PostgresStore) MatchesForUser(ctx context.Context, userID string) ([]model.MatchRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id::text, m.winner_id, m.loser_id, m.voter_id, w.username, l.username,
			m.winner_before, m.winner_after, m.loser_before, m.loser_after, m.created_at
		FROM elo_matches m
		JOIN profiles w ON w.id = m.winner_id
		JOIN profiles l ON l.id = m.loser_id
		WHERE m.winner_id = $1 OR m.loser_id = $1
		ORDER BY m.created_at DESC, m.id DESC`, userID)
	if err != nil {
		return nil, wrapPG("list matches", err)
	}
	defer rows.Close()

	var out []model.MatchRecord
	for rows.Next() {
		var (
			m      model.MatchRecord
			wb, wa int64
			lb, la int64
		)
		if err := rows.Scan(&m.ID, &m.WinnerID, &m.LoserID, &m.VoterID, &m.WinnerUsername, &m.LoserUsername,
			&wb, &wa, &lb, &la, &m.CreatedAt); err != nil {
			return nil, wrapPG("scan match", err)
		}
		m.WinnerBefore, m.WinnerAfter = model.Rating(wb), model.Rating(wa)
		m.LoserBefore, m.LoserAfter = model.Rating(lb), model.Rating(la)
		out = append(out, m)
	}
	return out, wrapPG("list matches", rows.Err())
}

// ToggleEndorsement serializes on a transaction-scoped advisory lock per
// pair so concurrent toggles of the same edge alternate.
func (s *PostgresStore) ToggleEndorsement(ctx context.Context, voterID, targetID string) (bool, int64, error) {
	if voterID == targetID {
		return false, 0, model.ErrSelfEndorsement
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, 0, wrapPG("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, voterID+"\x00"+targetID); err != nil {
		return false, 0, wrapPG("lock endorsement", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM endorsements WHERE voter_id = $1 AND target_id = $2`, voterID, targetID)
	if err != nil {
		return false, 0, wrapPG("delete endorsement", err)
	}
	endorsed := tag.RowsAffected() == 0
	if endorsed {
		if _, err := tx.Exec(ctx, `INSERT INTO endorsements (voter_id, target_id) VALUES ($1, $2)`, voterID, targetID); err != nil {
			return false, 0, wrapPG("insert endorsement", err)
		}
	}

	var count int64
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM endorsements WHERE target_id = $1`, targetID).Scan(&count); err != nil {
		return false, 0, wrapPG("count endorsements", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE github_metrics SET endorsement_count = $2 WHERE user_id = $1`, targetID, count); err != nil {
		return false, 0, wrapPG("update endorsement count", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, 0, wrapPG("commit endorsement", err)
	}
	return endorsed, count, nil
}

func (s *PostgresStore) EndorsedUsernames(ctx context.Context, voterID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.username FROM endorsements e
		JOIN profiles p ON p.id = e.target_id
		WHERE e.voter_id = $1
		ORDER BY p.username`, voterID)
	if err != nil {
		return nil, wrapPG("list endorsed", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapPG("scan endorsed", err)
		}
		out = append(out, name)
	}
	return out, wrapPG("list endorsed", rows.Err())
}

// RefreshAggregate refreshes the view without blocking readers.
func (s *PostgresStore) RefreshAggregate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY leaderboard`)
	return wrapPG("refresh leaderboard", err)
}

func (s *PostgresStore) AggregateRows(ctx context.Context) ([]model.Profile, error) {
	return s.queryProfiles(ctx, "read leaderboard", `SELECT `+profileColumns+` FROM leaderboard ORDER BY id`)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wrapPG("ping", s.pool.Ping(ctx))
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// wrapPG maps foreign key violations to ErrNotFound and everything else to
// ErrPersistence. A nil err stays nil.
func wrapPG(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return fmt.Errorf("%s: %w: %s", op, ErrNotFound, pgErr.Detail)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
