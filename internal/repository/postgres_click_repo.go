package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/shortlink/internal/model"
)

// PostgresClickRepo はPostgreSQLを使用したクリックイベントリポジトリ。
type PostgresClickRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresClickRepo はPostgresClickRepoを生成する。
func NewPostgresClickRepo(db *sql.DB, timeout time.Duration) *PostgresClickRepo {
	return &PostgresClickRepo{db: db, timeout: timeout}
}

// Record はクリックイベントの追記とclick_countの加算を同一トランザクションで行う。
// 加算は UPDATE ... SET click_count = click_count + 1 で行い、同時リダイレクトでも更新を失わない。
// イベントIDが既に存在する場合は加算せずfalseを返す。
func (r *PostgresClickRepo) Record(ctx context.Context, event *model.ClickEvent) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO click_events (id, link_id, occurred_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		event.ID, event.LinkID, event.OccurredAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert click event: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if inserted == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE links SET click_count = click_count + 1 WHERE id = $1`,
		event.LinkID,
	); err != nil {
		return false, fmt.Errorf("failed to increment click count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// CountDailyByLink はリンクのクリック数を [from, to) の範囲でUTC暦日ごとに返す。
func (r *PostgresClickRepo) CountDailyByLink(ctx context.Context, linkID string, from, to time.Time) (map[string]int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT to_char(occurred_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS click_date, COUNT(*)
		 FROM click_events
		 WHERE link_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		 GROUP BY click_date`,
		linkID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count click events: %w", err)
	}
	return scanDailyCounts(rows)
}

// CountDailyByLinks は複数リンクの合計クリック数を [from, to) の範囲でUTC暦日ごとに返す。
// linkIDsが空の場合はクエリを発行せず空を返す。
func (r *PostgresClickRepo) CountDailyByLinks(ctx context.Context, linkIDs []string, from, to time.Time) (map[string]int64, error) {
	if len(linkIDs) == 0 {
		return map[string]int64{}, nil
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT to_char(occurred_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS click_date, COUNT(*)
		 FROM click_events
		 WHERE link_id = ANY($1::uuid[]) AND occurred_at >= $2 AND occurred_at < $3
		 GROUP BY click_date`,
		pq.Array(linkIDs), from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count click events: %w", err)
	}
	return scanDailyCounts(rows)
}

func scanDailyCounts(rows *sql.Rows) (map[string]int64, error) {
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			date  string
			count int64
		)
		if err := rows.Scan(&date, &count); err != nil {
			return nil, fmt.Errorf("failed to scan daily click count: %w", err)
		}
		counts[date] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily click counts: %w", err)
	}
	return counts, nil
}

// compile-time interface check
var _ ClickRepository = (*PostgresClickRepo)(nil)
