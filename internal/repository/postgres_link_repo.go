package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/shortlink/internal/model"
)

// PostgresLinkRepo はPostgreSQLを使用した短縮リンクリポジトリ。
type PostgresLinkRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresLinkRepo はPostgresLinkRepoを生成する。
func NewPostgresLinkRepo(db *sql.DB, timeout time.Duration) *PostgresLinkRepo {
	return &PostgresLinkRepo{db: db, timeout: timeout}
}

// Create はリンクを作成する。short_codeが重複する場合はErrDuplicateを返す。
func (r *PostgresLinkRepo) Create(ctx context.Context, link *model.Link) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO links (id, original_url, short_code, click_count, created_at, owner_id)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		link.ID, link.OriginalURL, link.ShortCode, link.ClickCount, link.CreatedAt, link.OwnerID,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert link: %w", err)
	}
	return nil
}

// FindByShortCode は短縮コードの完全一致でリンクを検索する。見つからない場合はnilを返す。
func (r *PostgresLinkRepo) FindByShortCode(ctx context.Context, shortCode string) (*model.Link, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	link := &model.Link{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, original_url, short_code, click_count, created_at, owner_id
		 FROM links
		 WHERE short_code = $1`,
		shortCode,
	).Scan(&link.ID, &link.OriginalURL, &link.ShortCode, &link.ClickCount, &link.CreatedAt, &link.OwnerID)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find link by short code: %w", err)
	}

	return link, nil
}

// ListByOwner は所有者のリンク一覧を作成日時の昇順で返す。
func (r *PostgresLinkRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Link, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, original_url, short_code, click_count, created_at, owner_id
		 FROM links
		 WHERE owner_id = $1
		 ORDER BY created_at ASC, id ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []*model.Link
	for rows.Next() {
		link := &model.Link{}
		if err := rows.Scan(&link.ID, &link.OriginalURL, &link.ShortCode, &link.ClickCount, &link.CreatedAt, &link.OwnerID); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate links: %w", err)
	}

	return links, nil
}

// ListIDsByOwner は所有者のリンクID一覧を返す。
func (r *PostgresLinkRepo) ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT id FROM links WHERE owner_id = $1`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list link ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan link id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate link ids: %w", err)
	}

	return ids, nil
}

// compile-time interface check
var _ LinkRepository = (*PostgresLinkRepo)(nil)
