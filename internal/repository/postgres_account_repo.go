package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/shortlink/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB, timeout time.Duration) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db, timeout: timeout}
}

// Create はアカウントを作成する。usernameが重複する場合はErrDuplicateを返す。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, role, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		account.ID, account.Username, account.Email, account.PasswordHash, string(account.Role), account.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// FindByUsername はusernameでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByUsername(ctx context.Context, username string) (*model.Account, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	account := &model.Account{}
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, role, created_at FROM users WHERE username = $1`,
		username,
	).Scan(&account.ID, &account.Username, &account.Email, &account.PasswordHash, &role, &account.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	account.Role = model.Role(role)
	return account, nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
