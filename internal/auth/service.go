// Package auth はアカウント登録、パスワード認証、ベアラートークンによる呼び出し元解決を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shortlink/internal/model"
	"github.com/hitoshi/shortlink/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	JWTSecret     string
	JWTExpiration time.Duration
	BcryptCost    int
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	accountRepo repository.AccountRepository
	hasher      *PasswordHasher
	tokens      *TokenIssuer
	dummyHash   string
}

// NewService はServiceを生成する。
func NewService(accountRepo repository.AccountRepository, config ServiceConfig) *Service {
	hasher := NewPasswordHasher(config.BcryptCost)
	// 未登録ユーザーでも同じコストの照合を行うためのハッシュ
	dummy, err := hasher.Hash(uuid.New().String())
	if err != nil {
		slog.Error("failed to prepare dummy password hash", slog.String("error", err.Error()))
	}
	return &Service{
		accountRepo: accountRepo,
		hasher:      hasher,
		tokens:      NewTokenIssuer(config.JWTSecret, config.JWTExpiration),
		dummyHash:   dummy,
	}
}

// Register はアカウントを登録する。
// usernameが既に使われている場合はUSERNAME_TAKENエラーを返す。
func (s *Service) Register(ctx context.Context, username, password, email string) (*model.Account, error) {
	if strings.TrimSpace(username) == "" {
		return nil, model.NewValidationError("username")
	}
	if password == "" {
		return nil, model.NewValidationError("password")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	account := &model.Account{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleUser,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.accountRepo.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewUsernameTakenError(username)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("account registered",
		slog.String("user_id", account.ID),
		slog.String("username", account.Username),
	)
	return account, nil
}

// Authenticate はパスワードを照合し、成功した場合はトークンを発行する。
// ユーザー未登録とパスワード不一致はどちらもAUTH_FAILEDとして返す。
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, error) {
	if strings.TrimSpace(username) == "" {
		return "", model.NewValidationError("username")
	}
	if password == "" {
		return "", model.NewValidationError("password")
	}

	account, err := s.accountRepo.FindByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("failed to find account: %w", err)
	}

	if account == nil {
		s.hasher.Compare(s.dummyHash, password)
		return "", model.NewAuthFailedError()
	}
	if !s.hasher.Compare(account.PasswordHash, password) {
		return "", model.NewAuthFailedError()
	}

	token, err := s.tokens.Issue(account)
	if err != nil {
		return "", err
	}

	slog.Info("account logged in", slog.String("user_id", account.ID))
	return token, nil
}

// ResolveCaller はトークンを検証し、埋め込まれたusernameからアカウントを解決する。
// 不正・期限切れ・空のトークン、または該当アカウントが存在しない場合はUNAUTHORIZEDを返す。
func (s *Service) ResolveCaller(ctx context.Context, token string) (*model.Account, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		slog.Debug("token rejected", slog.String("error", err.Error()))
		return nil, model.NewUnauthorizedError()
	}

	account, err := s.accountRepo.FindByUsername(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	if account == nil {
		return nil, model.NewUnauthorizedError()
	}

	return account, nil
}
