// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/shortlink/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// accountContextKey はリクエストコンテキストに認証済みアカウントを格納するためのキー。
var accountContextKey = contextKey("account")

// CallerResolver はベアラートークンからアカウントを解決する。
// auth.Serviceの部分集合として定義する。
type CallerResolver interface {
	ResolveCaller(ctx context.Context, token string) (*model.Account, error)
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのベアラートークンを検証し、
// 解決したアカウントをリクエストコンテキストに注入するミドルウェアを返す。
// トークンがない・不正・期限切れの場合は401を返す。
func NewBearerAuthMiddleware(resolver CallerResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			account, err := resolver.ResolveCaller(r.Context(), token)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
					return
				}
				slog.Error("failed to resolve caller",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			setRequestUser(r.Context(), account.Username)
			next.ServeHTTP(w, r.WithContext(ContextWithAccount(r.Context(), account)))
		})
	}
}

// NewRequireRoleMiddleware は指定ロールを持たないアカウントを拒否するミドルウェアを返す。
// 未認証の場合は401、ロール不足の場合は403を返す。
func NewRequireRoleMiddleware(role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, err := AccountFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			for _, granted := range account.Roles() {
				if granted == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
		})
	}
}

// bearerToken はAuthorizationヘッダーからトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AccountFromContext はリクエストコンテキストから認証済みアカウントを取得する。
// ベアラー認証ミドルウェアを通過したリクエストでのみ有効。
func AccountFromContext(ctx context.Context) (*model.Account, error) {
	account, ok := ctx.Value(accountContextKey).(*model.Account)
	if !ok || account == nil {
		return nil, errors.New("account not found in context")
	}
	return account, nil
}

// ContextWithAccount はコンテキストにアカウントを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithAccount(ctx context.Context, account *model.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, account)
}
