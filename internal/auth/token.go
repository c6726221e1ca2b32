package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/shortlink/internal/model"
)

// ErrInvalidToken はトークンの署名・有効期限・形式のいずれかが不正であることを表す。
var ErrInvalidToken = errors.New("invalid token")

// Claims はアクセストークンのペイロード。
// subにusername、rolesにカンマ区切りのロールを保持する。
type Claims struct {
	Roles string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenIssuer はHS256で署名したベアラートークンを発行・検証する。
type TokenIssuer struct {
	secret     []byte
	expiration time.Duration
	now        func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(secret string, expiration time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret:     []byte(secret),
		expiration: expiration,
		now:        time.Now,
	}
}

// Issue はアカウントのusernameとロールを束縛したトークンを発行する。
func (t *TokenIssuer) Issue(account *model.Account) (string, error) {
	now := t.now()
	roles := make([]string, 0, len(account.Roles()))
	for _, r := range account.Roles() {
		roles = append(roles, string(r))
	}

	claims := &Claims{
		Roles: strings.Join(roles, ","),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiration)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify は署名と有効期限を検証し、クレームを返す。
// 不正なトークンはすべてErrInvalidTokenとして返す。
func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			return t.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
