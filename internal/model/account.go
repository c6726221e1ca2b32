// Package model はドメインモデルを定義する。
package model

import "time"

// Role はアカウントのロールを表す。
type Role string

const (
	// RoleUser は一般ユーザーのロール。短縮URLの作成と分析の閲覧が可能。
	RoleUser Role = "ROLE_USER"
	// RoleAdmin は管理者ロール。
	RoleAdmin Role = "ROLE_ADMIN"
)

// Account はサービス利用アカウントを表す。
// usernameは大文字小文字を区別して一意。
type Account struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// Roles はトークンに埋め込むロール一覧を返す。
func (a *Account) Roles() []Role {
	if a.Role == "" {
		return []Role{RoleUser}
	}
	return []Role{a.Role}
}
