// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/shortlink/internal/model"
)

// AccountRepository はアカウントデータの永続化インターフェース。
type AccountRepository interface {
	// Create はアカウントを作成する。usernameが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, account *model.Account) error

	// FindByUsername はusernameでアカウントを検索する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.Account, error)
}

// LinkRepository は短縮リンクの永続化インターフェース。
type LinkRepository interface {
	// Create はリンクを作成する。short_codeが重複する場合はErrDuplicateを返す。
	// 一意性はDBのユニーク制約で担保する。
	Create(ctx context.Context, link *model.Link) error

	// FindByShortCode は短縮コードの完全一致でリンクを検索する。見つからない場合はnilを返す。
	FindByShortCode(ctx context.Context, shortCode string) (*model.Link, error)

	// ListByOwner は所有者のリンク一覧を作成日時の昇順で返す。
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Link, error)

	// ListIDsByOwner は所有者のリンクID一覧を返す。
	ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error)
}

// ClickRepository はクリックイベントの永続化インターフェース。
type ClickRepository interface {
	// Record はクリックイベントを追記し、リンクのclick_countをアトミックに1増やす。
	// 同一IDのイベントが既に存在する場合は何もせずfalseを返す（再配信に対して冪等）。
	Record(ctx context.Context, event *model.ClickEvent) (bool, error)

	// CountDailyByLink はリンクのクリック数を [from, to) の範囲でUTC暦日（yyyy-MM-dd）ごとに返す。
	// クリックのない日はキーを持たない。
	CountDailyByLink(ctx context.Context, linkID string, from, to time.Time) (map[string]int64, error)

	// CountDailyByLinks は複数リンクの合計クリック数を [from, to) の範囲でUTC暦日ごとに返す。
	CountDailyByLinks(ctx context.Context, linkIDs []string, from, to time.Time) (map[string]int64, error)
}
