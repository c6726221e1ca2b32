package model

import "time"

// Link は短縮コードと元URLの対応を表す。
// 作成後に変化するのはClickCountのみ。
type Link struct {
	ID          string
	OriginalURL string
	ShortCode   string
	ClickCount  int64
	CreatedAt   time.Time
	OwnerID     string
}

// ClickEvent はリダイレクト1回分のクリック記録を表す。追記のみ。
type ClickEvent struct {
	ID         string
	LinkID     string
	OccurredAt time.Time
}

// DailyCount は日付ごとのクリック数。
type DailyCount struct {
	Date  string // yyyy-MM-dd (UTC)
	Count int64
}
