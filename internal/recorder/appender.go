package recorder

import (
	"context"
	"fmt"

	"github.com/hitoshi/shortlink/internal/model"
	"github.com/hitoshi/shortlink/internal/repository"
)

// StoreAppender はクリックイベントをClickRepositoryへ直接記録するAppender。
type StoreAppender struct {
	clicks repository.ClickRepository
}

// NewStoreAppender はStoreAppenderを生成する。
func NewStoreAppender(clicks repository.ClickRepository) *StoreAppender {
	return &StoreAppender{clicks: clicks}
}

// Append はイベントを記録する。同一IDのイベントが既にある場合も成功として扱う。
func (a *StoreAppender) Append(ctx context.Context, event *model.ClickEvent) error {
	if _, err := a.clicks.Record(ctx, event); err != nil {
		return fmt.Errorf("failed to record click event: %w", err)
	}
	return nil
}

var _ Appender = (*StoreAppender)(nil)
