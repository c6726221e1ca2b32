// Package link は短縮リンクの作成、一覧、リダイレクト解決を提供する。
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/shortlink/internal/cache"
	"github.com/hitoshi/shortlink/internal/metrics"
	"github.com/hitoshi/shortlink/internal/model"
	"github.com/hitoshi/shortlink/internal/repository"
	"github.com/hitoshi/shortlink/internal/shortcode"
)

// DefaultMaxAttempts は短縮コード生成の既定の試行上限。
const DefaultMaxAttempts = 5

// Cache はリダイレクト情報のキャッシュ。
type Cache interface {
	Get(ctx context.Context, shortCode string) (*cache.Entry, error)
	Set(ctx context.Context, shortCode string, entry *cache.Entry) error
}

// ClickSink はクリックイベントの投入先。Submitは呼び出し元をブロックしてはならない。
type ClickSink interface {
	Submit(event *model.ClickEvent) bool
}

// Service は短縮リンクに関するビジネスロジックを提供する。
type Service struct {
	linkRepo    repository.LinkRepository
	generator   shortcode.Generator
	cache       Cache
	clicks      ClickSink
	metrics     metrics.MetricsCollector
	maxAttempts int
	now         func() time.Time
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithCache はリダイレクト解決にキャッシュを使う。
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics はメトリクス収集を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithMaxAttempts は短縮コード生成の試行上限を設定する。
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewService はServiceを生成する。
func NewService(linkRepo repository.LinkRepository, generator shortcode.Generator, clicks ClickSink, opts ...Option) *Service {
	s := &Service{
		linkRepo:    linkRepo,
		generator:   generator,
		clicks:      clicks,
		metrics:     metrics.Nop{},
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateShortLink は短縮リンクを作成する。
// 短縮コードの一意性はストアのユニーク制約で担保し、衝突時はコードを再生成して
// maxAttempts回まで試行する。上限に達した場合はCODE_EXHAUSTEDを返す。
func (s *Service) CreateShortLink(ctx context.Context, originalURL string, owner *model.Account) (*model.Link, error) {
	if strings.TrimSpace(originalURL) == "" {
		return nil, model.NewValidationError("originalUrl")
	}

	link := &model.Link{
		ID:          uuid.New().String(),
		OriginalURL: originalURL,
		ClickCount:  0,
		CreatedAt:   s.now().UTC().Truncate(time.Microsecond),
		OwnerID:     owner.ID,
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		link.ShortCode = s.generator.Generate()

		err := s.linkRepo.Create(ctx, link)
		if err == nil {
			s.metrics.RecordLinkCreated()
			slog.Info("short link created",
				slog.String("link_id", link.ID),
				slog.String("short_code", link.ShortCode),
				slog.String("user_id", owner.ID),
			)
			return link, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to create link: %w", err)
		}

		s.metrics.RecordCodeCollision()
		slog.Warn("short code collision, regenerating",
			slog.String("short_code", link.ShortCode),
			slog.Int("attempt", attempt),
		)
	}

	slog.Error("short code generation exhausted",
		slog.Int("max_attempts", s.maxAttempts),
		slog.String("user_id", owner.ID),
	)
	return nil, model.NewCodeExhaustedError(s.maxAttempts)
}

// ListByOwner は所有者が作成したリンクのみを返す。
func (s *Service) ListByOwner(ctx context.Context, owner *model.Account) ([]*model.Link, error) {
	links, err := s.linkRepo.ListByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	if links == nil {
		links = []*model.Link{}
	}
	return links, nil
}

// Resolve は短縮コードをリダイレクト先URLに解決し、クリックイベントを非同期記録に投入する。
// 該当リンクがない場合はLINK_NOT_FOUNDを返す。
func (s *Service) Resolve(ctx context.Context, shortCode string) (string, error) {
	entry, fromCache := s.lookupCache(ctx, shortCode)

	if entry == nil {
		link, err := s.linkRepo.FindByShortCode(ctx, shortCode)
		if err != nil {
			s.metrics.RecordRedirect(metrics.RedirectError)
			return "", fmt.Errorf("failed to find link: %w", err)
		}
		if link == nil {
			s.metrics.RecordRedirect(metrics.RedirectNotFound)
			return "", model.NewLinkNotFoundError(shortCode)
		}
		entry = &cache.Entry{LinkID: link.ID, OriginalURL: link.OriginalURL}
		s.fillCache(ctx, shortCode, entry)
	}

	if fromCache {
		s.metrics.RecordRedirect(metrics.RedirectCacheHit)
	} else {
		s.metrics.RecordRedirect(metrics.RedirectHit)
	}

	s.clicks.Submit(&model.ClickEvent{
		ID:         uuid.New().String(),
		LinkID:     entry.LinkID,
		OccurredAt: s.now().UTC(),
	})

	return entry.OriginalURL, nil
}

// lookupCache はキャッシュを参照する。キャッシュ障害時はDB参照に縮退する。
func (s *Service) lookupCache(ctx context.Context, shortCode string) (*cache.Entry, bool) {
	if s.cache == nil {
		return nil, false
	}
	entry, err := s.cache.Get(ctx, shortCode)
	if err != nil {
		slog.Warn("link cache lookup failed",
			slog.String("short_code", shortCode),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return entry, entry != nil
}

func (s *Service) fillCache(ctx context.Context, shortCode string, entry *cache.Entry) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, shortCode, entry); err != nil {
		slog.Warn("link cache fill failed",
			slog.String("short_code", shortCode),
			slog.String("error", err.Error()),
		)
	}
}
