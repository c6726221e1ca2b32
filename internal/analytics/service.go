// Package analytics はクリックイベントを日付ごとに集計する。
// 日付はUTCの暦日で区切る。
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hitoshi/shortlink/internal/model"
	"github.com/hitoshi/shortlink/internal/repository"
)

// 入出力で使う日付・日時の書式
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04:05"
)

// Service はクリック集計を提供する。集計は読み取りのみでデータを変更しない。
type Service struct {
	linkRepo  repository.LinkRepository
	clickRepo repository.ClickRepository
}

// NewService はServiceを生成する。
func NewService(linkRepo repository.LinkRepository, clickRepo repository.ClickRepository) *Service {
	return &Service{linkRepo: linkRepo, clickRepo: clickRepo}
}

// PerLinkDailyCounts は1リンクのクリック数を日付ごとに返す。
// [start, end] を閉区間として扱い、内部では半開区間 [start, upperBound(end)) で問い合わせる。
// リンクが存在しない、または呼び出し元の所有でない場合はLINK_NOT_FOUNDを返す。
func (s *Service) PerLinkDailyCounts(ctx context.Context, caller *model.Account, shortCode string, start, end time.Time) (map[string]int64, error) {
	if start.After(end) {
		return nil, model.NewInvalidDateRangeError("startDate is after endDate")
	}

	link, err := s.linkRepo.FindByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("failed to find link: %w", err)
	}
	if link == nil || link.OwnerID != caller.ID {
		return nil, model.NewLinkNotFoundError(shortCode)
	}

	counts, err := s.clickRepo.CountDailyByLink(ctx, link.ID, start.UTC(), upperBound(end))
	if err != nil {
		return nil, fmt.Errorf("failed to count click events: %w", err)
	}
	return counts, nil
}

// upperBound は閉区間の上限endを半開区間の上限に変換する。
// 秒単位の指定（yyyy-MM-ddTHH:mm:ss）はその秒全体を含め、端数秒を持つ指定はその時刻ちょうどまでを含める。
func upperBound(end time.Time) time.Time {
	end = end.UTC()
	if end.Nanosecond() == 0 {
		return end.Add(time.Second)
	}
	return end.Add(time.Nanosecond)
}

// TotalDailyCountsForOwner は所有者の全リンクのクリック数を日付ごとに返す。
// 問い合わせ範囲は [start日の0時, end日の翌日0時) で、end日は丸1日含まれる。
func (s *Service) TotalDailyCountsForOwner(ctx context.Context, owner *model.Account, start, end time.Time) (map[string]int64, error) {
	from := StartOfDay(start)
	to := StartOfDay(end).AddDate(0, 0, 1)
	if !from.Before(to) {
		return nil, model.NewInvalidDateRangeError("startDate is after endDate")
	}

	ids, err := s.linkRepo.ListIDsByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list link ids: %w", err)
	}
	if len(ids) == 0 {
		return map[string]int64{}, nil
	}

	counts, err := s.clickRepo.CountDailyByLinks(ctx, ids, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count click events: %w", err)
	}
	return counts, nil
}

// StartOfDay はtのUTC暦日の0時を返す。
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Sorted は集計結果を日付の昇順に並べる。
func Sorted(counts map[string]int64) []model.DailyCount {
	result := make([]model.DailyCount, 0, len(counts))
	for date, n := range counts {
		result = append(result, model.DailyCount{Date: date, Count: n})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date < result[j].Date })
	return result
}
