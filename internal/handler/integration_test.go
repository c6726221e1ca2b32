package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/shortlink/internal/analytics"
	"github.com/hitoshi/shortlink/internal/auth"
	"github.com/hitoshi/shortlink/internal/link"
	"github.com/hitoshi/shortlink/internal/metrics"
	"github.com/hitoshi/shortlink/internal/model"
	"github.com/hitoshi/shortlink/internal/recorder"
	"github.com/hitoshi/shortlink/internal/repository"
	"github.com/hitoshi/shortlink/internal/shortcode"
)

// --- ステートフルなインメモリストア ---

// memoryStore はアカウント、リンク、クリックイベントを保持するインメモリストア。
// PostgreSQL実装と同じ一意性と冪等性の規則を再現する。
type memoryStore struct {
	mu       sync.Mutex
	accounts map[string]*model.Account // key: username
	links    map[string]*model.Link    // key: short code
	clicks   map[string]*model.ClickEvent
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts: make(map[string]*model.Account),
		links:    make(map[string]*model.Link),
		clicks:   make(map[string]*model.ClickEvent),
	}
}

type memoryAccounts struct{ *memoryStore }
type memoryLinks struct{ *memoryStore }
type memoryClicks struct{ *memoryStore }

func (s memoryAccounts) Create(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.Username]; ok {
		return repository.ErrDuplicate
	}
	copied := *a
	s.accounts[a.Username] = &copied
	return nil
}

func (s memoryAccounts) FindByUsername(_ context.Context, username string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[username]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, nil
}

func (s memoryLinks) Create(_ context.Context, l *model.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[l.ShortCode]; ok {
		return repository.ErrDuplicate
	}
	copied := *l
	s.links[l.ShortCode] = &copied
	return nil
}

func (s memoryLinks) FindByShortCode(_ context.Context, code string) (*model.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.links[code]; ok {
		copied := *l
		return &copied, nil
	}
	return nil, nil
}

func (s memoryLinks) ListByOwner(_ context.Context, ownerID string) ([]*model.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*model.Link
	for _, l := range s.links {
		if l.OwnerID == ownerID {
			copied := *l
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s memoryLinks) ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	links, _ := s.ListByOwner(ctx, ownerID)
	ids := make([]string, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.ID)
	}
	return ids, nil
}

func (s memoryClicks) Record(_ context.Context, e *model.ClickEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clicks[e.ID]; ok {
		return false, nil
	}
	copied := *e
	s.clicks[e.ID] = &copied
	for _, l := range s.links {
		if l.ID == e.LinkID {
			l.ClickCount++
		}
	}
	return true, nil
}

func (s memoryClicks) CountDailyByLink(ctx context.Context, linkID string, from, to time.Time) (map[string]int64, error) {
	return s.CountDailyByLinks(ctx, []string{linkID}, from, to)
}

func (s memoryClicks) CountDailyByLinks(_ context.Context, linkIDs []string, from, to time.Time) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]bool, len(linkIDs))
	for _, id := range linkIDs {
		wanted[id] = true
	}
	counts := make(map[string]int64)
	for _, e := range s.clicks {
		if wanted[e.LinkID] && !e.OccurredAt.Before(from) && e.OccurredAt.Before(to) {
			counts[e.OccurredAt.UTC().Format(analytics.DateLayout)]++
		}
	}
	return counts, nil
}

// --- シナリオテスト ---

// TestIntegration_FullScenario は登録からリダイレクト、集計までを実サービスで通しで検証する。
func TestIntegration_FullScenario(t *testing.T) {
	store := newMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rec := recorder.New(recorder.NewStoreAppender(memoryClicks{store}), metrics.Nop{}, logger, recorder.DefaultConfig())
	rec.Start()

	authService := auth.NewService(memoryAccounts{store}, auth.ServiceConfig{
		JWTSecret:     "integration-secret",
		JWTExpiration: time.Hour,
		BcryptCost:    bcrypt.MinCost,
	})
	linkService := link.NewService(memoryLinks{store}, shortcode.NewRandomGenerator(), rec)
	analyticsService := analytics.NewService(memoryLinks{store}, memoryClicks{store})

	router := NewRouter(&RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: "http://localhost:3000",
		AuthService:       authService,
		LinkService:       linkService,
		AnalyticsService:  analyticsService,
	})

	// 1. 登録と重複登録
	w := doRequest(router, http.MethodPost, "/api/auth/public/register", `{"username":"alice","password":"pw1","email":"a@x.io"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("register alice: status = %d (body=%s)", w.Code, w.Body.String())
	}
	w = doRequest(router, http.MethodPost, "/api/auth/register", `{"username":"alice","password":"other","email":"b@x.io"}`, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate register: status = %d, want %d", w.Code, http.StatusConflict)
	}

	// 2. ログイン
	w = doRequest(router, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"wrong"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	aliceToken := login(t, router, "alice", "pw1")

	// 3. 短縮リンク作成
	w = doRequest(router, http.MethodPost, "/api/urls/shorten", `{"originalUrl":"https://example.com/a"}`, aliceToken)
	if w.Code != http.StatusOK {
		t.Fatalf("shorten: status = %d (body=%s)", w.Code, w.Body.String())
	}
	var created linkResponse
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode shorten response: %v", err)
	}
	if !shortcode.Valid(created.ShortURL) {
		t.Fatalf("short code %q is not valid", created.ShortURL)
	}
	if created.ClickCount != 0 || created.Username != "alice" {
		t.Errorf("unexpected created link: %+v", created)
	}

	// 4. 他人のリンクの分析は404
	w = doRequest(router, http.MethodPost, "/api/auth/register", `{"username":"bob","password":"pw2","email":"b@x.io"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("register bob: status = %d", w.Code)
	}
	bobToken := login(t, router, "bob", "pw2")

	today := time.Now().UTC()
	dateTimeRange := "?startDate=" + analytics.StartOfDay(today).Format(analytics.DateTimeLayout) +
		"&endDate=" + analytics.StartOfDay(today).Add(24*time.Hour-time.Second).Format(analytics.DateTimeLayout)
	w = doRequest(router, http.MethodGet, "/api/urls/analytics/"+created.ShortURL+dateTimeRange, "", bobToken)
	if w.Code != http.StatusNotFound {
		t.Errorf("bob analytics on alice's link: status = %d, want %d", w.Code, http.StatusNotFound)
	}

	// 5. 2回リダイレクト
	for i := 0; i < 2; i++ {
		w = doRequest(router, http.MethodGet, "/"+created.ShortURL, "", "")
		if w.Code != http.StatusFound {
			t.Fatalf("redirect %d: status = %d, want %d", i, w.Code, http.StatusFound)
		}
		if loc := w.Header().Get("Location"); loc != "https://example.com/a" {
			t.Errorf("redirect %d: Location = %q", i, loc)
		}
	}
	w = doRequest(router, http.MethodGet, "/ZZZZZZZZ", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown code: status = %d, want %d", w.Code, http.StatusNotFound)
	}

	// 6. 記録の完了を待つ
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("recorder close: %v", err)
	}

	// 7. 一覧のクリック数
	w = doRequest(router, http.MethodGet, "/api/urls/myurls", "", aliceToken)
	var mine []linkResponse
	if err := json.NewDecoder(w.Body).Decode(&mine); err != nil {
		t.Fatalf("failed to decode myurls: %v", err)
	}
	if len(mine) != 1 || mine[0].ClickCount != 2 {
		t.Fatalf("myurls = %+v, want one link with 2 clicks", mine)
	}

	// bobのリンク一覧は空
	w = doRequest(router, http.MethodGet, "/api/urls/myurls", "", bobToken)
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("bob myurls = %q, want []", body)
	}

	// 8. 集計
	todayKey := today.Format(analytics.DateLayout)

	w = doRequest(router, http.MethodGet, "/api/urls/analytics/"+created.ShortURL+dateTimeRange, "", aliceToken)
	var perLink []clickCountResponse
	if err := json.NewDecoder(w.Body).Decode(&perLink); err != nil {
		t.Fatalf("failed to decode analytics: %v", err)
	}
	if len(perLink) != 1 || perLink[0] != (clickCountResponse{ClickDate: todayKey, Count: 2}) {
		t.Errorf("analytics = %+v, want [{%s 2}]", perLink, todayKey)
	}

	w = doRequest(router, http.MethodGet, "/api/urls/totalClicks?startDate="+todayKey+"&endDate="+todayKey, "", aliceToken)
	var total map[string]int64
	if err := json.NewDecoder(w.Body).Decode(&total); err != nil {
		t.Fatalf("failed to decode totalClicks: %v", err)
	}
	if len(total) != 1 || total[todayKey] != 2 {
		t.Errorf("totalClicks = %v, want {%s: 2}", total, todayKey)
	}
}

func login(t *testing.T, h http.Handler, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Username: username, Password: password})
	w := doRequest(h, http.MethodPost, "/api/auth/login", string(body), "")
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d (body=%s)", username, w.Code, w.Body.String())
	}
	var resp tokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}
	return resp.Token
}
