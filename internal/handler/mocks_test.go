package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/shortlink/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn      func(ctx context.Context, username, password, email string) (*model.Account, error)
	authenticateFn  func(ctx context.Context, username, password string) (string, error)
	resolveCallerFn func(ctx context.Context, token string) (*model.Account, error)
}

func (m *mockAuthService) Register(ctx context.Context, username, password, email string) (*model.Account, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, username, password, email)
	}
	return &model.Account{ID: "acc-1", Username: username, Role: model.RoleUser}, nil
}

func (m *mockAuthService) Authenticate(ctx context.Context, username, password string) (string, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, username, password)
	}
	return "token", nil
}

func (m *mockAuthService) ResolveCaller(ctx context.Context, token string) (*model.Account, error) {
	if m.resolveCallerFn != nil {
		return m.resolveCallerFn(ctx, token)
	}
	return nil, model.NewUnauthorizedError()
}

type mockLinkService struct {
	createFn  func(ctx context.Context, originalURL string, owner *model.Account) (*model.Link, error)
	listFn    func(ctx context.Context, owner *model.Account) ([]*model.Link, error)
	resolveFn func(ctx context.Context, shortCode string) (string, error)
}

func (m *mockLinkService) CreateShortLink(ctx context.Context, originalURL string, owner *model.Account) (*model.Link, error) {
	if m.createFn != nil {
		return m.createFn(ctx, originalURL, owner)
	}
	return nil, nil
}

func (m *mockLinkService) ListByOwner(ctx context.Context, owner *model.Account) ([]*model.Link, error) {
	if m.listFn != nil {
		return m.listFn(ctx, owner)
	}
	return []*model.Link{}, nil
}

func (m *mockLinkService) Resolve(ctx context.Context, shortCode string) (string, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, shortCode)
	}
	return "", model.NewLinkNotFoundError(shortCode)
}

type mockAnalyticsService struct {
	perLinkFn func(ctx context.Context, caller *model.Account, shortCode string, start, end time.Time) (map[string]int64, error)
	totalFn   func(ctx context.Context, owner *model.Account, start, end time.Time) (map[string]int64, error)
}

func (m *mockAnalyticsService) PerLinkDailyCounts(ctx context.Context, caller *model.Account, shortCode string, start, end time.Time) (map[string]int64, error) {
	if m.perLinkFn != nil {
		return m.perLinkFn(ctx, caller, shortCode, start, end)
	}
	return map[string]int64{}, nil
}

func (m *mockAnalyticsService) TotalDailyCountsForOwner(ctx context.Context, owner *model.Account, start, end time.Time) (map[string]int64, error) {
	if m.totalFn != nil {
		return m.totalFn(ctx, owner, start, end)
	}
	return map[string]int64{}, nil
}

// --- テストヘルパー ---

var testAlice = &model.Account{ID: "acc-alice", Username: "alice", Role: model.RoleUser}

// aliceAuth は "alice-token" をaliceとして解決する認証モックを返す。
func aliceAuth() *mockAuthService {
	return &mockAuthService{
		resolveCallerFn: func(_ context.Context, token string) (*model.Account, error) {
			if token == "alice-token" {
				return testAlice, nil
			}
			return nil, model.NewUnauthorizedError()
		},
	}
}

// testBaseURL は末尾スラッシュ付きで渡し、正規化されることも確認する。
const testBaseURL = "https://sho.rt/"

func newTestRouter(auth AuthServiceInterface, links LinkServiceInterface, analytics AnalyticsServiceInterface) http.Handler {
	if auth == nil {
		auth = aliceAuth()
	}
	if links == nil {
		links = &mockLinkService{}
	}
	if analytics == nil {
		analytics = &mockAnalyticsService{}
	}
	return NewRouter(&RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		BaseURL:           testBaseURL,
		AuthService:       auth,
		LinkService:       links,
		AnalyticsService:  analytics,
	})
}

// doRequest はルーターにリクエストを送る。tokenが空でなければベアラートークンを付ける。
func doRequest(h http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v (body=%q)", err, w.Body.String())
	}
	return body.Code
}
