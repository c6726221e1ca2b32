package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/shortlink/internal/analytics"
	"github.com/hitoshi/shortlink/internal/middleware"
	"github.com/hitoshi/shortlink/internal/model"
)

// LinkServiceInterface はリンクハンドラーが必要とするサービスインターフェース。
type LinkServiceInterface interface {
	CreateShortLink(ctx context.Context, originalURL string, owner *model.Account) (*model.Link, error)
	ListByOwner(ctx context.Context, owner *model.Account) ([]*model.Link, error)
	Resolve(ctx context.Context, shortCode string) (string, error)
}

// AnalyticsServiceInterface は分析ハンドラーが必要とするサービスインターフェース。
type AnalyticsServiceInterface interface {
	PerLinkDailyCounts(ctx context.Context, caller *model.Account, shortCode string, start, end time.Time) (map[string]int64, error)
	TotalDailyCountsForOwner(ctx context.Context, owner *model.Account, start, end time.Time) (map[string]int64, error)
}

// LinkHandler は短縮リンク管理と分析のHTTPハンドラー。
type LinkHandler struct {
	links     LinkServiceInterface
	analytics AnalyticsServiceInterface
	baseURL   string
}

// NewLinkHandler はLinkHandlerを生成する。
// baseURLは公開URL（例: https://sho.rt）で、レスポンスのshortLinkの組み立てに使う。空の場合shortLinkは省略する。
func NewLinkHandler(links LinkServiceInterface, analytics AnalyticsServiceInterface, baseURL string) *LinkHandler {
	return &LinkHandler{links: links, analytics: analytics, baseURL: strings.TrimRight(baseURL, "/")}
}

// shortenRequest は短縮リンク作成リクエストのボディ。
type shortenRequest struct {
	OriginalURL string `json:"originalUrl"`
}

// linkResponse は短縮リンクのAPIレスポンス。
type linkResponse struct {
	ID          string `json:"id"`
	OriginalURL string `json:"originalUrl"`
	ShortURL    string `json:"shortUrl"`
	ShortLink   string `json:"shortLink,omitempty"`
	ClickCount  int64  `json:"clickCount"`
	CreatedDate string `json:"createdDate"`
	Username    string `json:"username"`
}

// clickCountResponse は日付ごとのクリック数のAPIレスポンス。
type clickCountResponse struct {
	ClickDate string `json:"clickDate"`
	Count     int64  `json:"count"`
}

// Shorten は短縮リンクを作成する。
// POST /api/urls/shorten
func (h *LinkHandler) Shorten(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	var req shortenRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	link, err := h.links.CreateShortLink(r.Context(), req.OriginalURL, caller)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toLinkResponse(link, caller))
}

// MyURLs は呼び出し元のリンク一覧を返す。
// GET /api/urls/myurls
func (h *LinkHandler) MyURLs(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	links, err := h.links.ListByOwner(r.Context(), caller)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]linkResponse, 0, len(links))
	for _, l := range links {
		resp = append(resp, h.toLinkResponse(l, caller))
	}
	writeJSON(w, http.StatusOK, resp)
}

// LinkAnalytics は1リンクの日付ごとのクリック数を日付の昇順で返す。
// GET /api/urls/analytics/{shortUrl}?startDate=yyyy-MM-ddTHH:mm:ss&endDate=yyyy-MM-ddTHH:mm:ss
func (h *LinkHandler) LinkAnalytics(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	start, end, err := parseRange(r, parseDateTime)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	counts, err := h.analytics.PerLinkDailyCounts(r.Context(), caller, chi.URLParam(r, "shortUrl"), start, end)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	sorted := analytics.Sorted(counts)
	resp := make([]clickCountResponse, 0, len(sorted))
	for _, c := range sorted {
		resp = append(resp, clickCountResponse{ClickDate: c.Date, Count: c.Count})
	}
	writeJSON(w, http.StatusOK, resp)
}

// TotalClicks は呼び出し元の全リンクの日付ごとのクリック数を返す。
// GET /api/urls/totalClicks?startDate=yyyy-MM-dd&endDate=yyyy-MM-dd
func (h *LinkHandler) TotalClicks(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFromRequest(w, r)
	if !ok {
		return
	}

	start, end, err := parseRange(r, parseDate)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	counts, err := h.analytics.TotalDailyCountsForOwner(r.Context(), caller, start, end)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, counts)
}

// callerFromRequest は認証済みアカウントを取り出す。見つからない場合は401を書き込む。
func callerFromRequest(w http.ResponseWriter, r *http.Request) (*model.Account, bool) {
	caller, err := middleware.AccountFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil, false
	}
	return caller, true
}

func (h *LinkHandler) toLinkResponse(link *model.Link, owner *model.Account) linkResponse {
	resp := linkResponse{
		ID:          link.ID,
		OriginalURL: link.OriginalURL,
		ShortURL:    link.ShortCode,
		ClickCount:  link.ClickCount,
		CreatedDate: link.CreatedAt.UTC().Format(analytics.DateTimeLayout),
		Username:    owner.Username,
	}
	if h.baseURL != "" {
		resp.ShortLink = h.baseURL + "/" + link.ShortCode
	}
	return resp
}

// parseRange はstartDateとendDateのクエリパラメータを読み取る。
func parseRange(r *http.Request, parse func(string) (time.Time, error)) (time.Time, time.Time, error) {
	q := r.URL.Query()
	rawStart, rawEnd := q.Get("startDate"), q.Get("endDate")
	if rawStart == "" {
		return time.Time{}, time.Time{}, model.NewValidationError("startDate")
	}
	if rawEnd == "" {
		return time.Time{}, time.Time{}, model.NewValidationError("endDate")
	}

	start, err := parse(rawStart)
	if err != nil {
		return time.Time{}, time.Time{}, model.NewInvalidDateRangeError("startDate: " + rawStart)
	}
	end, err := parse(rawEnd)
	if err != nil {
		return time.Time{}, time.Time{}, model.NewInvalidDateRangeError("endDate: " + rawEnd)
	}
	return start, end, nil
}

// parseDateTime はゾーンなしの日時をUTCとして解釈する。ゾーン付きのRFC 3339も受け付ける。
func parseDateTime(s string) (time.Time, error) {
	if t, err := time.Parse(analytics.DateTimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseDate は日付をUTCの0時として解釈する。
func parseDate(s string) (time.Time, error) {
	return time.Parse(analytics.DateLayout, s)
}
