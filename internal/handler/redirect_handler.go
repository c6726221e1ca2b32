package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RedirectHandler は短縮コードから元URLへのリダイレクトを処理する。
type RedirectHandler struct {
	links LinkServiceInterface
}

// NewRedirectHandler はRedirectHandlerを生成する。
func NewRedirectHandler(links LinkServiceInterface) *RedirectHandler {
	return &RedirectHandler{links: links}
}

// Redirect は302で元URLへリダイレクトする。未登録のコードは404を返しLocationヘッダーを付けない。
// GET /{shortUrl}
func (h *RedirectHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	originalURL, err := h.links.Resolve(r.Context(), chi.URLParam(r, "shortUrl"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", originalURL)
	w.WriteHeader(http.StatusFound)
}
