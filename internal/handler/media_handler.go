package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kuzamarket/internal/storage"
)

// MediaHandler はオブジェクトストレージの画像を配信する。
// キーは一意で上書きされないため、長期間キャッシュさせる。
type MediaHandler struct {
	store storage.ObjectStore
}

// NewMediaHandler はMediaHandlerを生成する。
func NewMediaHandler(store storage.ObjectStore) *MediaHandler {
	return &MediaHandler{store: store}
}

// Serve は画像を返す。
// GET /media/*
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if !storage.ValidKey(key) {
		http.NotFound(w, r)
		return
	}

	body, obj, err := h.store.Open(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		slog.Error("failed to open object",
			slog.String("key", key),
			slog.String("backend", h.store.Backend()),
			slog.String("error", err.Error()),
		)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeForKey(key)
	}
	w.Header().Set("Content-Type", contentType)
	if obj.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("failed to stream object", slog.String("key", key), slog.String("error", err.Error()))
	}
}
