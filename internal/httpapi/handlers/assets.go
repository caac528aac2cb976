package handlers

import (
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"montage/internal/httpkit"
	"montage/internal/models"
	"montage/internal/pkg/errors"
	"montage/internal/ports"
	"montage/internal/util"
)

// PostAsset stages one overlay input ahead of job submission. The file
// is owned by the store from here on; jobs reference it by id.
func (h *Handler) PostAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.parseUpload(w, r) {
		return
	}

	kind := strings.TrimSpace(r.FormValue("kind"))
	if kind != models.KindImage && kind != models.KindVideo {
		h.writeErr(w, r, errors.ValidationField("kind", "kind must be image or video"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeErr(w, r, errors.ValidationField("file", "file is required"))
		return
	}
	defer file.Close()

	assetID := util.NewID("ast")

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = guessExt(header.Header.Get("Content-Type"))
		if ext == "" {
			ext = ".bin"
		}
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	out, err := h.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   fmt.Sprintf("assets/%s/original%s", assetID, ext),
		ContentType: contentType,
		Reader:      file,
		Size:        header.Size,
	})
	if err != nil {
		h.writeErr(w, r, errors.WrapWithCode(err, errors.CodeUnavailable, "assets.stage", "could not store asset"))
		return
	}

	asset := &models.Asset{
		ID:           assetID,
		Kind:         kind,
		Provider:     h.sp.Provider(),
		ObjectKey:    out.ObjectKey,
		Mime:         contentType,
		SizeBytes:    out.Size,
		OriginalName: header.Filename,
	}
	if err := h.assets.Create(ctx, asset); err != nil {
		h.writeErr(w, r, errors.Wrap(err, "assets.stage", "could not record asset"))
		return
	}

	h.log.FromContext(ctx).Info("asset staged",
		"asset_id", assetID,
		"kind", kind,
		"size_bytes", out.Size,
	)

	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{"asset": asset})
}

func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetID := chi.URLParam(r, "assetId")

	asset, err := h.assets.Get(ctx, assetID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"asset": asset})
}

// DeleteAsset removes an unconsumed staged asset. Consumed assets stay
// until the sweeper reclaims them, since a job may still read them.
func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetID := chi.URLParam(r, "assetId")

	asset, err := h.assets.Get(ctx, assetID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if asset.ConsumedAt != nil {
		h.writeErr(w, r, errors.Conflict("asset already consumed by a job").
			WithField("consumed_at", asset.ConsumedAt))
		return
	}

	if err := h.sp.DeleteObject(ctx, asset.ObjectKey); err != nil {
		h.writeErr(w, r, errors.WrapWithCode(err, errors.CodeUnavailable, "assets.delete", "could not delete asset object"))
		return
	}
	if err := h.assets.Delete(ctx, assetID); err != nil {
		h.writeErr(w, r, errors.Wrap(err, "assets.delete", "could not delete asset record"))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func guessExt(contentType string) string {
	if contentType == "" {
		return ""
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
