package handlers

import (
	"net/http"

	"montage/internal/httpkit"
	"montage/internal/pkg/errors"
)

// writeErr translates a domain error into the JSON error envelope. The
// wire message is the error's own message; the full cause chain goes to
// the log only.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.GetHTTPStatus(err)
	code := errors.GetCode(err)
	fields := errors.GetFields(err)

	msg := err.Error()
	var appErr *errors.Error
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}

	log := h.log.FromContext(r.Context())
	if status >= 500 {
		log.Error("request failed",
			"code", string(code),
			"error", err.Error(),
			"method", r.Method,
			"path", r.URL.Path,
		)
	} else {
		log.Warn("request rejected",
			"code", string(code),
			"error", err.Error(),
			"method", r.Method,
			"path", r.URL.Path,
		)
	}

	httpkit.WriteErr(w, status, string(code), msg, fields)
}

// parseUpload caps the body at the configured upload limit and parses
// the multipart form. Returns false if the request was already answered.
func (h *Handler) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpkit.WriteErr(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE",
				"upload exceeds the configured size limit",
				map[string]any{"limit_bytes": h.maxUpload})
			return false
		}
		h.writeErr(w, r, errors.Validation("invalid multipart form"))
		return false
	}
	return true
}
