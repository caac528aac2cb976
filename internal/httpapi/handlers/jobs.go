package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"montage/internal/httpkit"
	"montage/internal/models"
	"montage/internal/pkg/errors"
	"montage/internal/planner"
	"montage/internal/ports"
	"montage/internal/util"
)

// PostJob accepts a base video plus an overlay list, validates the
// composition against the probed video, persists everything and queues
// the job. Every rejection happens before the job row exists.
func (h *Handler) PostJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.parseUpload(w, r) {
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		h.writeErr(w, r, errors.ValidationField("video", "video file is required"))
		return
	}
	defer file.Close()

	overlays, err := parseOverlays(r.FormValue("overlays"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	for i := range overlays {
		if err := h.validate.Struct(overlays[i]); err != nil {
			h.writeErr(w, r, errors.InvalidOverlay(i, validationMessage(err)))
			return
		}
	}

	// Spool the upload to disk so ffprobe can inspect it before anything
	// is persisted.
	tmp, err := os.CreateTemp("", "montage-upload-*")
	if err != nil {
		h.writeErr(w, r, errors.Wrap(err, "jobs.submit", "could not spool upload"))
		return
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, file)
	if err != nil {
		h.writeErr(w, r, errors.Wrap(err, "jobs.submit", "could not spool upload"))
		return
	}

	meta, err := h.prober.Probe(ctx, tmp.Name())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	assetIDs := models.OverlayAssetIDs(overlays)
	staged, err := h.stagedAssetSet(ctx, assetIDs)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if _, err := planner.Build(meta.DurationSec, meta.Width, meta.Height, overlays, staged); err != nil {
		h.writeErr(w, r, err)
		return
	}

	jobID := util.NewID("job")

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		h.writeErr(w, r, errors.Wrap(err, "jobs.submit", "could not rewind upload"))
		return
	}

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".mp4"
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}

	out, err := h.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   fmt.Sprintf("jobs/%s/source%s", jobID, ext),
		ContentType: contentType,
		Reader:      tmp,
		Size:        size,
	})
	if err != nil {
		h.writeErr(w, r, errors.WrapWithCode(err, errors.CodeUnavailable, "jobs.submit", "could not store source video"))
		return
	}

	log := h.log.FromContext(ctx)

	job := &models.Job{
		ID:          jobID,
		SourceKey:   out.ObjectKey,
		Overlays:    overlays,
		DurationSec: meta.DurationSec,
		Width:       meta.Width,
		Height:      meta.Height,
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		// No row references the stored source, so nothing would ever
		// reclaim it. Remove it before reporting the failure.
		if derr := h.sp.DeleteObject(ctx, out.ObjectKey); derr != nil {
			log.Warn("could not remove unreferenced source object", "object_key", out.ObjectKey, "error", derr.Error())
		}
		h.writeErr(w, r, errors.Wrap(err, "jobs.submit", "could not create job"))
		return
	}

	if len(assetIDs) > 0 {
		if err := h.assets.MarkConsumed(ctx, assetIDs, time.Now().UTC()); err != nil {
			log.Warn("could not mark assets consumed", "job_id", jobID, "error", err.Error())
		}
	}

	// The row exists now, so an admission failure is recorded on the job
	// rather than silently stranding it.
	if err := h.queue.Push(ctx, jobID); err != nil {
		if ferr := h.jobs.MarkFailed(ctx, jobID, "could not enqueue render job"); ferr != nil {
			log.Error("could not record enqueue failure", "job_id", jobID, "error", ferr.Error())
		}
		h.writeErr(w, r, err)
		return
	}

	log.Info("job submitted",
		"job_id", jobID,
		"overlays", len(overlays),
		"duration_sec", meta.DurationSec,
	)

	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{"job": job})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	jobs, err := h.jobs.List(ctx, status, limit)
	if err != nil {
		h.writeErr(w, r, errors.Wrap(err, "jobs.list", "could not list jobs"))
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// GetJob is the polling endpoint: one row read, never touches the
// render process.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"job": job})
}

// GetJobResult streams the finished artifact. Anything short of
// completed reports the job's current state instead so the caller can
// decide whether to keep polling.
func (h *Handler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")

	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	switch job.Status {
	case models.StatusCompleted:
	case models.StatusFailed:
		h.writeErr(w, r, errors.New(errors.CodeConflict, "job failed, no artifact to fetch").
			WithField("status", job.Status).
			WithField("error", job.Error))
		return
	default:
		h.writeErr(w, r, errors.NotReady(job.ID, job.Status, job.Progress))
		return
	}

	if job.OutputKey == "" {
		h.writeErr(w, r, errors.RenderFailure("completed job has no artifact recorded"))
		return
	}

	filename := job.ID + ".mp4"
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))

	// Seekable providers get real Range support; the rest stream.
	if opener, ok := h.sp.(ports.ObjectOpener); ok {
		rsc, modTime, err := opener.OpenObject(ctx, job.OutputKey)
		if err != nil {
			h.writeErr(w, r, errors.WrapWithCode(err, errors.CodeRenderFailure,
				"jobs.result", "artifact missing for completed job"))
			return
		}
		defer rsc.Close()

		w.Header().Set("Content-Type", "video/mp4")
		http.ServeContent(w, r, filename, modTime, rsc)
		return
	}

	rc, contentType, size, err := h.sp.GetObject(ctx, job.OutputKey)
	if err != nil {
		h.writeErr(w, r, errors.WrapWithCode(err, errors.CodeRenderFailure,
			"jobs.result", "artifact missing for completed job"))
		return
	}
	defer rc.Close()

	if contentType == "" {
		contentType = "video/mp4"
	}
	w.Header().Set("Content-Type", contentType)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	_, _ = io.Copy(w, rc)
}

// CancelJob requests cancellation: queued jobs fail immediately,
// rendering jobs get flagged for the worker to kill, terminal jobs are
// returned unchanged.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")

	job, err := h.jobs.RequestCancel(ctx, jobID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	h.log.FromContext(ctx).Info("cancellation requested", "job_id", jobID, "status", job.Status)

	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

// stagedAssetSet resolves which of the referenced asset ids actually
// exist; the planner rejects overlays referencing the rest.
func (h *Handler) stagedAssetSet(ctx context.Context, ids []string) (map[string]struct{}, error) {
	staged := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return staged, nil
	}

	assets, err := h.assets.ListByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "jobs.submit", "could not resolve staged assets")
	}
	for _, a := range assets {
		staged[a.ID] = struct{}{}
	}
	return staged, nil
}

func parseOverlays(raw string) ([]models.Overlay, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var overlays []models.Overlay
	if err := json.Unmarshal([]byte(raw), &overlays); err != nil {
		return nil, errors.ValidationField("overlays", "overlays must be a JSON array of overlay objects")
	}
	return overlays, nil
}

// validationMessage flattens the first field error into a short reason.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
	return "invalid overlay"
}
