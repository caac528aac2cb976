package processor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"montage/internal/models"
	"montage/internal/pkg/errors"
	"montage/internal/planner"
	"montage/internal/ports"
)

// Materializer downloads a job's stored media into its scratch directory
// so ffmpeg reads plain local files.
type Materializer struct {
	sp ports.StorageProvider
}

func NewMaterializer(sp ports.StorageProvider) *Materializer {
	return &Materializer{sp: sp}
}

// Source fetches the job's base video.
func (m *Materializer) Source(ctx context.Context, job *models.Job, dir string) (string, error) {
	ext := filepath.Ext(job.SourceKey)
	if ext == "" {
		ext = ".mp4"
	}
	dst := filepath.Join(dir, "source"+ext)
	if err := m.download(ctx, job.SourceKey, dst); err != nil {
		return "", errors.Wrap(err, "materialize.source", "could not fetch source video")
	}
	return dst, nil
}

// Inputs fetches every staged asset the plan references and returns the
// local path per asset id.
func (m *Materializer) Inputs(ctx context.Context, plan *planner.Plan, assets map[string]models.Asset, dir string) (map[string]string, error) {
	paths := make(map[string]string)
	for _, id := range plan.AssetIDs() {
		a, ok := assets[id]
		if !ok {
			return nil, errors.NotFound("asset", id)
		}

		ext := filepath.Ext(a.ObjectKey)
		if ext == "" {
			ext = extFromMime(a.Mime)
		}
		dst := filepath.Join(dir, "inputs", id+ext)
		if err := m.download(ctx, a.ObjectKey, dst); err != nil {
			return nil, errors.Wrapf(err, "materialize.inputs", "could not fetch asset %s", id)
		}
		paths[id] = dst
	}
	return paths, nil
}

func (m *Materializer) download(ctx context.Context, objectKey, dst string) error {
	rc, _, _, err := m.sp.GetObject(ctx, objectKey)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// extFromMime maps the mime types staging accepts to file extensions,
// for providers whose object keys carry none.
func extFromMime(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	default:
		return ""
	}
}
