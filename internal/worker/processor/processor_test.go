package processor

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"montage/internal/models"
	"montage/internal/pkg/errors"
	"montage/internal/pkg/logger"
	"montage/internal/ports"
	"montage/internal/render"
)

// fakeRegistry keeps jobs in memory. Its transition guards mirror the
// WHERE clauses of the SQL-backed registry: queued is the only state a
// claim wins, progress only moves while rendering, terminal states
// never move again.
type fakeRegistry struct {
	jobs         map[string]*models.Job
	gets         int
	updateCalls  int
	cancelOnCall int
	completedCtx []error
}

func newFakeRegistry(jobs ...*models.Job) *fakeRegistry {
	m := make(map[string]*models.Job, len(jobs))
	for _, j := range jobs {
		m[j.ID] = j
	}
	return &fakeRegistry{jobs: m}
}

func (f *fakeRegistry) Get(ctx context.Context, id string) (*models.Job, error) {
	f.gets++
	j, ok := f.jobs[id]
	if !ok {
		return nil, errors.NotFound("job", id)
	}
	cp := *j
	return &cp, nil
}

func (f *fakeRegistry) MarkRendering(ctx context.Context, id string) error {
	j, ok := f.jobs[id]
	if !ok {
		return errors.NotFound("job", id)
	}
	switch j.Status {
	case models.StatusQueued:
		j.Status = models.StatusRendering
		return nil
	case models.StatusRendering:
		return errors.AlreadyRendering(id)
	default:
		return errors.Conflict("job is already " + j.Status)
	}
}

func (f *fakeRegistry) UpdateProgress(ctx context.Context, id string, pct int) (bool, error) {
	f.updateCalls++
	j, ok := f.jobs[id]
	if !ok || j.Status != models.StatusRendering {
		return false, errors.NotFound("job", id)
	}
	if pct > j.Progress {
		j.Progress = pct
	}
	if f.cancelOnCall > 0 {
		return f.updateCalls >= f.cancelOnCall, nil
	}
	return j.CancelRequested, nil
}

func (f *fakeRegistry) MarkCompleted(ctx context.Context, id string, outputKey string) error {
	f.completedCtx = append(f.completedCtx, ctx.Err())
	j, ok := f.jobs[id]
	if !ok {
		return errors.NotFound("job", id)
	}
	if j.Status != models.StatusRendering {
		return errors.Conflict("job is already " + j.Status)
	}
	j.Status = models.StatusCompleted
	j.Progress = 100
	j.OutputKey = outputKey
	return nil
}

func (f *fakeRegistry) MarkFailed(ctx context.Context, id string, cause string) error {
	j, ok := f.jobs[id]
	if !ok {
		return errors.NotFound("job", id)
	}
	if j.Status != models.StatusQueued && j.Status != models.StatusRendering {
		return errors.Conflict("job is already " + j.Status)
	}
	j.Status = models.StatusFailed
	j.Error = cause
	return nil
}

type fakeCatalog struct {
	assets []models.Asset
}

func (f *fakeCatalog) ListByIDs(ctx context.Context, ids []string) ([]models.Asset, error) {
	return f.assets, nil
}

type fakeStore struct {
	objects map[string][]byte
	putCtx  []error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Provider() string { return "fake" }

func (f *fakeStore) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	f.putCtx = append(f.putCtx, ctx.Err())
	b, err := io.ReadAll(in.Reader)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	f.objects[in.ObjectKey] = b
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: int64(len(b))}, nil
}

func (f *fakeStore) GetObject(ctx context.Context, objectKey string) (io.ReadCloser, string, int64, error) {
	b, ok := f.objects[objectKey]
	if !ok {
		return nil, "", 0, errors.NotFound("object", objectKey)
	}
	return io.NopCloser(bytes.NewReader(b)), "", int64(len(b)), nil
}

func (f *fakeStore) DeleteObject(ctx context.Context, objectKey string) error {
	delete(f.objects, objectKey)
	return nil
}

func (f *fakeStore) GetSignedURL(ctx context.Context, objectKey string, expiresIn time.Duration) (ports.SignedURLOutput, error) {
	return ports.SignedURLOutput{}, errors.Internal("unsupported")
}

type fakeEngine struct {
	render func(ctx context.Context, req render.Request) error
}

func (f *fakeEngine) Render(ctx context.Context, req render.Request) error {
	return f.render(ctx, req)
}

func queuedJob() *models.Job {
	return &models.Job{
		ID:          "job_1",
		Status:      models.StatusQueued,
		SourceKey:   "jobs/job_1/source.mp4",
		DurationSec: 10,
		Width:       1920,
		Height:      1080,
		Overlays: []models.Overlay{{
			Type:      models.OverlayText,
			Content:   "hello",
			StartTime: 0,
			EndTime:   5,
			X:         0.1,
			Y:         0.1,
			Height:    0.1,
		}},
	}
}

func sourcedStore() *fakeStore {
	sp := newFakeStore()
	sp.objects["jobs/job_1/source.mp4"] = []byte("source bytes")
	return sp
}

func newTestProcessor(t *testing.T, reg *fakeRegistry, sp *fakeStore, eng render.Engine) (*Processor, string) {
	t.Helper()
	workRoot := t.TempDir()
	p := New(Deps{
		Jobs:     reg,
		Assets:   &fakeCatalog{},
		Engine:   eng,
		SP:       sp,
		WorkRoot: workRoot,
		Log:      logger.New(logger.Config{Level: "error", Format: "text", Output: io.Discard}),
	})
	return p, workRoot
}

func writeArtifact(req render.Request) error {
	return os.WriteFile(req.OutputPath, []byte("artifact"), 0o644)
}

func TestProcessJobCompletes(t *testing.T) {
	reg := newFakeRegistry(queuedJob())
	sp := sourcedStore()
	eng := &fakeEngine{render: func(ctx context.Context, req render.Request) error {
		return writeArtifact(req)
	}}
	p, workRoot := newTestProcessor(t, reg, sp, eng)

	if err := p.ProcessJob(context.Background(), "job_1"); err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}

	job := reg.jobs["job_1"]
	if job.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}
	if job.OutputKey != "jobs/job_1/output.mp4" {
		t.Errorf("output key = %q", job.OutputKey)
	}
	if got := sp.objects["jobs/job_1/output.mp4"]; string(got) != "artifact" {
		t.Errorf("stored artifact = %q", got)
	}
	if _, err := os.Stat(filepath.Join(workRoot, "jobs", "job_1")); !os.IsNotExist(err) {
		t.Error("scratch directory should be removed")
	}
}

func TestProcessJobSkipsLostClaim(t *testing.T) {
	job := queuedJob()
	job.Status = models.StatusRendering
	job.Progress = 40
	reg := newFakeRegistry(job)
	p, _ := newTestProcessor(t, reg, newFakeStore(), &fakeEngine{})

	if err := p.ProcessJob(context.Background(), "job_1"); err != nil {
		t.Fatalf("a lost claim should not be an error: %v", err)
	}

	if reg.gets != 0 {
		t.Error("a lost claim should stop before loading the job")
	}
	if got := reg.jobs["job_1"]; got.Status != models.StatusRendering || got.Progress != 40 {
		t.Errorf("job changed: status=%s progress=%d", got.Status, got.Progress)
	}
}

func TestProcessJobLeavesTerminalJobAlone(t *testing.T) {
	// A duplicate queue delivery after completion must drop without
	// touching the row.
	job := queuedJob()
	job.Status = models.StatusCompleted
	job.Progress = 100
	job.OutputKey = "jobs/job_1/output.mp4"
	reg := newFakeRegistry(job)
	p, _ := newTestProcessor(t, reg, newFakeStore(), &fakeEngine{})

	if err := p.ProcessJob(context.Background(), "job_1"); err != nil {
		t.Fatalf("a terminal job should not be an error: %v", err)
	}

	got := reg.jobs["job_1"]
	if got.Status != models.StatusCompleted || got.Progress != 100 || got.Error != "" {
		t.Errorf("terminal job changed: status=%s progress=%d error=%q", got.Status, got.Progress, got.Error)
	}
}

func TestProcessJobRecordsEngineFailure(t *testing.T) {
	reg := newFakeRegistry(queuedJob())
	eng := &fakeEngine{render: func(ctx context.Context, req render.Request) error {
		return errors.RenderFailure("ffmpeg exited: exit status 1\n[vf#0] boom")
	}}
	p, workRoot := newTestProcessor(t, reg, sourcedStore(), eng)

	if err := p.ProcessJob(context.Background(), "job_1"); err == nil {
		t.Fatal("expected the render error back")
	}

	job := reg.jobs["job_1"]
	if job.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.Error, "ffmpeg exited") {
		t.Errorf("cause = %q, want the engine diagnostic", job.Error)
	}
	if _, err := os.Stat(filepath.Join(workRoot, "jobs", "job_1")); !os.IsNotExist(err) {
		t.Error("scratch directory should be removed")
	}
}

func TestProcessJobFailsOnMissingArtifact(t *testing.T) {
	reg := newFakeRegistry(queuedJob())
	eng := &fakeEngine{render: func(ctx context.Context, req render.Request) error {
		return nil
	}}
	p, _ := newTestProcessor(t, reg, sourcedStore(), eng)

	if err := p.ProcessJob(context.Background(), "job_1"); err == nil {
		t.Fatal("expected a failure for the missing artifact")
	}

	job := reg.jobs["job_1"]
	if job.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.Error, "no artifact") {
		t.Errorf("cause = %q", job.Error)
	}
}

func TestProcessJobCompletionSurvivesShutdown(t *testing.T) {
	// The engine exits cleanly just as the worker's context is
	// cancelled. Publishing and the completed write must still land.
	reg := newFakeRegistry(queuedJob())
	sp := sourcedStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng := &fakeEngine{render: func(rctx context.Context, req render.Request) error {
		cancel()
		return writeArtifact(req)
	}}
	p, _ := newTestProcessor(t, reg, sp, eng)

	if err := p.ProcessJob(ctx, "job_1"); err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}

	for _, err := range sp.putCtx {
		if err != nil {
			t.Error("artifact upload ran on a cancelled context")
		}
	}
	for _, err := range reg.completedCtx {
		if err != nil {
			t.Error("completed write ran on a cancelled context")
		}
	}
	if got := reg.jobs["job_1"]; got.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestProcessJobHonorsCancelRequest(t *testing.T) {
	job := queuedJob()
	job.CancelRequested = true
	reg := newFakeRegistry(job)
	eng := &fakeEngine{render: func(ctx context.Context, req render.Request) error {
		if req.OnProgress(50) {
			return errors.RenderFailure("ffmpeg exited: signal: interrupt")
		}
		return writeArtifact(req)
	}}
	p, _ := newTestProcessor(t, reg, sourcedStore(), eng)

	if err := p.ProcessJob(context.Background(), "job_1"); err != nil {
		t.Fatalf("a client cancellation should not be an error: %v", err)
	}

	got := reg.jobs["job_1"]
	if got.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Error != "cancelled by client" {
		t.Errorf("cause = %q", got.Error)
	}
}

func TestProcessJobCancelLandsWithoutProgressAdvance(t *testing.T) {
	// ffmpeg keeps emitting status lines at the same percentage near the
	// end of an encode; the cancel flag must still come back through one
	// of those repeated reports.
	reg := newFakeRegistry(queuedJob())
	reg.cancelOnCall = 3
	eng := &fakeEngine{render: func(ctx context.Context, req render.Request) error {
		for i := 0; i < 10; i++ {
			if req.OnProgress(42) {
				return errors.RenderFailure("ffmpeg exited: signal: interrupt")
			}
		}
		return writeArtifact(req)
	}}
	p, _ := newTestProcessor(t, reg, sourcedStore(), eng)

	if err := p.ProcessJob(context.Background(), "job_1"); err != nil {
		t.Fatalf("a client cancellation should not be an error: %v", err)
	}

	if reg.updateCalls != 3 {
		t.Errorf("progress writes = %d, want 3", reg.updateCalls)
	}
	got := reg.jobs["job_1"]
	if got.Status != models.StatusFailed || got.Error != "cancelled by client" {
		t.Errorf("job = %s %q, want failed, cancelled by client", got.Status, got.Error)
	}
}
