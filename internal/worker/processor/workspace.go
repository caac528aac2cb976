package processor

import (
	"os"
	"path/filepath"
)

// Workspace lays out the per-job scratch directories under the worker's
// work root:
//
//	<root>/jobs/<job_id>/source.<ext>  materialized base video
//	<root>/jobs/<job_id>/inputs/       materialized overlay assets
//	<root>/jobs/<job_id>/output.mp4    render artifact before publishing
type Workspace struct {
	root string
}

func NewWorkspace(root string) *Workspace {
	return &Workspace{root: root}
}

func (w *Workspace) JobDir(jobID string) string {
	return filepath.Join(w.root, "jobs", jobID)
}

func (w *Workspace) OutputPath(jobID string) string {
	return filepath.Join(w.JobDir(jobID), "output.mp4")
}

// Prepare creates the scratch directories for one job.
func (w *Workspace) Prepare(jobID string) (string, error) {
	dir := w.JobDir(jobID)
	if err := os.MkdirAll(filepath.Join(dir, "inputs"), 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Cleanup removes the job's scratch directory. Removing a directory that
// never existed is not an error.
func (w *Workspace) Cleanup(jobID string) error {
	return os.RemoveAll(w.JobDir(jobID))
}
