package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"montage/internal/httpkit"
	"montage/internal/models"
	"montage/internal/pkg/errors"
)

// JobRepository is the durable job registry. Every status transition is
// guarded in SQL so the queued -> rendering -> completed|failed order can
// never run backwards, whatever the callers do.
type JobRepository struct {
	db *pgxpool.Pool
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

// Create persists a new job in queued state. The row is durable before
// submission is acknowledged to the client.
func (r *JobRepository) Create(ctx context.Context, j *models.Job) error {
	overlaysJSON, err := json.Marshal(j.Overlays)
	if err != nil {
		return errors.Wrap(err, "jobs.create", "marshal overlays")
	}

	now := time.Now().UTC()
	j.Status = models.StatusQueued
	j.Progress = 0
	j.CreatedAt = now
	j.UpdatedAt = now

	_, err = r.db.Exec(ctx, `
		INSERT INTO jobs (id, status, progress, source_key, overlays,
		                  duration_sec, width, height, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5::jsonb,$6,$7,$8,$9,$10)
	`, j.ID, j.Status, j.Progress, j.SourceKey, overlaysJSON,
		j.DurationSec, j.Width, j.Height, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var (
		j            models.Job
		errText      *string
		outputKey    *string
		overlaysJSON []byte
	)

	err := r.db.QueryRow(ctx, `
		SELECT id, status, progress, error, source_key, output_key, overlays,
		       duration_sec, width, height, cancel_requested,
		       created_at, updated_at, started_at, finished_at
		FROM jobs
		WHERE id=$1
	`, id).Scan(
		&j.ID, &j.Status, &j.Progress, &errText, &j.SourceKey, &outputKey,
		&overlaysJSON, &j.DurationSec, &j.Width, &j.Height, &j.CancelRequested,
		&j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFound("job", id)
		}
		return nil, err
	}

	if errText != nil {
		j.Error = *errText
	}
	if outputKey != nil {
		j.OutputKey = *outputKey
	}
	if len(overlaysJSON) > 0 {
		if err := json.Unmarshal(overlaysJSON, &j.Overlays); err != nil {
			return nil, errors.Wrap(err, "jobs.get", "unmarshal overlays")
		}
	}
	return &j, nil
}

// List returns recent jobs, optionally filtered by status. Overlay lists
// are not loaded here; use Get for the full record.
func (r *JobRepository) List(ctx context.Context, status string, limit int) ([]models.Job, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if status != "" {
		rows, err = r.db.Query(ctx, `
			SELECT id, status, progress, error, duration_sec, width, height,
			       created_at, updated_at, started_at, finished_at
			FROM jobs
			WHERE status=$1
			ORDER BY created_at DESC
			LIMIT $2
		`, status, limit)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT id, status, progress, error, duration_sec, width, height,
			       created_at, updated_at, started_at, finished_at
			FROM jobs
			ORDER BY created_at DESC
			LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		var (
			j       models.Job
			errText *string
		)
		if err := rows.Scan(
			&j.ID, &j.Status, &j.Progress, &errText, &j.DurationSec,
			&j.Width, &j.Height, &j.CreatedAt, &j.UpdatedAt,
			&j.StartedAt, &j.FinishedAt,
		); err != nil {
			return nil, err
		}
		if errText != nil {
			j.Error = *errText
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// MarkRendering claims the job for rendering. The WHERE guard makes the
// claim atomic: exactly one caller can move a job out of queued.
func (r *JobRepository) MarkRendering(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE jobs
		SET status='rendering', started_at=now(), updated_at=now()
		WHERE id=$1 AND status='queued'
	`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = r.db.QueryRow(ctx, `SELECT status FROM jobs WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("job", id)
	}
	if err != nil {
		return err
	}
	if status == models.StatusRendering {
		return errors.AlreadyRendering(id)
	}
	return errors.Newf(errors.CodeConflict, "job %s already %s", id, status)
}

// UpdateProgress raises the job's progress, never lowers it (GREATEST
// absorbs noisy engine output), and reports back whether cancellation has
// been requested so the render loop can react without a second query.
// Only rendering jobs are touched.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, pct int) (cancelRequested bool, err error) {
	err = r.db.QueryRow(ctx, `
		UPDATE jobs
		SET progress=GREATEST(progress, $2), updated_at=now()
		WHERE id=$1 AND status='rendering'
		RETURNING cancel_requested
	`, id, pct).Scan(&cancelRequested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, errors.NotFound("job", id)
	}
	return cancelRequested, err
}

// MarkCompleted finishes the job: progress is forced to 100 in the same
// statement that flips the status, so a poller can never observe
// completed with progress below 100.
func (r *JobRepository) MarkCompleted(ctx context.Context, id string, outputKey string) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE jobs
		SET status='completed', progress=100, output_key=$2,
		    finished_at=now(), updated_at=now()
		WHERE id=$1 AND status='rendering'
	`, id, outputKey)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errors.Newf(errors.CodeConflict, "job %s is not rendering", id)
	}
	return nil
}

// MarkFailed records the failure cause in the job itself. Terminal jobs
// never move.
func (r *JobRepository) MarkFailed(ctx context.Context, id string, cause string) error {
	if len(cause) > 2000 {
		cause = cause[:2000]
	}

	cmd, err := r.db.Exec(ctx, `
		UPDATE jobs
		SET status='failed', error=$2, finished_at=now(), updated_at=now()
		WHERE id=$1 AND status IN ('queued','rendering')
	`, id, cause)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errors.Newf(errors.CodeConflict, "job %s is not active", id)
	}
	return nil
}

// RequestCancel cancels a queued job outright and flags a rendering job
// for the render loop to kill. Terminal jobs are returned unchanged.
func (r *JobRepository) RequestCancel(ctx context.Context, id string) (*models.Job, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE jobs
		SET status='failed', error='cancelled before start',
		    finished_at=now(), updated_at=now()
		WHERE id=$1 AND status='queued'
	`, id)
	if err != nil {
		return nil, err
	}

	if cmd.RowsAffected() == 0 {
		// Queued update missed: either rendering (flag it) or terminal.
		_, err = r.db.Exec(ctx, `
			UPDATE jobs
			SET cancel_requested=true, updated_at=now()
			WHERE id=$1 AND status='rendering'
		`, id)
		if err != nil {
			return nil, err
		}
	}

	return r.Get(ctx, id)
}

// FailOrphaned fails every rendering job. Renders do not survive the
// worker process, so at worker startup any rendering row has no live
// process behind it.
func (r *JobRepository) FailOrphaned(ctx context.Context, cause string) (int64, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE jobs
		SET status='failed', error=$1, finished_at=now(), updated_at=now()
		WHERE status='rendering'
	`, cause)
	if err != nil {
		// The worker can come up before the API has ever applied the schema.
		if httpkit.IsUndefinedTable(err) {
			return 0, errors.New(errors.CodeUnavailable,
				"jobs table does not exist; start the API once to apply migrations")
		}
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// ListReclaimable returns jobs untouched since the cutoff, any status,
// oldest first. The sweeper deletes their objects before the rows.
func (r *JobRepository) ListReclaimable(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, status, source_key, output_key
		FROM jobs
		WHERE updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		var (
			j         models.Job
			outputKey *string
		)
		if err := rows.Scan(&j.ID, &j.Status, &j.SourceKey, &outputKey); err != nil {
			return nil, err
		}
		if outputKey != nil {
			j.OutputKey = *outputKey
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM jobs WHERE id=$1`, id)
	return err
}
