// Package render shells out to ffmpeg and ffprobe. It owns the argument
// construction for a composition plan, media probing, stderr progress
// parsing and process supervision. It knows nothing about jobs, storage
// or queues; the worker wires those around it.
package render

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"montage/internal/pkg/errors"
	"montage/internal/pkg/logger"
	"montage/internal/planner"
)

// Request bundles everything one render run needs. All paths are inside
// the job's scratch directory and already materialized.
type Request struct {
	SourcePath  string
	OutputPath  string
	WorkDir     string
	DurationSec float64
	Plan        *planner.Plan
	// InputPaths maps staged asset ids to their materialized files.
	InputPaths map[string]string
	// OnProgress receives the current percentage for every parsed status
	// line, whether or not it advanced. A true return stops the process.
	// Nil disables reporting.
	OnProgress func(pct int) (stop bool)
}

// Engine runs a composition plan to completion.
type Engine interface {
	Render(ctx context.Context, req Request) error
}

// FFmpegOptions configures the ffmpeg engine.
type FFmpegOptions struct {
	Path string
	// KillGrace is how long a signalled process gets to exit before it
	// is killed.
	KillGrace time.Duration
	// TailLines bounds the stderr diagnostics kept for failure reports.
	TailLines int
}

// FFmpeg is the subprocess-backed engine. Safe for concurrent use; every
// call supervises its own process.
type FFmpeg struct {
	path      string
	killGrace time.Duration
	tailLines int
	log       *logger.Logger
}

func NewFFmpeg(opts FFmpegOptions, log *logger.Logger) *FFmpeg {
	return &FFmpeg{
		path:      opts.Path,
		killGrace: opts.KillGrace,
		tailLines: opts.TailLines,
		log:       log.WithComponent("render.engine"),
	}
}

func (f *FFmpeg) Render(ctx context.Context, req Request) error {
	args, err := BuildArgs(req)
	if err != nil {
		return err
	}

	log := f.log.FromContext(ctx)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	cmd := exec.CommandContext(runCtx, f.path, args...)
	cmd.Dir = req.WorkDir
	// ffmpeg finalizes its output on the first interrupt; WaitDelay
	// escalates to a kill if it ignores the signal.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = f.killGrace

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "render.engine", "stderr pipe")
	}

	log.Debug("starting ffmpeg", "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "render.engine", "ffmpeg failed to start")
	}

	tail := &tailBuffer{max: f.tailLines}
	progress := NewProgress(req.DurationSec)

	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanLinesWithCR)
	for scanner.Scan() {
		line := scanner.Text()
		if pct, ok := progress.Observe(line); ok {
			// Every status line reports, so a cancel request still lands
			// when the percentage has stopped moving.
			if req.OnProgress != nil && req.OnProgress(pct) {
				stop()
			}
			continue
		}
		tail.append(line)
	}
	if err := scanner.Err(); err != nil {
		log.Debug("stderr scan ended", "error", err)
	}

	if err := cmd.Wait(); err != nil {
		if diag := tail.join(); diag != "" {
			return errors.RenderFailure(fmt.Sprintf("ffmpeg exited: %v\n%s", err, diag))
		}
		return errors.RenderFailure(fmt.Sprintf("ffmpeg exited: %v", err))
	}
	return nil
}

// tailBuffer keeps the last max non-empty lines.
type tailBuffer struct {
	max   int
	lines []string
}

func (t *tailBuffer) append(line string) {
	line = strings.TrimSpace(line)
	if line == "" || t.max <= 0 {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[1:]
	}
}

func (t *tailBuffer) join() string {
	return strings.Join(t.lines, "\n")
}

// scanLinesWithCR splits on \n or \r. ffmpeg rewrites its status line in
// place with bare carriage returns, so the standard line splitter would
// buffer the whole stream until exit.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
			advance++
		}
		return advance, data[0:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
