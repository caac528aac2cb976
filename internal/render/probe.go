package render

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"montage/internal/pkg/errors"
)

// Metadata is the probed geometry of a base video. The planner needs it
// to turn normalized overlay geometry into pixels, and the progress
// parser needs the duration to turn elapsed time into a percentage.
type Metadata struct {
	DurationSec float64
	Width       int
	Height      int
}

// Prober wraps ffprobe. Probing happens once, at submission, so a bad
// upload is rejected before a job exists.
type Prober struct {
	path    string
	timeout time.Duration
}

func NewProber(path string, timeout time.Duration) *Prober {
	return &Prober{path: path, timeout: timeout}
}

func (p *Prober) Probe(ctx context.Context, mediaPath string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	durOut, err := p.run(ctx,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		mediaPath,
	)
	if err != nil {
		return Metadata{}, err
	}
	duration, err := parseProbeDuration(durOut)
	if err != nil {
		return Metadata{}, err
	}

	dimOut, err := p.run(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		mediaPath,
	)
	if err != nil {
		return Metadata{}, err
	}
	width, height, err := parseProbeDimensions(dimOut)
	if err != nil {
		return Metadata{}, err
	}

	return Metadata{DurationSec: duration, Width: width, Height: height}, nil
}

func (p *Prober) run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, p.path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// ffprobe rejected the media; the upload is the problem.
			return "", errors.New(errors.CodeBadRequest, "media not decodable").
				WithField("probe_error", firstLine(stderr.String()))
		}
		return "", errors.Wrap(err, "render.probe", "ffprobe failed to run")
	}
	return stdout.String(), nil
}

func parseProbeDuration(out string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil || v <= 0 {
		return 0, errors.New(errors.CodeBadRequest, "could not determine video duration")
	}
	return v, nil
}

func parseProbeDimensions(out string) (int, int, error) {
	parts := strings.Split(firstLine(out), "x")
	if len(parts) < 2 {
		return 0, 0, errors.New(errors.CodeBadRequest, "could not determine video dimensions")
	}

	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, errors.New(errors.CodeBadRequest, "could not determine video dimensions")
	}
	return w, h, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return s
}
