package render

import (
	"fmt"
	"strings"

	"montage/internal/models"
	"montage/internal/pkg/errors"
	"montage/internal/planner"
)

// drawtext runs inside a quoted filter option, so literal quotes and the
// option separator must be escaped.
var drawtextEscaper = strings.NewReplacer("'", `'\''`, ":", `\:`)

// BuildArgs translates a composition plan into the ffmpeg argument list.
// The base video is input 0; each image and video step appends one more
// input in plan order. The filter graph chains labels [0:v] -> [v1] ->
// ... -> [vN], one label per step, and the last label is mapped as the
// output video. Audio is passed through from the base when present.
func BuildArgs(req Request) ([]string, error) {
	args := []string{"-y", "-i", req.SourcePath}

	var (
		filters  []string
		last     = "[0:v]"
		inputIdx = 0
	)

	for i, step := range req.Plan.Steps {
		out := fmt.Sprintf("[v%d]", i+1)

		switch step.Kind {
		case models.OverlayText:
			filters = append(filters, last+drawtextFilter(step)+out)

		case models.OverlayImage, models.OverlayVideo:
			path, ok := req.InputPaths[step.AssetID]
			if !ok {
				return nil, errors.Internalf("no materialized input for asset %s", step.AssetID)
			}
			args = append(args, "-i", path)
			inputIdx++

			overlayIn := fmt.Sprintf("[%d:v]", inputIdx)
			if chain := overlayPreFilter(step); chain != "" {
				scaled := fmt.Sprintf("[sc%d]", i)
				filters = append(filters, overlayIn+chain+scaled)
				overlayIn = scaled
			}
			filters = append(filters, last+overlayIn+overlayFilter(step)+out)

		default:
			return nil, errors.Internalf("unknown step kind %q", step.Kind)
		}
		last = out
	}

	// With no steps the graph still has to consume [0:v], otherwise the
	// -map below would reference a stream the filter graph swallowed.
	if len(filters) == 0 {
		filters = append(filters, "[0:v]null[v1]")
		last = "[v1]"
	}

	args = append(args,
		"-filter_complex", strings.Join(filters, ";"),
		"-map", last,
		"-map", "0:a?",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-c:a", "aac",
		req.OutputPath,
	)
	return args, nil
}

func drawtextFilter(step planner.Step) string {
	color := "white"
	if step.Opacity < 1 {
		color = fmt.Sprintf("white@%g", step.Opacity)
	}
	return fmt.Sprintf("drawtext=text='%s':fontcolor=%s:fontsize=%d:x=%d:y=%d:enable='between(t,%g,%g)'",
		drawtextEscaper.Replace(step.Text), color, step.FontSize, step.X, step.Y, step.StartSec, step.EndSec)
}

// overlayPreFilter builds the per-input filter chain that runs before the
// overlay itself: a scale when the step has explicit geometry, and an
// alpha multiply when it is translucent. Empty means the input is used
// as-is.
func overlayPreFilter(step planner.Step) string {
	var parts []string
	if step.Width != 0 || step.Height != 0 {
		parts = append(parts, fmt.Sprintf("scale=%d:%d", step.Width, step.Height))
	}
	if step.Opacity < 1 {
		parts = append(parts, fmt.Sprintf("format=rgba,colorchannelmixer=aa=%g", step.Opacity))
	}
	return strings.Join(parts, ",")
}

func overlayFilter(step planner.Step) string {
	return fmt.Sprintf("overlay=%d:%d:enable='between(t,%g,%g)'", step.X, step.Y, step.StartSec, step.EndSec)
}
