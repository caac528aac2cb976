// Package planner turns a submitted overlay list into a concrete render
// plan against the probed base video geometry. Every rule that can reject
// a submission lives here, so validation runs before any job exists and
// the worker can re-run the same code against the stored metadata.
package planner

import (
	"strings"

	"montage/internal/models"
	"montage/internal/pkg/errors"
)

const (
	// Text overlays without an explicit height use this fraction of the
	// frame height to derive the font size.
	defaultTextHeightFrac = 0.2

	// Font size floor in pixels.
	minFontSize = 16

	// Slack when comparing overlay end times against the probed duration,
	// which is itself a float parsed from ffprobe output.
	timeTolerance = 0.001
)

// Step is one composition operation. Geometry is absolute pixels derived
// from the base frame. Width/Height for image and video steps: > 0 means
// scale to that many pixels (already rounded down to even), 0 means keep
// the intrinsic size, -2 means derive from the other axis preserving
// aspect ratio.
type Step struct {
	Kind     string
	Text     string
	AssetID  string
	X        int
	Y        int
	Width    int
	Height   int
	FontSize int
	StartSec float64
	EndSec   float64
	Opacity  float64
}

// Plan is the ordered list of composition steps for one job. Order is
// stacking order: later steps render on top of earlier ones and the base
// video. The planner never reorders.
type Plan struct {
	Steps []Step
}

// AssetIDs returns the staged asset ids the plan depends on, in step
// order, without duplicates.
func (p *Plan) AssetIDs() []string {
	seen := make(map[string]struct{}, len(p.Steps))
	var out []string
	for _, s := range p.Steps {
		if s.AssetID == "" {
			continue
		}
		if _, ok := seen[s.AssetID]; ok {
			continue
		}
		seen[s.AssetID] = struct{}{}
		out = append(out, s.AssetID)
	}
	return out
}

// Build validates the overlay list against the base video metadata and
// the set of known staged asset ids, and produces the plan. The first
// invalid overlay aborts with an INVALID_OVERLAY error carrying its list
// index.
func Build(durationSec float64, width, height int, overlays []models.Overlay, stagedAssets map[string]struct{}) (*Plan, error) {
	plan := &Plan{Steps: make([]Step, 0, len(overlays))}

	for i, ov := range overlays {
		if err := validate(i, ov, durationSec, stagedAssets); err != nil {
			return nil, err
		}

		step := Step{
			Kind:     ov.Type,
			X:        int(ov.X * float64(width)),
			Y:        int(ov.Y * float64(height)),
			StartSec: ov.StartTime,
			EndSec:   ov.EndTime,
			Opacity:  1.0,
		}
		if ov.Opacity != nil {
			step.Opacity = *ov.Opacity
		}

		switch ov.Type {
		case models.OverlayText:
			step.Text = ov.Content
			frac := ov.Height
			if frac <= 0 {
				frac = defaultTextHeightFrac
			}
			step.FontSize = max(minFontSize, int(frac*float64(height)))

		case models.OverlayImage, models.OverlayVideo:
			step.AssetID = ov.Content
			step.Width, step.Height = pixelSize(ov.Width, ov.Height, width, height)
		}

		plan.Steps = append(plan.Steps, step)
	}

	return plan, nil
}

func validate(i int, ov models.Overlay, durationSec float64, stagedAssets map[string]struct{}) error {
	switch ov.Type {
	case models.OverlayText:
		if strings.TrimSpace(ov.Content) == "" {
			return errors.InvalidOverlay(i, "text overlay requires content")
		}
	case models.OverlayImage, models.OverlayVideo:
		if _, ok := stagedAssets[ov.Content]; !ok {
			return errors.InvalidOverlay(i, "content does not reference a staged asset").
				WithField("content", ov.Content)
		}
	default:
		return errors.InvalidOverlay(i, "type must be text, image or video").
			WithField("type", ov.Type)
	}

	if ov.StartTime < 0 {
		return errors.InvalidOverlay(i, "start_time must not be negative")
	}
	if ov.EndTime <= ov.StartTime {
		return errors.InvalidOverlay(i, "end_time must be greater than start_time")
	}
	if ov.EndTime > durationSec+timeTolerance {
		return errors.InvalidOverlay(i, "end_time exceeds the base video duration").
			WithField("duration_sec", durationSec)
	}

	if ov.X < 0 || ov.X > 1 || ov.Y < 0 || ov.Y > 1 {
		return errors.InvalidOverlay(i, "x and y must be fractions in [0,1]")
	}
	if ov.Width < 0 || ov.Width > 1 || ov.Height < 0 || ov.Height > 1 {
		return errors.InvalidOverlay(i, "width and height must be fractions in [0,1]")
	}
	if ov.Opacity != nil && (*ov.Opacity <= 0 || *ov.Opacity > 1) {
		return errors.InvalidOverlay(i, "opacity must be in (0,1]")
	}

	return nil
}

// pixelSize converts normalized target dimensions to pixels. Encoders
// reject odd dimensions, so positive sizes round down to even. A missing
// axis stays aspect-preserving (-2) when the other is given, and both
// missing means the asset keeps its intrinsic size.
func pixelSize(wFrac, hFrac float64, frameW, frameH int) (int, int) {
	if wFrac <= 0 && hFrac <= 0 {
		return 0, 0
	}

	w, h := -2, -2
	if wFrac > 0 {
		w = evenDown(int(wFrac * float64(frameW)))
	}
	if hFrac > 0 {
		h = evenDown(int(hFrac * float64(frameH)))
	}
	return w, h
}

func evenDown(v int) int {
	if v%2 != 0 {
		v--
	}
	return v
}
