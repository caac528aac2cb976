package planner

import (
	"testing"

	"montage/internal/models"
	"montage/internal/pkg/errors"
)

func staged(ids ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func floatPtr(v float64) *float64 { return &v }

func TestBuildPreservesOrder(t *testing.T) {
	overlays := []models.Overlay{
		{Type: "text", Content: "first", StartTime: 0, EndTime: 1},
		{Type: "image", Content: "ast_a", StartTime: 0, EndTime: 1, Width: 0.5, Height: 0.5},
		{Type: "text", Content: "second", StartTime: 2, EndTime: 3},
		{Type: "video", Content: "ast_b", StartTime: 1, EndTime: 4},
	}

	plan, err := Build(10, 1920, 1080, overlays, staged("ast_a", "ast_b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(plan.Steps))
	}

	// Stacking order must be list order, never sorted by type or time.
	wantKinds := []string{"text", "image", "text", "video"}
	for i, kind := range wantKinds {
		if plan.Steps[i].Kind != kind {
			t.Errorf("step %d: expected kind %q, got %q", i, kind, plan.Steps[i].Kind)
		}
	}
	if plan.Steps[0].Text != "first" || plan.Steps[2].Text != "second" {
		t.Errorf("text content not preserved in order: %q, %q", plan.Steps[0].Text, plan.Steps[2].Text)
	}
}

func TestBuildTextStep(t *testing.T) {
	tests := []struct {
		name         string
		overlay      models.Overlay
		frameW       int
		frameH       int
		wantX        int
		wantY        int
		wantFontSize int
	}{
		{
			name:         "explicit height drives font size",
			overlay:      models.Overlay{Type: "text", Content: "hi", StartTime: 0, EndTime: 5, X: 0.1, Y: 0.25, Height: 0.1},
			frameW:       1920,
			frameH:       1080,
			wantX:        192,
			wantY:        270,
			wantFontSize: 108,
		},
		{
			name:         "missing height falls back to default fraction",
			overlay:      models.Overlay{Type: "text", Content: "hi", StartTime: 0, EndTime: 5},
			frameW:       1920,
			frameH:       1080,
			wantX:        0,
			wantY:        0,
			wantFontSize: 216,
		},
		{
			name:         "tiny frame clamps to minimum font size",
			overlay:      models.Overlay{Type: "text", Content: "hi", StartTime: 0, EndTime: 5, Height: 0.1},
			frameW:       160,
			frameH:       120,
			wantFontSize: 16,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Build(10, tt.frameW, tt.frameH, []models.Overlay{tt.overlay}, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			step := plan.Steps[0]
			if step.X != tt.wantX || step.Y != tt.wantY {
				t.Errorf("expected position (%d,%d), got (%d,%d)", tt.wantX, tt.wantY, step.X, step.Y)
			}
			if step.FontSize != tt.wantFontSize {
				t.Errorf("expected font size %d, got %d", tt.wantFontSize, step.FontSize)
			}
		})
	}
}

func TestBuildImageGeometry(t *testing.T) {
	tests := []struct {
		name       string
		overlay    models.Overlay
		wantWidth  int
		wantHeight int
	}{
		{
			name:       "scaled to even pixels",
			overlay:    models.Overlay{Type: "image", Content: "ast_a", StartTime: 0, EndTime: 5, Width: 0.3, Height: 0.2},
			wantWidth:  576,
			wantHeight: 216,
		},
		{
			name:       "odd pixel counts round down",
			overlay:    models.Overlay{Type: "image", Content: "ast_a", StartTime: 0, EndTime: 5, Width: 0.333, Height: 0.333},
			wantWidth:  638, // 639 rounded down
			wantHeight: 358, // 359 rounded down
		},
		{
			name:       "no dimensions keeps intrinsic size",
			overlay:    models.Overlay{Type: "image", Content: "ast_a", StartTime: 0, EndTime: 5},
			wantWidth:  0,
			wantHeight: 0,
		},
		{
			name:       "single axis preserves aspect ratio",
			overlay:    models.Overlay{Type: "image", Content: "ast_a", StartTime: 0, EndTime: 5, Width: 0.5},
			wantWidth:  960,
			wantHeight: -2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Build(10, 1920, 1080, []models.Overlay{tt.overlay}, staged("ast_a"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			step := plan.Steps[0]
			if step.Width != tt.wantWidth || step.Height != tt.wantHeight {
				t.Errorf("expected %dx%d, got %dx%d", tt.wantWidth, tt.wantHeight, step.Width, step.Height)
			}
			if step.AssetID != "ast_a" {
				t.Errorf("expected asset id ast_a, got %q", step.AssetID)
			}
		})
	}
}

func TestBuildOpacity(t *testing.T) {
	overlays := []models.Overlay{
		{Type: "text", Content: "hi", StartTime: 0, EndTime: 5},
		{Type: "text", Content: "hi", StartTime: 0, EndTime: 5, Opacity: floatPtr(0.5)},
	}

	plan, err := Build(10, 1920, 1080, overlays, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Steps[0].Opacity != 1.0 {
		t.Errorf("expected default opacity 1.0, got %v", plan.Steps[0].Opacity)
	}
	if plan.Steps[1].Opacity != 0.5 {
		t.Errorf("expected opacity 0.5, got %v", plan.Steps[1].Opacity)
	}
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name    string
		overlay models.Overlay
	}{
		{
			name:    "unknown type",
			overlay: models.Overlay{Type: "gif", Content: "x", StartTime: 0, EndTime: 1},
		},
		{
			name:    "empty text content",
			overlay: models.Overlay{Type: "text", Content: "   ", StartTime: 0, EndTime: 1},
		},
		{
			name:    "negative start time",
			overlay: models.Overlay{Type: "text", Content: "hi", StartTime: -1, EndTime: 1},
		},
		{
			name:    "end before start",
			overlay: models.Overlay{Type: "text", Content: "hi", StartTime: 8, EndTime: 3},
		},
		{
			name:    "end equals start",
			overlay: models.Overlay{Type: "text", Content: "hi", StartTime: 3, EndTime: 3},
		},
		{
			name:    "end beyond duration",
			overlay: models.Overlay{Type: "text", Content: "hi", StartTime: 0, EndTime: 10.5},
		},
		{
			name:    "x out of range",
			overlay: models.Overlay{Type: "text", Content: "hi", StartTime: 0, EndTime: 1, X: 1.2},
		},
		{
			name:    "negative y",
			overlay: models.Overlay{Type: "text", Content: "hi", StartTime: 0, EndTime: 1, Y: -0.1},
		},
		{
			name:    "width out of range",
			overlay: models.Overlay{Type: "image", Content: "ast_a", StartTime: 0, EndTime: 1, Width: 1.5},
		},
		{
			name:    "zero opacity",
			overlay: models.Overlay{Type: "text", Content: "hi", StartTime: 0, EndTime: 1, Opacity: floatPtr(0)},
		},
		{
			name:    "opacity above one",
			overlay: models.Overlay{Type: "text", Content: "hi", StartTime: 0, EndTime: 1, Opacity: floatPtr(1.1)},
		},
		{
			name:    "unstaged asset reference",
			overlay: models.Overlay{Type: "image", Content: "ast_missing", StartTime: 0, EndTime: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The invalid overlay sits at index 1 behind a valid one, so
			// the reported index can be checked.
			overlays := []models.Overlay{
				{Type: "text", Content: "ok", StartTime: 0, EndTime: 1},
				tt.overlay,
			}

			plan, err := Build(10, 1920, 1080, overlays, staged("ast_a"))
			if err == nil {
				t.Fatalf("expected error, got plan with %d steps", len(plan.Steps))
			}
			if !errors.IsInvalidOverlay(err) {
				t.Errorf("expected INVALID_OVERLAY, got %v", errors.GetCode(err))
			}
			fields := errors.GetFields(err)
			if idx, ok := fields["overlay_index"]; !ok || idx != 1 {
				t.Errorf("expected overlay_index 1, got %v", idx)
			}
		})
	}
}

func TestBuildDurationTolerance(t *testing.T) {
	// ffprobe durations are floats; an end time equal to the duration
	// within the tolerance must pass.
	overlays := []models.Overlay{
		{Type: "text", Content: "hi", StartTime: 0, EndTime: 10.0005},
	}
	if _, err := Build(10, 1920, 1080, overlays, nil); err != nil {
		t.Fatalf("expected tolerance to absorb float noise, got %v", err)
	}
}

func TestBuildEmptyList(t *testing.T) {
	plan, err := Build(10, 1920, 1080, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Steps) != 0 {
		t.Errorf("expected empty plan, got %d steps", len(plan.Steps))
	}
}

func TestAssetIDs(t *testing.T) {
	overlays := []models.Overlay{
		{Type: "image", Content: "ast_a", StartTime: 0, EndTime: 1},
		{Type: "text", Content: "hi", StartTime: 0, EndTime: 1},
		{Type: "video", Content: "ast_b", StartTime: 0, EndTime: 1},
		{Type: "image", Content: "ast_a", StartTime: 1, EndTime: 2},
	}

	plan, err := Build(10, 1920, 1080, overlays, staged("ast_a", "ast_b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids := plan.AssetIDs()
	if len(ids) != 2 || ids[0] != "ast_a" || ids[1] != "ast_b" {
		t.Errorf("expected [ast_a ast_b], got %v", ids)
	}
}
