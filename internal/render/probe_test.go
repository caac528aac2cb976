package render

import (
	"testing"

	"montage/internal/pkg/errors"
)

func TestParseProbeDuration(t *testing.T) {
	got, err := parseProbeDuration("12.345\n")
	if err != nil {
		t.Fatalf("parseProbeDuration: %v", err)
	}
	if got != 12.345 {
		t.Errorf("got %v, want 12.345", got)
	}

	for _, bad := range []string{"", "N/A", "0", "-3.5", "12,5"} {
		if _, err := parseProbeDuration(bad); err == nil {
			t.Errorf("parseProbeDuration(%q): want error", bad)
		} else if !errors.IsCode(err, errors.CodeBadRequest) {
			t.Errorf("parseProbeDuration(%q): code %s, want BAD_REQUEST", bad, errors.GetCode(err))
		}
	}
}

func TestParseProbeDimensions(t *testing.T) {
	w, h, err := parseProbeDimensions("1920x1080\n")
	if err != nil {
		t.Fatalf("parseProbeDimensions: %v", err)
	}
	if w != 1920 || h != 1080 {
		t.Errorf("got %dx%d, want 1920x1080", w, h)
	}

	// Audio-only media yields no video stream line.
	for _, bad := range []string{"", "1920", "0x0", "ax b", "1920x"} {
		if _, _, err := parseProbeDimensions(bad); err == nil {
			t.Errorf("parseProbeDimensions(%q): want error", bad)
		}
	}
}
