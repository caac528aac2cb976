package render

import (
	"reflect"
	"strings"
	"testing"

	"montage/internal/models"
	"montage/internal/planner"
)

// filterComplex extracts the -filter_complex value from an argument list.
func filterComplex(t *testing.T, args []string) string {
	t.Helper()
	for i, a := range args {
		if a == "-filter_complex" && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatalf("no -filter_complex in %q", args)
	return ""
}

func TestBuildArgsTextOnly(t *testing.T) {
	req := Request{
		SourcePath: "/work/source.mp4",
		OutputPath: "/work/output.mp4",
		Plan: &planner.Plan{Steps: []planner.Step{
			{Kind: models.OverlayText, Text: "Hello", FontSize: 216, X: 192, Y: 108, StartSec: 0, EndSec: 5, Opacity: 1},
		}},
	}

	got, err := BuildArgs(req)
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}

	want := []string{
		"-y", "-i", "/work/source.mp4",
		"-filter_complex", "[0:v]drawtext=text='Hello':fontcolor=white:fontsize=216:x=192:y=108:enable='between(t,0,5)'[v1]",
		"-map", "[v1]",
		"-map", "0:a?",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-c:a", "aac",
		"/work/output.mp4",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("args mismatch\n got %q\nwant %q", got, want)
	}
}

func TestBuildArgsEmptyPlan(t *testing.T) {
	req := Request{
		SourcePath: "/work/source.mp4",
		OutputPath: "/work/output.mp4",
		Plan:       &planner.Plan{},
	}

	got, err := BuildArgs(req)
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}

	want := []string{
		"-y", "-i", "/work/source.mp4",
		"-filter_complex", "[0:v]null[v1]",
		"-map", "[v1]",
		"-map", "0:a?",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-c:a", "aac",
		"/work/output.mp4",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("args mismatch\n got %q\nwant %q", got, want)
	}
}

func TestBuildArgsOverlayChain(t *testing.T) {
	req := Request{
		SourcePath: "/work/source.mp4",
		OutputPath: "/work/output.mp4",
		Plan: &planner.Plan{Steps: []planner.Step{
			{Kind: models.OverlayImage, AssetID: "ast_1", X: 192, Y: 108, Width: 576, Height: 216, StartSec: 1.5, EndSec: 4, Opacity: 1},
			{Kind: models.OverlayText, Text: "Hi", FontSize: 54, X: 0, Y: 0, StartSec: 0, EndSec: 2, Opacity: 1},
			{Kind: models.OverlayVideo, AssetID: "ast_2", X: 0, Y: 0, Width: 960, Height: -2, StartSec: 2, EndSec: 9.5, Opacity: 0.5},
		}},
		InputPaths: map[string]string{
			"ast_1": "/work/inputs/ast_1.png",
			"ast_2": "/work/inputs/ast_2.mp4",
		},
	}

	got, err := BuildArgs(req)
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}

	// Inputs appear in plan order after the base video.
	wantPrefix := []string{"-y", "-i", "/work/source.mp4", "-i", "/work/inputs/ast_1.png", "-i", "/work/inputs/ast_2.mp4"}
	if !reflect.DeepEqual(got[:len(wantPrefix)], wantPrefix) {
		t.Errorf("input ordering mismatch\n got %q\nwant %q", got[:len(wantPrefix)], wantPrefix)
	}

	wantFC := strings.Join([]string{
		"[1:v]scale=576:216[sc0]",
		"[0:v][sc0]overlay=192:108:enable='between(t,1.5,4)'[v1]",
		"[v1]drawtext=text='Hi':fontcolor=white:fontsize=54:x=0:y=0:enable='between(t,0,2)'[v2]",
		"[2:v]scale=960:-2,format=rgba,colorchannelmixer=aa=0.5[sc2]",
		"[v2][sc2]overlay=0:0:enable='between(t,2,9.5)'[v3]",
	}, ";")
	if fc := filterComplex(t, got); fc != wantFC {
		t.Errorf("filter graph mismatch\n got %s\nwant %s", fc, wantFC)
	}

	// The last chain label is the mapped output.
	for i, a := range got {
		if a == "-map" {
			if got[i+1] != "[v3]" {
				t.Errorf("mapped %s, want [v3]", got[i+1])
			}
			break
		}
	}
}

func TestBuildArgsIntrinsicOverlay(t *testing.T) {
	req := Request{
		SourcePath: "/work/source.mp4",
		OutputPath: "/work/output.mp4",
		Plan: &planner.Plan{Steps: []planner.Step{
			{Kind: models.OverlayImage, AssetID: "ast_1", X: 10, Y: 20, StartSec: 0, EndSec: 3, Opacity: 1},
		}},
		InputPaths: map[string]string{"ast_1": "/work/inputs/ast_1.png"},
	}

	got, err := BuildArgs(req)
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}

	want := "[0:v][1:v]overlay=10:20:enable='between(t,0,3)'[v1]"
	if fc := filterComplex(t, got); fc != want {
		t.Errorf("filter graph mismatch\n got %s\nwant %s", fc, want)
	}
}

func TestBuildArgsTranslucentIntrinsicOverlay(t *testing.T) {
	req := Request{
		SourcePath: "/work/source.mp4",
		OutputPath: "/work/output.mp4",
		Plan: &planner.Plan{Steps: []planner.Step{
			{Kind: models.OverlayImage, AssetID: "ast_1", X: 10, Y: 20, StartSec: 0, EndSec: 3, Opacity: 0.35},
		}},
		InputPaths: map[string]string{"ast_1": "/work/inputs/ast_1.png"},
	}

	got, err := BuildArgs(req)
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}

	wantFC := "[1:v]format=rgba,colorchannelmixer=aa=0.35[sc0];[0:v][sc0]overlay=10:20:enable='between(t,0,3)'[v1]"
	if fc := filterComplex(t, got); fc != wantFC {
		t.Errorf("filter graph mismatch\n got %s\nwant %s", fc, wantFC)
	}
}

func TestBuildArgsEscapesDrawtext(t *testing.T) {
	req := Request{
		SourcePath: "/work/source.mp4",
		OutputPath: "/work/output.mp4",
		Plan: &planner.Plan{Steps: []planner.Step{
			{Kind: models.OverlayText, Text: "it's 5:00", FontSize: 16, X: 0, Y: 0, StartSec: 0, EndSec: 1, Opacity: 1},
		}},
	}

	got, err := BuildArgs(req)
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}

	want := `[0:v]drawtext=text='it'\''s 5\:00':fontcolor=white:fontsize=16:x=0:y=0:enable='between(t,0,1)'[v1]`
	if fc := filterComplex(t, got); fc != want {
		t.Errorf("escaping mismatch\n got %s\nwant %s", fc, want)
	}
}

func TestBuildArgsTextOpacity(t *testing.T) {
	req := Request{
		SourcePath: "/work/source.mp4",
		OutputPath: "/work/output.mp4",
		Plan: &planner.Plan{Steps: []planner.Step{
			{Kind: models.OverlayText, Text: "Hi", FontSize: 16, X: 0, Y: 0, StartSec: 0, EndSec: 1, Opacity: 0.35},
		}},
	}

	got, err := BuildArgs(req)
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}

	if fc := filterComplex(t, got); !strings.Contains(fc, "fontcolor=white@0.35:") {
		t.Errorf("want translucent fontcolor, got %s", fc)
	}
}

func TestBuildArgsMissingInput(t *testing.T) {
	req := Request{
		SourcePath: "/work/source.mp4",
		OutputPath: "/work/output.mp4",
		Plan: &planner.Plan{Steps: []planner.Step{
			{Kind: models.OverlayImage, AssetID: "ast_gone", X: 0, Y: 0, StartSec: 0, EndSec: 1, Opacity: 1},
		}},
	}

	_, err := BuildArgs(req)
	if err == nil {
		t.Fatal("want error for unmaterialized asset")
	}
	if !strings.Contains(err.Error(), "ast_gone") {
		t.Errorf("error should name the asset: %v", err)
	}
}
