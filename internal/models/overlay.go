package models

// Overlay types.
const (
	OverlayText  = "text"
	OverlayImage = "image"
	OverlayVideo = "video"
)

// Overlay is one timed, positioned element composited onto the base
// video. Content is the literal text for text overlays and a staged
// asset id for image/video overlays. Geometry is normalized to the
// base frame: x, y, width and height are fractions in [0,1]. A zero
// width or height means intrinsic size for image/video; for text the
// height fraction drives the font size. The list submitted with a job
// is immutable; stacking order is list order, later entries on top.
type Overlay struct {
	Type      string   `json:"type" validate:"required,oneof=text image video"`
	Content   string   `json:"content" validate:"required"`
	StartTime float64  `json:"start_time" validate:"gte=0"`
	EndTime   float64  `json:"end_time" validate:"gtfield=StartTime"`
	X         float64  `json:"x" validate:"gte=0,lte=1"`
	Y         float64  `json:"y" validate:"gte=0,lte=1"`
	Width     float64  `json:"width" validate:"gte=0,lte=1"`
	Height    float64  `json:"height" validate:"gte=0,lte=1"`
	Opacity   *float64 `json:"opacity,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// OverlayAssetIDs returns the staged asset ids an overlay list references,
// in list order, without duplicates. Text overlays reference none.
func OverlayAssetIDs(overlays []Overlay) []string {
	seen := make(map[string]struct{}, len(overlays))
	var out []string
	for _, ov := range overlays {
		if ov.Type == OverlayText || ov.Content == "" {
			continue
		}
		if _, ok := seen[ov.Content]; ok {
			continue
		}
		seen[ov.Content] = struct{}{}
		out = append(out, ov.Content)
	}
	return out
}
