package models

import "time"

// Asset kinds accepted for staging.
const (
	KindImage = "image"
	KindVideo = "video"
)

// Asset is a staged overlay input: uploaded ahead of job submission,
// referenced by id from an overlay's content, garbage-collected once
// consumed or after sitting idle unconsumed.
type Asset struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	Provider     string     `json:"-"`
	ObjectKey    string     `json:"-"`
	Mime         string     `json:"mime"`
	SizeBytes    int64      `json:"size_bytes"`
	OriginalName string     `json:"original_name,omitempty"`
	ConsumedAt   *time.Time `json:"consumed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
