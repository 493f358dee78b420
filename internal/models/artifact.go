// Package models defines the domain types shared across packages.
package models

import "time"

// Artifact describes a rendered diagram image under the output root.
type Artifact struct {
	File      string    `json:"file"`
	Hash      string    `json:"hash"`
	Ext       string    `json:"ext"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Render event kinds published to observers.
const (
	EventRendered        = "rendered"
	EventFailed          = "failed"
	EventChapterRendered = "chapter"
)
