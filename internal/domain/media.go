package domain

import (
	"fmt"
	"time"
)

// MediaType is the declared classification of a media payload.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// Validate rejects unknown media types.
func (t MediaType) Validate() error {
	switch t {
	case MediaImage, MediaAudio, MediaVideo:
		return nil
	default:
		return fmt.Errorf("%w: unknown media type %q", ErrValidation, string(t))
	}
}

// Artifact is one physically stored, deduplicated file.
type Artifact struct {
	Fingerprint string
	Path        string
	Size        int64
	Type        MediaType
	MIME        string
	RefCount    int
	CreatedAt   time.Time
}

// MediaHandle is returned by the media store for every stored payload.
type MediaHandle struct {
	Fingerprint string
	Path        string
	Size        int64
	Type        MediaType
	MIME        string
	RefCount    int
	// Deduplicated reports that no bytes were written for this call.
	Deduplicated bool
}

// HandleFor converts an artifact row into a handle.
func HandleFor(a Artifact, deduplicated bool) MediaHandle {
	return MediaHandle{
		Fingerprint:  a.Fingerprint,
		Path:         a.Path,
		Size:         a.Size,
		Type:         a.Type,
		MIME:         a.MIME,
		RefCount:     a.RefCount,
		Deduplicated: deduplicated,
	}
}
