package domain

import "time"

// Creator is a real-world person or brand, independent of any platform.
type Creator struct {
	ID          int64
	Name        string
	AvatarURL   string
	Description string
	CreatedAt   time.Time
}

// Source is one platform account of a Creator. (Platform, NativeID) is unique.
type Source struct {
	ID            int64
	CreatorID     int64
	Platform      string
	NativeID      string
	ProfileURL    string
	Active        bool
	LastScannedAt time.Time
	CreatedAt     time.Time
}

// NewSource carries everything needed to create a Source and, if missing, its Creator.
type NewSource struct {
	Platform    string
	NativeID    string
	ProfileURL  string
	CreatorName string
}

// SourceHandle is what the resolver hands to phase collaborators.
type SourceHandle struct {
	SourceID    int64
	CreatorID   int64
	CreatorName string
	Platform    string
	NativeID    string
	ProfileURL  string
	Active      bool
	// Created reports whether this call inserted the source row.
	Created bool
}
