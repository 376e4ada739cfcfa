package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase enumerates the sequential processing stages of an item.
type Phase string

const (
	PhaseDiscovery Phase = "discovery"
	PhaseDetail    Phase = "detail"
	PhaseGrouping  Phase = "grouping"
)

// Phases lists all phases in processing order.
var Phases = []Phase{PhaseDiscovery, PhaseDetail, PhaseGrouping}

// ParsePhase validates a phase name coming from callers or the CLI.
func ParsePhase(value string) (Phase, error) {
	p := Phase(value)
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// Validate rejects unknown phase names.
func (p Phase) Validate() error {
	switch p {
	case PhaseDiscovery, PhaseDetail, PhaseGrouping:
		return nil
	default:
		return fmt.Errorf("%w: unknown phase %q", ErrValidation, string(p))
	}
}

// Prior returns the phase that must complete before p may be attempted.
// Discovery has no prior phase.
func (p Phase) Prior() (Phase, bool) {
	switch p {
	case PhaseDetail:
		return PhaseDiscovery, true
	case PhaseGrouping:
		return PhaseDetail, true
	default:
		return "", false
	}
}

// Item is one discovered content unit of a Source.
type Item struct {
	ID          int64
	SourceID    int64
	NativeID    string
	URL         string
	Title       string
	Body        string
	Content     json.RawMessage
	PublishedAt time.Time
	CreatedAt   time.Time
	DeletedAt   time.Time
}

// ItemHandle identifies an item for phase collaborators.
type ItemHandle struct {
	ID           int64
	SourceID     int64
	NativeID     string
	URL          string
	AttemptCount int
}

// ItemDetail is the phase 2 enrichment written in place onto an Item.
type ItemDetail struct {
	Title       string
	Body        string
	Content     json.RawMessage
	PublishedAt time.Time
}

// PhaseMarker records completion of a single phase. Once complete it never reverts.
type PhaseMarker struct {
	Complete    bool
	CompletedAt time.Time
	// Attempts counts the attempts recorded against this phase alone.
	Attempts int
}

// ErrorRecord is one processing failure attached to an item.
type ErrorRecord struct {
	Phase      Phase
	Message    string
	OccurredAt time.Time
}

// ItemStatus is the fixed per-item tracking record.
type ItemStatus struct {
	ItemID        int64
	Discovery     PhaseMarker
	Detail        PhaseMarker
	Grouping      PhaseMarker
	AttemptCount  int
	LastAttemptAt time.Time
	Errors        []ErrorRecord
	// LegacySnapshot is an opaque copy of state migrated from an older tracker.
	LegacySnapshot []byte
}

// Marker returns the marker for phase p.
func (s ItemStatus) Marker(p Phase) PhaseMarker {
	switch p {
	case PhaseDiscovery:
		return s.Discovery
	case PhaseDetail:
		return s.Detail
	case PhaseGrouping:
		return s.Grouping
	default:
		return PhaseMarker{}
	}
}

// Collection is a platform grouping (series, album, tier) items are assigned to in phase 3.
type Collection struct {
	NativeID string
	Title    string
}

// PendingQuery selects items whose Phase is not complete.
// Zero SourceID means all sources. Pages are keyed by item ID so a consumer
// can resume from the last ID it saw.
type PendingQuery struct {
	SourceID     int64
	Phase        Phase
	RequirePrior bool
	MaxAttempts  int
	AfterID      int64
	Limit        int
}

// AllSources scopes reporting and pending queries to every source.
const AllSources int64 = 0

// Summary aggregates tracking state for reporting.
type Summary struct {
	Total           int
	DiscoveryDone   int
	DetailDone      int
	GroupingDone    int
	ItemsWithErrors int
	Attempts        int
}

// Done returns the completion count for phase p.
func (s Summary) Done(p Phase) int {
	switch p {
	case PhaseDiscovery:
		return s.DiscoveryDone
	case PhaseDetail:
		return s.DetailDone
	case PhaseGrouping:
		return s.GroupingDone
	default:
		return 0
	}
}

// ItemFailure pairs an item with its most recent error.
type ItemFailure struct {
	Item      ItemHandle
	LastError ErrorRecord
}
