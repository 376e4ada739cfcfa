package usecase

import (
	"context"
	"fmt"
	"strings"
)

func (p *Pipeline) publish(ctx context.Context, reports []Report) error {
	if p.notifier == nil {
		return nil
	}
	message := buildDigestMessage(reports)
	if message == "" {
		return nil
	}
	if err := p.notifier.PublishDigest(ctx, message); err != nil {
		return fmt.Errorf("publish digest: %w", err)
	}
	return nil
}

// buildDigestMessage summarises sources that changed or failed. Quiet runs
// produce an empty digest.
func buildDigestMessage(reports []Report) string {
	var b strings.Builder
	for _, r := range reports {
		if r.Discovered == 0 && r.Failed == 0 && r.Err == nil && r.ListingErr == nil {
			continue
		}
		fmt.Fprintf(&b, "- %s/%s: %d new, %d detailed, %d grouped",
			r.Platform, r.NativeID, r.Discovered, r.Detailed, r.Grouped)
		if r.MediaStored+r.MediaDeduplicated > 0 {
			fmt.Fprintf(&b, ", media %d stored/%d deduplicated", r.MediaStored, r.MediaDeduplicated)
		}
		if r.Failed > 0 {
			fmt.Fprintf(&b, ", %d failed", r.Failed)
		}
		b.WriteString("\n")
		if r.ListingErr != nil {
			fmt.Fprintf(&b, "  listing: %v\n", r.ListingErr)
		}
		if r.Err != nil {
			fmt.Fprintf(&b, "  aborted: %v\n", r.Err)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "Creator scan\n" + b.String()
}
