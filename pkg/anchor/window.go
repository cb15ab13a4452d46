package anchor

import (
	"context"
	"fmt"
	"sort"

	"github.com/microai-dao/trustcore/pkg/contracts"
	"github.com/microai-dao/trustcore/pkg/store"
)

// SealedWindow pairs an anchor with the exact event set its root covers.
type SealedWindow struct {
	Anchor contracts.MerkleAnchor
	Events []contracts.TrustEvent
}

// SealedWindows reconstructs, anchor by anchor in date order, the event set
// each of the org's roots sealed, and returns it together with the pool of
// events not yet covered by any anchor (late arrivals awaiting the next
// seal).
//
// The walk pools each anchored date's events with the uncovered remainder
// of earlier dates and takes the first EventCount in event_id order. The
// truncation is exact because event ids are time-ordered: an event appended
// after a seal sorts after every event that seal covered.
func SealedWindows(ctx context.Context, st store.Store, orgID string) ([]SealedWindow, []contracts.TrustEvent, error) {
	anchors, err := st.ListAnchors(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}

	var (
		windows []SealedWindow
		pool    []contracts.TrustEvent
	)
	for _, a := range anchors {
		day, err := st.ReadEventsInWindow(ctx, orgID, a.Date)
		if err != nil {
			return nil, nil, err
		}
		pool = append(pool, day...)
		sortEventsByID(pool)

		if a.EventCount > len(pool) {
			return nil, nil, fmt.Errorf("%w: anchor %s/%s seals %d events, store holds %d",
				contracts.ErrVerificationMismatch, orgID, a.Date, a.EventCount, len(pool))
		}
		sealed := make([]contracts.TrustEvent, a.EventCount)
		copy(sealed, pool[:a.EventCount])
		windows = append(windows, SealedWindow{Anchor: a, Events: sealed})
		pool = append([]contracts.TrustEvent(nil), pool[a.EventCount:]...)
	}
	return windows, pool, nil
}

func sortEventsByID(events []contracts.TrustEvent) {
	sort.Slice(events, func(i, j int) bool { return events[i].EventID < events[j].EventID })
}
