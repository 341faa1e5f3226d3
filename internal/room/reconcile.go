package room

import (
	"sort"

	"github.com/charla-chat/charla/internal/types"
)

// Merge combines the latest authoritative sequence with the current
// speculative entries into the single ordered, deduplicated merged view.
//
// A speculative entry whose correlation id already appears confirmed is
// dropped entirely; the confirmed counterpart represents it. Everything
// else, including failed entries, stays visible. The result is a pure
// function of its inputs: the same snapshot and outbox yield the same
// list.
func Merge(auth []types.Message, entries []Entry) []types.Message {
	confirmedCIDs := make(map[string]struct{}, len(auth))
	seenIDs := make(map[string]struct{}, len(auth))

	merged := make([]types.Message, 0, len(auth)+len(entries))
	for _, msg := range auth {
		if msg.ID != "" {
			// Confirmed messages are idempotent across repeated snapshots.
			if _, dup := seenIDs[msg.ID]; dup {
				continue
			}
			seenIDs[msg.ID] = struct{}{}
		}
		if msg.CorrelationID != "" {
			confirmedCIDs[msg.CorrelationID] = struct{}{}
		}
		merged = append(merged, msg)
	}

	for _, entry := range entries {
		if _, confirmed := confirmedCIDs[entry.CorrelationID]; confirmed {
			continue
		}
		merged = append(merged, entry.Message())
	}

	// Entries with no timestamp at all sort last among ties rather than
	// panicking the comparison.
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i].EffectiveTS(), merged[j].EffectiveTS()
		if a == 0 || b == 0 {
			return b == 0 && a != 0
		}
		return a < b
	})

	return merged
}

// ConfirmedCIDs returns the correlation ids present in an authoritative
// sequence. Reconciliation uses this to find which outbox entries have
// been absorbed.
func ConfirmedCIDs(auth []types.Message) map[string]struct{} {
	cids := make(map[string]struct{}, len(auth))
	for _, msg := range auth {
		if msg.CorrelationID != "" {
			cids[msg.CorrelationID] = struct{}{}
		}
	}
	return cids
}
