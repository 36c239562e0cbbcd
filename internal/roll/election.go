// Package roll implements roll delegation: the requester of a roll never
// draws its own values. Every peer elects the same generator from the room
// membership and the roll id, the requester retries against the next
// candidate when a generator stays silent, and falls back to a self roll once
// the retry budget is spent.
package roll

import (
	"slices"
	"unicode/utf16"
)

// Hash is the 31-multiplier string hash over UTF-16 code units in 32-bit
// two's complement arithmetic, returned as an absolute value. Browser peers
// compute the same number for the same id.
func Hash(s string) uint32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(unit)
	}
	if h < 0 {
		return uint32(-int64(h))
	}
	return uint32(h)
}

// SelectRollGenerator elects the peer that generates the values for rollID.
// isSelf is true when nobody but the requester is present.
func SelectRollGenerator(peerIDs []string, requesterID, rollID string) (generatorID string, isSelf bool) {
	return SelectNextGenerator(peerIDs, requesterID, rollID, nil)
}

// SelectNextGenerator applies the election rule to the peers that have not
// already failed to answer. isSelf is true when no candidate remains.
func SelectNextGenerator(peerIDs []string, requesterID, rollID string, failed []string) (generatorID string, isSelf bool) {
	eligible := Eligible(peerIDs, requesterID, failed)
	if len(eligible) == 0 {
		return requesterID, true
	}
	return eligible[Hash(rollID)%uint32(len(eligible))], false
}

// Eligible returns the sorted, de-duplicated candidates for an election.
func Eligible(peerIDs []string, requesterID string, failed []string) []string {
	out := make([]string, 0, len(peerIDs))
	for _, id := range peerIDs {
		if id == "" || id == requesterID || slices.Contains(failed, id) {
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
