package chat

import (
	"sort"
	"time"

	"github.com/techagentng/clarkmarket/models"
)

// legacySkew bounds how far before a pending message a persisted record
// without a client id may be stamped and still be taken as its copy.
const legacySkew = 2 * time.Minute

var unresolved = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Merge combines the latest persisted snapshot with the locally pending
// messages. It returns the rendered timeline and the pending messages that
// the snapshot did not confirm.
//
// Persisted messages are ordered by timestamp, ties keeping snapshot order,
// and repeated copies of one client id collapse to the first. A pending
// message is confirmed by a persisted message carrying its client id. Records
// without a client id are matched on sender, receiver and text instead; each
// such record confirms at most one pending message, oldest first, so two
// identical texts sent close together can be collapsed wrongly.
//
// Pending messages are placed at their local creation time: after every
// persisted message stamped at or before it.
func Merge(pending, persisted []models.Message) (timeline, unconfirmed []models.Message) {
	confirmed := orderPersisted(persisted)

	clientIDs := make(map[string]struct{}, len(confirmed))
	for _, m := range confirmed {
		if m.ClientID != "" {
			clientIDs[m.ClientID] = struct{}{}
		}
	}

	used := make([]bool, len(confirmed))
	for _, p := range pending {
		if p.ClientID != "" {
			if _, ok := clientIDs[p.ClientID]; ok {
				continue
			}
		}
		if i := matchLegacy(p, confirmed, used); i >= 0 {
			used[i] = true
			continue
		}
		unconfirmed = append(unconfirmed, p)
	}

	sort.SliceStable(unconfirmed, func(i, j int) bool {
		return unconfirmed[i].Timestamp.Before(unconfirmed[j].Timestamp)
	})

	timeline = make([]models.Message, 0, len(confirmed)+len(unconfirmed))
	i, j := 0, 0
	for i < len(confirmed) && j < len(unconfirmed) {
		if !effectiveTime(confirmed[i]).After(unconfirmed[j].Timestamp) {
			timeline = append(timeline, confirmed[i])
			i++
		} else {
			timeline = append(timeline, unconfirmed[j])
			j++
		}
	}
	timeline = append(timeline, confirmed[i:]...)
	timeline = append(timeline, unconfirmed[j:]...)
	return timeline, unconfirmed
}

func orderPersisted(persisted []models.Message) []models.Message {
	out := make([]models.Message, 0, len(persisted))
	seen := make(map[string]struct{}, len(persisted))

	sorted := make([]models.Message, len(persisted))
	copy(sorted, persisted)
	sort.SliceStable(sorted, func(i, j int) bool {
		return effectiveTime(sorted[i]).Before(effectiveTime(sorted[j]))
	})

	for _, m := range sorted {
		if m.ClientID != "" {
			if _, dup := seen[m.ClientID]; dup {
				continue
			}
			seen[m.ClientID] = struct{}{}
		}
		m.Pending = false
		m.Failed = false
		out = append(out, m)
	}
	return out
}

func matchLegacy(p models.Message, confirmed []models.Message, used []bool) int {
	for i, m := range confirmed {
		if used[i] || m.ClientID != "" {
			continue
		}
		if m.SenderID != p.SenderID || m.ReceiverID != p.ReceiverID || m.Text != p.Text {
			continue
		}
		if m.Timestamp.Before(p.Timestamp.Add(-legacySkew)) {
			continue
		}
		return i
	}
	return -1
}

// A persisted message whose server time has not resolved yet sorts last.
func effectiveTime(m models.Message) time.Time {
	if m.Timestamp.IsZero() {
		return unresolved
	}
	return m.Timestamp
}
