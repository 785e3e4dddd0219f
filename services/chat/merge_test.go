package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techagentng/clarkmarket/models"
)

var t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return t0.Add(time.Duration(sec) * time.Second)
}

func persisted(id, clientID, text string, ts time.Time) models.Message {
	return models.Message{ID: id, ClientID: clientID, SenderID: "a", ReceiverID: "b", Text: text, Timestamp: ts}
}

func pendingMsg(clientID, text string, ts time.Time) models.Message {
	return models.Message{ID: clientID, ClientID: clientID, SenderID: "a", ReceiverID: "b", Text: text, Timestamp: ts, Pending: true}
}

func texts(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestMergeRetiresPendingByClientID(t *testing.T) {
	pending := []models.Message{pendingMsg("c1", "hello", at(5))}
	snap := []models.Message{persisted("p1", "c1", "hello", at(6))}

	timeline, unconfirmed := Merge(pending, snap)
	require.Len(t, timeline, 1)
	assert.Empty(t, unconfirmed)
	assert.Equal(t, "p1", timeline[0].ID)
	assert.Equal(t, at(6), timeline[0].Timestamp)
	assert.False(t, timeline[0].Pending)
}

func TestMergeKeepsUnmatchedPendingAtLocalTime(t *testing.T) {
	pending := []models.Message{pendingMsg("c2", "mine", at(15))}
	snap := []models.Message{
		persisted("p1", "x1", "early", at(10)),
		persisted("p2", "x2", "same-second", at(15)),
		persisted("p3", "x3", "later", at(20)),
	}

	timeline, unconfirmed := Merge(pending, snap)
	require.Len(t, unconfirmed, 1)
	assert.Equal(t, []string{"early", "same-second", "mine", "later"}, texts(timeline))
}

func TestMergeOrdersPersistedByTimestampStable(t *testing.T) {
	snap := []models.Message{
		persisted("p3", "", "third", at(3)),
		persisted("p1", "", "first-a", at(1)),
		persisted("p2", "", "first-b", at(1)),
	}

	timeline, _ := Merge(nil, snap)
	assert.Equal(t, []string{"first-a", "first-b", "third"}, texts(timeline))
}

func TestMergeCollapsesRetriedDuplicates(t *testing.T) {
	snap := []models.Message{
		persisted("p1", "c1", "hi", at(1)),
		persisted("p2", "c1", "hi", at(2)),
	}

	timeline, _ := Merge([]models.Message{pendingMsg("c1", "hi", at(0))}, snap)
	require.Len(t, timeline, 1)
	assert.Equal(t, "p1", timeline[0].ID)
}

func TestMergeLegacyRecordsMatchOncePerRecord(t *testing.T) {
	pending := []models.Message{
		pendingMsg("c1", "same", at(1)),
		pendingMsg("c2", "same", at(2)),
	}
	snap := []models.Message{persisted("p1", "", "same", at(3))}

	timeline, unconfirmed := Merge(pending, snap)
	require.Len(t, unconfirmed, 1)
	assert.Equal(t, "c2", unconfirmed[0].ClientID)
	require.Len(t, timeline, 2)
	assert.True(t, timeline[0].Pending)
	assert.Equal(t, "p1", timeline[1].ID)
}

func TestMergeLegacyRecordMustNotPredatePending(t *testing.T) {
	pending := []models.Message{pendingMsg("c1", "hi again", at(600))}
	snap := []models.Message{persisted("old", "", "hi again", at(0))}

	timeline, unconfirmed := Merge(pending, snap)
	require.Len(t, unconfirmed, 1)
	assert.Len(t, timeline, 2)
}

func TestMergeDoesNotMatchCounterpartText(t *testing.T) {
	pending := []models.Message{pendingMsg("c1", "ok", at(1))}
	reply := persisted("p1", "", "ok", at(2))
	reply.SenderID, reply.ReceiverID = "b", "a"

	_, unconfirmed := Merge(pending, []models.Message{reply})
	assert.Len(t, unconfirmed, 1)
}

func TestMergeUnresolvedServerTimeSortsLast(t *testing.T) {
	snap := []models.Message{
		persisted("p1", "x1", "unresolved", time.Time{}),
		persisted("p2", "x2", "resolved", at(1)),
	}
	timeline, _ := Merge([]models.Message{pendingMsg("c1", "mine", at(2))}, snap)
	assert.Equal(t, []string{"resolved", "mine", "unresolved"}, texts(timeline))
}

func TestMergeTimelineIsSorted(t *testing.T) {
	pending := []models.Message{
		pendingMsg("c1", "p-a", at(4)),
		pendingMsg("c2", "p-b", at(9)),
	}
	snap := []models.Message{
		persisted("s1", "x1", "s-a", at(1)),
		persisted("s2", "x2", "s-b", at(5)),
		persisted("s3", "x3", "s-c", at(7)),
		persisted("s4", "x4", "s-d", at(12)),
	}

	timeline, _ := Merge(pending, snap)
	require.Len(t, timeline, 6)
	for i := 1; i < len(timeline); i++ {
		assert.False(t, timeline[i].Timestamp.Before(timeline[i-1].Timestamp), "timeline out of order at %d", i)
	}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoff(100*time.Millisecond, time.Second, 0))
	assert.Equal(t, 400*time.Millisecond, backoff(100*time.Millisecond, time.Second, 2))
	assert.Equal(t, time.Second, backoff(100*time.Millisecond, time.Second, 10))
	assert.Equal(t, 800*time.Millisecond, backoff(100*time.Millisecond, 0, 3))
	assert.Equal(t, time.Duration(0), backoff(0, time.Second, 3))
}
