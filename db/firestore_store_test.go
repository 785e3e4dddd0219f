package db

import (
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDecodeMessagesLogsUndecodableDocuments(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := NewFirestoreStore(nil, zap.New(core))

	// A snapshot without data fails DataTo.
	docs := []*firestore.DocumentSnapshot{{Ref: &firestore.DocumentRef{ID: "doc-1"}}}
	msgs := store.decodeMessages("uid-a_uid-b", docs)
	assert.Empty(t, msgs)

	entries := logs.FilterMessage("firestore store: skipping undecodable message").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "doc-1", fields["document_id"])
	assert.Equal(t, "uid-a_uid-b", fields["conversation_id"])
}
