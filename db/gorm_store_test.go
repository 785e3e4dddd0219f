package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techagentng/clarkmarket/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// dryRunDB builds Postgres statements without a server.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=clarkmarket dbname=clarkmarket sslmode=disable",
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	return gdb
}

func TestMessagesQueryBreaksTimestampTiesByInsertOrder(t *testing.T) {
	gdb := dryRunDB(t)

	var msgs []models.Message
	sql := messagesQuery(gdb, "uid-a_uid-b").Find(&msgs).Statement.SQL.String()
	assert.Contains(t, sql, "ORDER BY timestamp asc, seq asc")
	assert.Contains(t, sql, "conversation_id = $1")
}

func TestAppendLeavesTimestampToPostgres(t *testing.T) {
	gdb := dryRunDB(t)

	msg := (&models.MessageRecord{Text: "hi", SenderID: "uid-a", ReceiverID: "uid-b"}).ToMessage("m1")
	sql := gdb.Create(&msg).Statement.SQL.String()

	insert, returning, found := strings.Cut(sql, "RETURNING")
	require.True(t, found, sql)
	assert.NotContains(t, insert, `"timestamp"`)
	assert.NotContains(t, insert, `"seq"`)
	assert.Contains(t, returning, `"timestamp"`)
	assert.Contains(t, returning, `"seq"`)
}

func TestMessageSchemaDefaults(t *testing.T) {
	stmt := &gorm.Statement{DB: dryRunDB(t)}
	require.NoError(t, stmt.Parse(&models.Message{}))

	ts := stmt.Schema.LookUpField("timestamp")
	require.NotNil(t, ts)
	assert.Equal(t, "clock_timestamp()", ts.DefaultValue)

	seq := stmt.Schema.LookUpField("seq")
	require.NotNil(t, seq)
	assert.True(t, seq.AutoIncrement)
}
