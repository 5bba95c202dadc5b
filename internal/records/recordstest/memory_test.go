package recordstest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troikatech/voice-relay/internal/records"
)

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newStore() *Store {
	s := New()
	s.Now = func() time.Time { return fixedNow }
	return s
}

func create(t *testing.T, s *Store, dest string) records.Key {
	t.Helper()
	rec, err := s.CreateRecord(context.Background(), records.NewRecord{
		Destination: dest, AgentID: "agent_1", Prompt: "p", ScheduledTime: "09:00",
	})
	require.NoError(t, err)
	return rec.Key()
}

func TestCreateRecordDuplicate(t *testing.T) {
	s := newStore()
	create(t, s, "+6598765432")

	_, err := s.CreateRecord(context.Background(), records.NewRecord{Destination: "+6598765432", AgentID: "agent_1"})
	assert.ErrorIs(t, err, records.ErrDuplicateKey)
}

func TestConversationIDSetOnce(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	key := create(t, s, "+6598765432")

	require.NoError(t, s.UpdateFields(ctx, key, records.Fields{"conversation_id": "conv_a"}))
	// same value again is harmless
	require.NoError(t, s.UpdateFields(ctx, key, records.Fields{"conversation_id": "conv_a"}))

	err := s.UpdateFields(ctx, key, records.Fields{"conversation_id": "conv_b"})
	assert.ErrorIs(t, err, records.ErrConversationConflict)

	rec, err := s.FindByConversationID(ctx, "conv_a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "conv_a", rec.ConversationID)

	missing, err := s.FindByConversationID(ctx, "conv_b")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAdvanceStageTerminalSink(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	key := create(t, s, "+6598765432")

	applied, err := s.AdvanceStage(ctx, key, records.StageNoAnswer)
	require.NoError(t, err)
	assert.True(t, applied)

	for _, to := range records.AllStages {
		applied, err := s.AdvanceStage(ctx, key, to)
		require.NoError(t, err)
		assert.False(t, applied, "moved from no_answer to %s", to)
	}

	rec, _ := s.Get(key)
	assert.Equal(t, records.StageNoAnswer, rec.Stage)
}

func TestAdvanceStageMissingRecord(t *testing.T) {
	_, err := newStore().AdvanceStage(context.Background(),
		records.Key{AgentID: "agent_1", CallDate: "2024-05-01", Destination: "+100"}, records.StageRinging)
	assert.ErrorIs(t, err, records.ErrNotFound)
}

func TestUpdateByConversationID(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	key := create(t, s, "+6598765432")

	err := s.UpdateByConversationID(ctx, "conv_a", records.Fields{"medicine_taken": "success"})
	assert.ErrorIs(t, err, records.ErrNotFound)

	require.NoError(t, s.UpdateFields(ctx, key, records.Fields{"conversation_id": "conv_a"}))
	require.NoError(t, s.UpdateByConversationID(ctx, "conv_a", records.Fields{"medicine_taken": "success"}))

	rec, _ := s.Get(key)
	assert.Equal(t, "success", rec.Evaluation["medicine_taken"])
}

func TestListRecentlyCreated(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	s.Put(records.Record{AgentID: "agent_1", CallDate: "2024-05-01", SK: "+1", CreatedAt: fixedNow.Add(-10 * time.Minute)})
	s.Put(records.Record{AgentID: "agent_1", CallDate: "2024-05-01", SK: "+2", CreatedAt: fixedNow.Add(-3 * time.Hour)})
	s.Put(records.Record{AgentID: "agent_2", CallDate: "2024-05-01", SK: "+3", CreatedAt: fixedNow.Add(-time.Minute)})

	recent, err := s.ListRecentlyCreated(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "+1", recent[0].SK)
	assert.Equal(t, "+3", recent[1].SK)

	partition, err := s.ListByDateAndAgent(ctx, "2024-05-01", "agent_1")
	require.NoError(t, err)
	assert.Len(t, partition, 2)
}
