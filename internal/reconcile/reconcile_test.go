package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/internal/records"
	"github.com/troikatech/voice-relay/internal/records/recordstest"
	"github.com/troikatech/voice-relay/pkg/elevenlabs"
)

type fakeSource map[string]*elevenlabs.Conversation

func (f fakeSource) GetConversation(ctx context.Context, id string) (*elevenlabs.Conversation, error) {
	conv, ok := f[id]
	if !ok {
		return nil, elevenlabs.ErrUpstreamUnavailable
	}
	return conv, nil
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seed(store *recordstest.Store, destination, conversationID string, createdAt time.Time) records.Key {
	key := records.Key{AgentID: "agent-1", CallDate: "2024-05-01", Destination: destination}
	store.Put(records.Record{
		SK: destination, AgentID: key.AgentID, CallDate: key.CallDate,
		Stage: records.StageCompleted, ConversationID: conversationID, CreatedAt: createdAt,
	})
	return key
}

func analysed(criteria, systolic string) *elevenlabs.Conversation {
	return &elevenlabs.Conversation{Analysis: &elevenlabs.Analysis{
		CallSuccessful: "success",
		EvaluationCriteriaResults: map[string]elevenlabs.CriteriaResult{
			"medicine_taken": {Result: criteria},
		},
		DataCollectionResults: map[string]elevenlabs.DataCollectionValue{
			"Systolic blood pressure": {Value: json.RawMessage(systolic)},
		},
	}}
}

func TestRunUpdatesSkipsAndIsolatesFailures(t *testing.T) {
	store := recordstest.New()
	store.Now = func() time.Time { return now }

	done := seed(store, "+6500000001", "conv-ok", now.Add(-10*time.Minute))
	pending := seed(store, "+6500000002", "", now.Add(-5*time.Minute))
	broken := seed(store, "+6500000003", "conv-missing", now.Add(-20*time.Minute))
	old := seed(store, "+6500000004", "conv-old", now.Add(-5*time.Hour))

	source := fakeSource{
		"conv-ok":  analysed("success", "128"),
		"conv-old": analysed("failure", "140"),
	}
	r := New(store, source, nil, 200*time.Minute, zap.NewNop())

	res, err := r.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Scanned)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failed)
	assert.NotEmpty(t, res.RunID)

	rec, _ := store.Get(done)
	assert.Equal(t, "success", rec.Evaluation["medicine_taken"])
	assert.Equal(t, float64(128), rec.Evaluation["systolic_blood_pressure"])
	assert.Equal(t, "success", rec.Evaluation["call_successful"])

	for _, key := range []records.Key{pending, broken, old} {
		rec, _ := store.Get(key)
		assert.Empty(t, rec.Evaluation, key.Destination)
	}
}

func TestRunWindowOverride(t *testing.T) {
	store := recordstest.New()
	store.Now = func() time.Time { return now }
	old := seed(store, "+6500000004", "conv-old", now.Add(-5*time.Hour))

	r := New(store, fakeSource{"conv-old": analysed("failure", "140")}, nil, 200*time.Minute, zap.NewNop())
	res, err := r.Run(context.Background(), 6*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	rec, _ := store.Get(old)
	assert.Equal(t, "failure", rec.Evaluation["medicine_taken"])
}

func TestRunLeavesPendingAnalysisAlone(t *testing.T) {
	store := recordstest.New()
	store.Now = func() time.Time { return now }
	key := seed(store, "+6500000001", "conv-1", now.Add(-time.Minute))

	r := New(store, fakeSource{"conv-1": {ConversationID: "conv-1"}}, nil, time.Hour, zap.NewNop())
	_, err := r.Run(context.Background(), 0)
	require.NoError(t, err)

	rec, _ := store.Get(key)
	assert.Empty(t, rec.Evaluation)
	assert.Zero(t, store.Updates)
}

func TestRunLock(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	ctx := context.Background()
	require.NoError(t, rdb.Del(ctx, lockKey).Err())

	r := New(recordstest.New(), fakeSource{}, rdb, time.Hour, zap.NewNop())
	release, err := r.lock(ctx, "first")
	require.NoError(t, err)

	_, err = r.Run(ctx, 0)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))

	release()
	_, err = r.Run(ctx, 0)
	assert.NoError(t, err)
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	r := New(recordstest.New(), fakeSource{}, nil, time.Hour, zap.NewNop())
	_, err := NewScheduler("not a cron spec", r, zap.NewNop())
	assert.Error(t, err)

	s, err := NewScheduler("@every 1h", r, zap.NewNop())
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
