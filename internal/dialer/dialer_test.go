package dialer

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/internal/records"
	"github.com/troikatech/voice-relay/internal/records/recordstest"
	"github.com/troikatech/voice-relay/pkg/twilio"
)

type fakePlacer struct {
	mu    sync.Mutex
	calls []twilio.CallRequest
	err   error
}

func (f *fakePlacer) PlaceCall(ctx context.Context, req twilio.CallRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return "", f.err
	}
	return "CA-" + req.To, nil
}

func (f *fakePlacer) placed() []twilio.CallRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]twilio.CallRequest(nil), f.calls...)
}

func fixedNow() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) }

func newService(t *testing.T, placer Placer) (*Service, *Pool, *recordstest.Store) {
	t.Helper()
	store := recordstest.New()
	store.Now = fixedNow
	pool := NewPool(placer, store, 2, 8, zap.NewNop())
	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return NewService(store, pool, "relay.example.com", zap.NewNop()), pool, store
}

func TestFullPrompt(t *testing.T) {
	tests := []struct {
		in   CallInput
		want string
	}{
		{CallInput{Prompt: "Be kind", EventType: "Medicine", EventName: "Metformin"}, "Be kind. Calling For: Medicine, Medicine name: Metformin"},
		{CallInput{Prompt: "Be kind", EventType: "Vital", EventName: "Blood pressure"}, "Be kind. Calling For: Vital, Vital name: Blood pressure"},
		{CallInput{Prompt: "Be kind", EventType: "Other", EventName: "x"}, "Be kind"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.FullPrompt())
	}
}

func TestCreateCallPlacesAsynchronously(t *testing.T) {
	placer := &fakePlacer{}
	svc, pool, store := newService(t, placer)

	rec, err := svc.CreateCall(context.Background(), CallInput{
		CallingTo:    "6598765432",
		AgentID:      "agent-1",
		Prompt:       "Remind",
		FirstMessage: "Hello & welcome",
		Time:         "09:00",
		EventType:    "Medicine",
		EventName:    "Metformin",
	})
	require.NoError(t, err)
	assert.Equal(t, "+6598765432", rec.SK)
	assert.Equal(t, records.StageInitiated, rec.Stage)
	assert.Equal(t, "2024-05-01", rec.CallDate)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))

	calls := placer.placed()
	require.Len(t, calls, 1)
	assert.Equal(t, "+6598765432", calls[0].To)
	assert.Equal(t, "https://relay.example.com/callbacks/call-status?agent_id=agent-1&call_date=2024-05-01", calls[0].StatusCallbackURL)

	u, err := url.Parse(calls[0].TwiMLURL)
	require.NoError(t, err)
	assert.Equal(t, "relay.example.com", u.Host)
	assert.Equal(t, TwiMLPath, u.Path)
	q := u.Query()
	assert.Equal(t, "Hello & welcome", q.Get("first_message"))
	assert.Equal(t, "Remind. Calling For: Medicine, Medicine name: Metformin", q.Get("prompt"))
	assert.Equal(t, "+6598765432", q.Get("calling_to"))
	assert.Equal(t, "2024-05-01", q.Get("call_date"))

	stored, ok := store.Get(rec.Key())
	require.True(t, ok)
	assert.Equal(t, "CA-+6598765432", stored.CallSID)
}

func TestCreateCallDuplicate(t *testing.T) {
	svc, _, _ := newService(t, &fakePlacer{})
	in := CallInput{CallingTo: "+6598765432", AgentID: "agent-1"}

	_, err := svc.CreateCall(context.Background(), in)
	require.NoError(t, err)
	_, err = svc.CreateCall(context.Background(), in)
	assert.ErrorIs(t, err, records.ErrDuplicateKey)
}

func TestCreateCallRejectsBadNumber(t *testing.T) {
	svc, _, _ := newService(t, &fakePlacer{})
	_, err := svc.CreateCall(context.Background(), CallInput{CallingTo: "not-a-number", AgentID: "agent-1"})
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestPlacementFailureMarksFailed(t *testing.T) {
	placer := &fakePlacer{err: errors.New("twilio down")}
	svc, pool, store := newService(t, placer)

	rec, err := svc.CreateCall(context.Background(), CallInput{CallingTo: "+6598765432", AgentID: "agent-1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(ctx))

	stored, _ := store.Get(rec.Key())
	assert.Equal(t, records.StageFailed, stored.Stage)
}

func TestPoolRejectsWhenStoppedOrFull(t *testing.T) {
	block := make(chan struct{})
	placer := placerFunc(func(ctx context.Context, req twilio.CallRequest) (string, error) {
		<-block
		return "", nil
	})
	pool := NewPool(placer, recordstest.New(), 1, 1, zap.NewNop())
	pool.Start()

	require.NoError(t, pool.Enqueue(Job{}))
	require.Eventually(t, func() bool { return len(pool.jobs) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, pool.Enqueue(Job{}))
	assert.ErrorIs(t, pool.Enqueue(Job{}), ErrQueueFull)

	close(block)
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.ErrorIs(t, pool.Enqueue(Job{}), ErrStopped)
}

type placerFunc func(ctx context.Context, req twilio.CallRequest) (string, error)

func (f placerFunc) PlaceCall(ctx context.Context, req twilio.CallRequest) (string, error) {
	return f(ctx, req)
}
