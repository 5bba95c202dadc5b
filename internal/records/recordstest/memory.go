// Package recordstest provides an in-memory records.Store for tests.
package recordstest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/troikatech/voice-relay/internal/records"
)

// Store is a goroutine-safe in-memory records.Store with the same
// conditional-update semantics as the MongoDB store.
type Store struct {
	mu    sync.Mutex
	byKey map[string]*records.Record
	byCID map[string]string

	// Now is the store clock; tests may replace it.
	Now func() time.Time

	// Updates counts successful UpdateFields/UpdateByConversationID calls.
	Updates int
}

var _ records.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		byKey: map[string]*records.Record{},
		byCID: map[string]string{},
		Now:   time.Now,
	}
}

func id(k records.Key) string { return k.PK() + "|" + k.SK() }

// Put stores rec as-is, bypassing creation rules.
func (s *Store) Put(rec records.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.PK == "" {
		rec.PK = rec.Key().PK()
	}
	if rec.ConversationID == "" {
		rec.ConversationID = records.UnsetConversationID
	}
	if rec.HasConversation() {
		rec.GSI1PK = rec.ConversationID
		s.byCID[rec.ConversationID] = id(rec.Key())
	}
	cp := rec
	s.byKey[id(rec.Key())] = &cp
}

// Get returns a copy of the record for key.
func (s *Store) Get(key records.Key) (records.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byKey[id(key)]
	if !ok {
		return records.Record{}, false
	}
	return clone(rec), true
}

func (s *Store) CreateRecord(ctx context.Context, in records.NewRecord) (*records.Record, error) {
	rec, err := in.Build(s.Now())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[id(rec.Key())]; ok {
		return nil, fmt.Errorf("%w: %s", records.ErrDuplicateKey, rec.PK)
	}
	s.byKey[id(rec.Key())] = rec
	out := clone(rec)
	return &out, nil
}

func (s *Store) UpdateFields(ctx context.Context, key records.Key, fields records.Fields) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := fields.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(key, fields)
}

func (s *Store) updateLocked(key records.Key, fields records.Fields) error {
	rec, ok := s.byKey[id(key)]
	if !ok {
		return records.ErrNotFound
	}

	if cid, has := fields.ConversationID(); has {
		if rec.HasConversation() && rec.ConversationID != cid {
			return fmt.Errorf("%w: %s", records.ErrConversationConflict, cid)
		}
		if owner, taken := s.byCID[cid]; taken && owner != id(key) {
			return fmt.Errorf("%w: %s", records.ErrConversationConflict, cid)
		}
		rec.ConversationID = cid
		rec.GSI1PK = cid
		s.byCID[cid] = id(key)
	}

	for k, v := range fields {
		switch k {
		case records.FieldConversationID:
		case "call_sid":
			rec.CallSID, _ = v.(string)
		case "stream_sid":
			rec.StreamSID, _ = v.(string)
		case "stream_ended_at":
			if t, ok := v.(time.Time); ok {
				rec.StreamEndedAt = &t
			}
		default:
			if rec.Evaluation == nil {
				rec.Evaluation = map[string]interface{}{}
			}
			rec.Evaluation[k] = v
		}
	}
	rec.UpdatedAt = s.Now().UTC()
	s.Updates++
	return nil
}

func (s *Store) AdvanceStage(ctx context.Context, key records.Key, to records.Stage) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	if !to.Valid() {
		return false, fmt.Errorf("%w: unknown stage %q", records.ErrInvalidField, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byKey[id(key)]
	if !ok {
		return false, records.ErrNotFound
	}
	if !records.CanTransition(rec.Stage, to) {
		return false, nil
	}
	rec.Stage = to
	rec.UpdatedAt = s.Now().UTC()
	return true, nil
}

func (s *Store) FindByConversationID(ctx context.Context, conversationID string) (*records.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byCID[conversationID]
	if !ok {
		return nil, nil
	}
	out := clone(s.byKey[k])
	return &out, nil
}

func (s *Store) UpdateByConversationID(ctx context.Context, conversationID string, fields records.Fields) error {
	if err := fields.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byCID[conversationID]
	if !ok {
		return fmt.Errorf("%w: conversation %s", records.ErrNotFound, conversationID)
	}
	return s.updateLocked(s.byKey[k].Key(), fields)
}

func (s *Store) ListByDateAndAgent(ctx context.Context, callDate, agentID string) ([]records.Record, error) {
	pk := records.PartitionKey(agentID, callDate)
	return s.filter(func(r *records.Record) bool { return r.PK == pk }), nil
}

func (s *Store) ListRecentlyCreated(ctx context.Context, window time.Duration) ([]records.Record, error) {
	now := s.Now().UTC()
	from := now.Add(-window)
	return s.filter(func(r *records.Record) bool {
		return !r.CreatedAt.Before(from) && !r.CreatedAt.After(now)
	}), nil
}

func (s *Store) filter(keep func(*records.Record) bool) []records.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []records.Record{}
	for _, rec := range s.byKey {
		if keep(rec) {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].SK < out[j].SK
	})
	return out
}

func clone(rec *records.Record) records.Record {
	out := *rec
	if rec.Evaluation != nil {
		out.Evaluation = make(map[string]interface{}, len(rec.Evaluation))
		for k, v := range rec.Evaluation {
			out.Evaluation[k] = v
		}
	}
	return out
}
