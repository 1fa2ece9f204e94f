package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/learnpulse/learnpulse/internal/core"
)

// Key layout:
//
//	events/<user>/<seq-hex16>   append-only event log, sequence-ordered
//	eventseq/<user>             next sequence number (big-endian uint64)
//	eventid/<user>/<event-id>   dedupe marker, value is the sequence
//
// Sequence numbers are per-user and strictly monotonic, so ListKeys
// over the events/ prefix returns events in arrival order.

const eventKeyPrefix = "events/"

func eventKey(user core.UserID, seq uint64) string {
	return fmt.Sprintf("events/%s/%016x", user, seq)
}

func eventSeqKey(user core.UserID) string {
	return "eventseq/" + string(user)
}

func eventIDKey(user core.UserID, id core.EventID) string {
	return fmt.Sprintf("eventid/%s/%s", user, id)
}

// EventStore is the append-only event log. Appends are idempotent:
// a second append of the same event id for the same user is rejected
// with core.ErrDuplicateEvent and leaves the log unchanged.
type EventStore struct {
	kv Store
}

func NewEventStore(kv Store) *EventStore {
	return &EventStore{kv: kv}
}

// Append writes the event to the user's log and returns its sequence
// number. Event timestamps may arrive out of order; sequence numbers
// reflect arrival order, which is the order downstream derivation uses.
func (s *EventStore) Append(ctx context.Context, ev core.Event) (uint64, error) {
	if ev.ID == "" || ev.UserID == "" {
		return 0, fmt.Errorf("%w: event id and user id", core.ErrMissingRequired)
	}

	if _, err := s.kv.Get(ctx, eventIDKey(ev.UserID, ev.ID)); err == nil {
		return 0, core.ErrDuplicateEvent
	} else if !errors.Is(err, core.ErrKeyNotFound) {
		return 0, err
	}

	seq, err := s.nextSeq(ctx, ev.UserID)
	if err != nil {
		return 0, err
	}

	data, err := marshalRecord(ev)
	if err != nil {
		return 0, err
	}
	if err := s.kv.Put(ctx, eventKey(ev.UserID, seq), data); err != nil {
		return 0, err
	}
	if err := s.kv.Put(ctx, eventIDKey(ev.UserID, ev.ID), []byte(strconv.FormatUint(seq, 10))); err != nil {
		return 0, err
	}
	return seq, nil
}

// Seen reports whether the event id was already appended for the user.
// Markers outlive retention pruning, so redeliveries of pruned events
// still report true.
func (s *EventStore) Seen(ctx context.Context, user core.UserID, id core.EventID) (bool, error) {
	_, err := s.kv.Get(ctx, eventIDKey(user, id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, core.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

func (s *EventStore) nextSeq(ctx context.Context, user core.UserID) (uint64, error) {
	key := eventSeqKey(user)
	var seq uint64
	data, err := s.kv.Get(ctx, key)
	switch {
	case err == nil:
		if len(data) != 8 {
			return 0, fmt.Errorf("%w: corrupt sequence for %s", core.ErrMigrationFailed, user)
		}
		seq = binary.BigEndian.Uint64(data) + 1
	case errors.Is(err, core.ErrKeyNotFound):
		seq = 1
	default:
		return 0, err
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	if err := s.kv.Put(ctx, key, buf); err != nil {
		return 0, err
	}
	return seq, nil
}

// List returns all events for the user in arrival order.
func (s *EventStore) List(ctx context.Context, user core.UserID) ([]core.Event, error) {
	keys, err := s.kv.ListKeys(ctx, eventKeyPrefix+string(user)+"/")
	if err != nil {
		return nil, err
	}
	events := make([]core.Event, 0, len(keys))
	for _, k := range keys {
		data, err := s.kv.Get(ctx, k)
		if errors.Is(err, core.ErrKeyNotFound) {
			continue // deleted under us by retention cleanup
		}
		if err != nil {
			return nil, err
		}
		var ev core.Event
		if err := unmarshalRecord(data, &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Recent returns up to limit of the newest events for the user, oldest
// first within the returned slice.
func (s *EventStore) Recent(ctx context.Context, user core.UserID, limit int) ([]core.Event, error) {
	events, err := s.List(ctx, user)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// RecentForSkill returns the newest events touching the given skill
// area, oldest first, up to limit.
func (s *EventStore) RecentForSkill(ctx context.Context, user core.UserID, skill core.SkillArea, limit int) ([]core.Event, error) {
	events, err := s.List(ctx, user)
	if err != nil {
		return nil, err
	}
	var out []core.Event
	for _, ev := range events {
		for _, sk := range ev.Skills {
			if sk == skill {
				out = append(out, ev)
				break
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Since returns events for the user whose timestamps fall at or after
// the cutoff, in arrival order.
func (s *EventStore) Since(ctx context.Context, user core.UserID, cutoff time.Time) ([]core.Event, error) {
	events, err := s.List(ctx, user)
	if err != nil {
		return nil, err
	}
	var out []core.Event
	for _, ev := range events {
		if !ev.Timestamp.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Users returns every user id that has at least one logged event.
func (s *EventStore) Users(ctx context.Context) ([]core.UserID, error) {
	keys, err := s.kv.ListKeys(ctx, "eventseq/")
	if err != nil {
		return nil, err
	}
	users := make([]core.UserID, 0, len(keys))
	for _, k := range keys {
		users = append(users, core.UserID(k[len("eventseq/"):]))
	}
	return users, nil
}

// Prune deletes events older than the cutoff. Sequence counters and
// dedupe markers for pruned events are kept so replays of old events
// stay rejected.
func (s *EventStore) Prune(ctx context.Context, user core.UserID, cutoff time.Time) (int, error) {
	keys, err := s.kv.ListKeys(ctx, eventKeyPrefix+string(user)+"/")
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, k := range keys {
		data, err := s.kv.Get(ctx, k)
		if errors.Is(err, core.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return pruned, err
		}
		var ev core.Event
		if err := unmarshalRecord(data, &ev); err != nil {
			return pruned, err
		}
		if ev.Timestamp.Before(cutoff) {
			if err := s.kv.Delete(ctx, k); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}
