package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/learnpulse/learnpulse/internal/core"
)

// Derived state (profiles, pattern sets, focus runs, recommendations)
// is stored as whole snapshots per user: a single Put replaces the
// previous value, so a cancelled derivation leaves the old snapshot
// intact instead of a half-written one.

// ----- PROFILES -----

type ProfileStore struct {
	kv Store
}

func NewProfileStore(kv Store) *ProfileStore {
	return &ProfileStore{kv: kv}
}

func profileKey(user core.UserID) string {
	return "profiles/" + string(user)
}

// Get returns the profile, or core.ErrUserNotFound if none exists.
func (s *ProfileStore) Get(ctx context.Context, user core.UserID) (*core.LearningProfile, error) {
	data, err := s.kv.Get(ctx, profileKey(user))
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, core.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	var p core.LearningProfile
	if err := unmarshalRecord(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *ProfileStore) Put(ctx context.Context, p *core.LearningProfile) error {
	data, err := marshalRecord(p)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, profileKey(p.UserID), data)
}

// ----- PATTERNS -----

// PatternStore keeps the full pattern set for a user as one snapshot.
type PatternStore struct {
	kv Store
}

func NewPatternStore(kv Store) *PatternStore {
	return &PatternStore{kv: kv}
}

func patternKey(user core.UserID) string {
	return "patterns/" + string(user)
}

func (s *PatternStore) Get(ctx context.Context, user core.UserID) ([]core.Pattern, error) {
	data, err := s.kv.Get(ctx, patternKey(user))
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ps []core.Pattern
	if err := unmarshalRecord(data, &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

func (s *PatternStore) Put(ctx context.Context, user core.UserID, ps []core.Pattern) error {
	data, err := marshalRecord(ps)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, patternKey(user), data)
}

// ----- FOCUS RUNS -----

// FocusStore keeps every synthesis run for audit, plus a pointer to
// the latest one. Old runs are pruned on a retention schedule.
type FocusStore struct {
	kv Store
}

func NewFocusStore(kv Store) *FocusStore {
	return &FocusStore{kv: kv}
}

func focusRunKey(user core.UserID, at time.Time) string {
	return fmt.Sprintf("focus/%s/%020d", user, at.UnixNano())
}

func focusLatestKey(user core.UserID) string {
	return "focuslatest/" + string(user)
}

func (s *FocusStore) Put(ctx context.Context, run *core.FocusRun) error {
	data, err := marshalRecord(run)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, focusRunKey(run.UserID, run.GeneratedAt), data); err != nil {
		return err
	}
	return s.kv.Put(ctx, focusLatestKey(run.UserID), data)
}

// Latest returns the most recent run, or nil if the user has none.
func (s *FocusStore) Latest(ctx context.Context, user core.UserID) (*core.FocusRun, error) {
	data, err := s.kv.Get(ctx, focusLatestKey(user))
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var run core.FocusRun
	if err := unmarshalRecord(data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// History returns all retained runs for the user, oldest first.
func (s *FocusStore) History(ctx context.Context, user core.UserID) ([]core.FocusRun, error) {
	keys, err := s.kv.ListKeys(ctx, "focus/"+string(user)+"/")
	if err != nil {
		return nil, err
	}
	runs := make([]core.FocusRun, 0, len(keys))
	for _, k := range keys {
		data, err := s.kv.Get(ctx, k)
		if errors.Is(err, core.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var run core.FocusRun
		if err := unmarshalRecord(data, &run); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Prune drops runs generated before the cutoff. The latest pointer is
// never pruned.
func (s *FocusStore) Prune(ctx context.Context, user core.UserID, cutoff time.Time) (int, error) {
	keys, err := s.kv.ListKeys(ctx, "focus/"+string(user)+"/")
	if err != nil {
		return 0, err
	}
	boundary := focusRunKey(user, cutoff)
	pruned := 0
	for _, k := range keys {
		if k >= boundary {
			break
		}
		if err := s.kv.Delete(ctx, k); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}

// ----- RECOMMENDATIONS -----

// RecommendationStore keeps the full recommendation set per user as
// one snapshot, plus history of the subjects each outcome was
// recorded against.
type RecommendationStore struct {
	kv Store
}

func NewRecommendationStore(kv Store) *RecommendationStore {
	return &RecommendationStore{kv: kv}
}

func recsKey(user core.UserID) string {
	return "recs/" + string(user)
}

func outcomeKey(user core.UserID, recID string, at time.Time) string {
	return fmt.Sprintf("outcomes/%s/%020d/%s", user, at.UnixNano(), recID)
}

func (s *RecommendationStore) Get(ctx context.Context, user core.UserID) ([]core.Recommendation, error) {
	data, err := s.kv.Get(ctx, recsKey(user))
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var recs []core.Recommendation
	if err := unmarshalRecord(data, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *RecommendationStore) Put(ctx context.Context, user core.UserID, recs []core.Recommendation) error {
	data, err := marshalRecord(recs)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, recsKey(user), data)
}

// Find returns the recommendation with the given id, or
// core.ErrRecommendationNotFound.
func (s *RecommendationStore) Find(ctx context.Context, user core.UserID, id string) (*core.Recommendation, error) {
	recs, err := s.Get(ctx, user)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if recs[i].ID == id {
			return &recs[i], nil
		}
	}
	return nil, core.ErrRecommendationNotFound
}

// Update replaces the recommendation with rec.ID in the user's set.
func (s *RecommendationStore) Update(ctx context.Context, rec *core.Recommendation) error {
	recs, err := s.Get(ctx, rec.UserID)
	if err != nil {
		return err
	}
	for i := range recs {
		if recs[i].ID == rec.ID {
			recs[i] = *rec
			return s.Put(ctx, rec.UserID, recs)
		}
	}
	return core.ErrRecommendationNotFound
}

// RecordOutcome appends an outcome to the audit log.
func (s *RecommendationStore) RecordOutcome(ctx context.Context, o *core.Outcome) error {
	data, err := marshalRecord(o)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, outcomeKey(o.UserID, o.RecommendationID, o.RecordedAt), data)
}

// Outcomes returns the recorded outcomes for a user, oldest first.
func (s *RecommendationStore) Outcomes(ctx context.Context, user core.UserID) ([]core.Outcome, error) {
	keys, err := s.kv.ListKeys(ctx, "outcomes/"+string(user)+"/")
	if err != nil {
		return nil, err
	}
	out := make([]core.Outcome, 0, len(keys))
	for _, k := range keys {
		data, err := s.kv.Get(ctx, k)
		if errors.Is(err, core.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var o core.Outcome
		if err := unmarshalRecord(data, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
