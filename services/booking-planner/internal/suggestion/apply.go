// Package suggestion maps a recommended interval onto the same draft fields a
// user fills in by hand.
package suggestion

import (
	"errors"
	"sort"
	"time"

	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/interval"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/localtime"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/model"
)

var ErrInvalidSuggestion = errors.New("suggestion end must be after start")

// Apply projects item onto draft. The end is pushed out so the draft never falls
// below minDuration, and DurationMinutes is recomputed from the result.
// DistanceKm is left as entered; nothing in a suggestion describes a trip.
// Sub-second parts of the suggested instants are truncated.
//
// The returned draft has not been checked against availability. Callers must
// validate it exactly like a manual edit.
func Apply(draft model.BookingDraft, item model.BookingSuggestionItem, codec localtime.Codec, minDuration time.Duration) (model.BookingDraft, error) {
	// Draft fields resolve to the second, so the draft names exactly this interval.
	iv := interval.New(item.Start.UTC().Truncate(time.Second), item.End.UTC().Truncate(time.Second))
	if !iv.Valid() {
		return draft, ErrInvalidSuggestion
	}
	if minDuration > 0 && iv.Duration() < minDuration {
		iv.End = iv.Start.Add(minDuration)
	}

	draft.LocalDate, draft.LocalStartTime = codec.FromInstant(iv.Start)
	draft.LocalEndDate, draft.LocalEndTime = codec.FromInstant(iv.End)
	draft.DurationMinutes = interval.DurationMinutes(iv, int(minDuration/time.Minute))
	return draft, nil
}

// Ranked returns the valid items ordered by confidence, highest first. Ties keep
// the order the service sent them in.
func Ranked(items []model.BookingSuggestionItem) []model.BookingSuggestionItem {
	out := make([]model.BookingSuggestionItem, 0, len(items))
	for _, it := range items {
		if it.End.After(it.Start) {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}
