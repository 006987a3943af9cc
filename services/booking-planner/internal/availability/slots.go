package availability

import (
	"sort"
	"time"

	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/interval"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/model"
)

// DefaultStep is the slot granularity offered to users.
const DefaultStep = 30 * time.Minute

// Labeler renders a slot instant for display.
type Labeler func(time.Time) string

// StartOptions returns every start instant from which a booking of length
// duration fits entirely inside one of the windows, stepping from each window
// start. Instants before now are dropped, duplicates across overlapping windows
// are merged, and the result is sorted ascending.
func StartOptions(windows []model.AvailabilityWindow, duration, step time.Duration, now time.Time, label Labeler) []model.SlotOption {
	if duration <= 0 || step <= 0 {
		return nil
	}

	seen := make(map[int64]struct{})
	var starts []time.Time
	for _, w := range windows {
		for _, s := range windowStarts(w, duration, step) {
			if s.Before(now) {
				continue
			}
			key := s.UnixNano()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			starts = append(starts, s)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	return toOptions(starts, label)
}

// EndOptions returns end instants for a chosen start: from start+minDuration to
// the end of the window containing start, stepped like StartOptions. It is empty
// when no window contains start, which means the start is no longer bookable.
func EndOptions(windows []model.AvailabilityWindow, start time.Time, minDuration, step time.Duration, label Labeler) []model.SlotOption {
	if minDuration <= 0 || step <= 0 {
		return nil
	}
	w, ok := windowFor(windows, start)
	if !ok {
		return nil
	}

	var ends []time.Time
	for t := start.Add(minDuration); !t.After(w.EndAt); t = t.Add(step) {
		ends = append(ends, t)
	}
	return toOptions(ends, label)
}

// Reselect keeps selected when it is still offered and otherwise falls back to
// the first option. ok is false only when there is nothing to select.
func Reselect(options []model.SlotOption, selected time.Time) (time.Time, bool) {
	if len(options) == 0 {
		return time.Time{}, false
	}
	for _, o := range options {
		if o.Instant.Equal(selected) {
			return o.Instant, true
		}
	}
	return options[0].Instant, true
}

// Containing returns a window that fully contains iv.
func Containing(windows []model.AvailabilityWindow, iv interval.Interval) (model.AvailabilityWindow, bool) {
	for _, w := range windows {
		if !w.EndAt.After(w.StartAt) {
			continue
		}
		if interval.Contains(interval.New(w.StartAt, w.EndAt), iv) {
			return w, true
		}
	}
	return model.AvailabilityWindow{}, false
}

func windowStarts(w model.AvailabilityWindow, duration, step time.Duration) []time.Time {
	if !w.EndAt.After(w.StartAt) || w.StartAt.Add(duration).After(w.EndAt) {
		return nil
	}
	var out []time.Time
	for t := w.StartAt; !t.Add(duration).After(w.EndAt); t = t.Add(step) {
		out = append(out, t)
	}
	return out
}

// windowFor picks, among the windows containing t, the one reaching furthest.
func windowFor(windows []model.AvailabilityWindow, t time.Time) (model.AvailabilityWindow, bool) {
	var best model.AvailabilityWindow
	found := false
	for _, w := range windows {
		if !interval.New(w.StartAt, w.EndAt).ContainsInstant(t) {
			continue
		}
		if !found || w.EndAt.After(best.EndAt) {
			best = w
			found = true
		}
	}
	return best, found
}

func toOptions(instants []time.Time, label Labeler) []model.SlotOption {
	if len(instants) == 0 {
		return nil
	}
	out := make([]model.SlotOption, 0, len(instants))
	for _, t := range instants {
		opt := model.SlotOption{Instant: t}
		if label != nil {
			opt.Label = label(t)
		} else {
			opt.Label = t.Format(time.RFC3339)
		}
		out = append(out, opt)
	}
	return out
}
