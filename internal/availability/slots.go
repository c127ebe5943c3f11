// Package availability turns backend slot payloads into bookable start times
// and drives the week-by-week availability search.
package availability

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-engine/internal/backend"
	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// TimeSlot is one atomic bookable unit.
type TimeSlot struct {
	Date  string    // civil date, 2006-01-02
	Start time.Time // start in the clinic timezone
	// GranularityMinutes is the slot length reported by the backend. Zero when unknown.
	GranularityMinutes int
	DurationUnknown    bool
}

// Clock returns the start as HH:MM.
func (s TimeSlot) Clock() string {
	return s.Start.Format(clockLayout)
}

// Normalized maps professional id -> civil date -> ascending slots.
type Normalized map[int]map[string][]TimeSlot

// Normalizer parses slot payloads of either dialect.
type Normalizer struct {
	Location *time.Location
	Logger   *logging.Logger
}

// NewNormalizer returns a Normalizer for the clinic timezone.
func NewNormalizer(loc *time.Location, logger *logging.Logger) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Normalizer{Location: loc, Logger: logger}
}

var (
	startKeys       = []string{"hora_inicio", "hora", "inicio"}
	granularityKeys = []string{"intervalo", "duracion"}
)

// Normalize keeps requested professionals' slots that start strictly after now.
// An empty requestedIDs keeps every professional. Malformed entries are
// dropped with a warning. The output is a pure function of its inputs.
func (n *Normalizer) Normalize(listing *backend.SlotListing, requestedIDs []int, now time.Time) Normalized {
	out := Normalized{}
	if listing == nil || len(bytes.TrimSpace(listing.Data)) == 0 {
		return out
	}

	var byProfessional map[string]json.RawMessage
	if err := json.Unmarshal(listing.Data, &byProfessional); err != nil {
		n.Logger.Warn("availability: slot payload is not an object", "backend", listing.Backend, "error", err)
		return out
	}

	wanted := make(map[int]bool, len(requestedIDs))
	for _, id := range requestedIDs {
		wanted[id] = true
	}
	nowLocal := now.In(n.Location)

	for rawID, rawDates := range byProfessional {
		id, err := strconv.Atoi(strings.TrimSpace(rawID))
		if err != nil {
			n.Logger.Warn("availability: skipping non-numeric professional key", "backend", listing.Backend, "key", rawID)
			continue
		}
		if len(wanted) > 0 && !wanted[id] {
			continue
		}

		var byDate map[string]json.RawMessage
		if err := json.Unmarshal(rawDates, &byDate); err != nil {
			n.Logger.Warn("availability: professional slots are not keyed by date",
				"backend", listing.Backend, "professional_id", id, "error", err)
			continue
		}

		for date, rawSlots := range byDate {
			day, err := time.ParseInLocation(dateLayout, date, n.Location)
			if err != nil {
				n.Logger.Warn("availability: skipping malformed date", "backend", listing.Backend, "date", date)
				continue
			}
			var entries []json.RawMessage
			if err := json.Unmarshal(rawSlots, &entries); err != nil {
				n.Logger.Warn("availability: slots for date are not a list",
					"backend", listing.Backend, "professional_id", id, "date", date, "error", err)
				continue
			}

			slots := make([]TimeSlot, 0, len(entries))
			for _, rawEntry := range entries {
				var entry map[string]json.RawMessage
				slot, ok := TimeSlot{}, json.Unmarshal(rawEntry, &entry) == nil
				if ok {
					slot, ok = n.parseSlot(entry, day, date)
				}
				if !ok {
					n.Logger.Warn("availability: dropping malformed slot",
						"backend", listing.Backend, "professional_id", id, "date", date)
					continue
				}
				if !slot.Start.After(nowLocal) {
					continue
				}
				slots = append(slots, slot)
			}
			if len(slots) == 0 {
				continue
			}
			if !sort.SliceIsSorted(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) }) {
				sort.SliceStable(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
			}
			if out[id] == nil {
				out[id] = map[string][]TimeSlot{}
			}
			out[id][date] = slots
		}
	}
	return out
}

func (n *Normalizer) parseSlot(entry map[string]json.RawMessage, day time.Time, date string) (TimeSlot, bool) {
	clock, ok := firstString(entry, startKeys)
	if !ok {
		return TimeSlot{}, false
	}
	tod, ok := parseClock(clock)
	if !ok {
		return TimeSlot{}, false
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), 0, 0, n.Location)
	gran := firstPositiveInt(entry, granularityKeys)
	return TimeSlot{
		Date:               date,
		Start:              start,
		GranularityMinutes: gran,
		DurationUnknown:    gran == 0,
	}, true
}

func parseClock(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"15:04:05", clockLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func firstString(entry map[string]json.RawMessage, keys []string) (string, bool) {
	for _, k := range keys {
		raw, ok := entry[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

func firstPositiveInt(entry map[string]json.RawMessage, keys []string) int {
	for _, k := range keys {
		raw, ok := entry[k]
		if !ok {
			continue
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err == nil && f > 0 {
			return int(f)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && v > 0 {
				return v
			}
		}
	}
	return 0
}

// SortedDates returns the dates of m in ascending order.
func SortedDates[T any](m map[string]T) []string {
	dates := make([]string, 0, len(m))
	for d := range m {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}
