package availability

import (
	"time"
)

const (
	maxDerivedGranularity = 120 // minutes
	derivedTolerance      = time.Minute
)

// FilterForDuration returns the HH:MM start of every slot that begins an
// unbroken run of adjacent slots covering requiredMinutes. Interior slots of
// a run are never returned and nothing outside slots is ever produced.
//
// Slots must be ascending. Explicit granularities are matched exactly; when no
// slot has one, the spacing of the first two slots stands in for it and
// adjacency allows one minute of drift. When any slot carries a granularity,
// nothing is inferred for the rest. Slots whose length cannot be
// established never start a run and break runs through them.
func FilterForDuration(slots []TimeSlot, requiredMinutes int) []string {
	out := make([]string, 0, len(slots))
	if requiredMinutes <= 0 {
		for _, s := range slots {
			out = append(out, s.Clock())
		}
		return out
	}

	durations, derived := effectiveDurations(slots)

	if gran, tolerance, ok := uniform(durations, derived); ok {
		blocks := (requiredMinutes + gran - 1) / gran
		if blocks <= 1 {
			for _, s := range slots {
				out = append(out, s.Clock())
			}
			return out
		}
		for i := 0; i+blocks <= len(slots); i++ {
			if runIsAdjacent(slots[i:i+blocks], gran, tolerance) {
				out = append(out, slots[i].Clock())
			}
		}
		return out
	}

	for i := range slots {
		if durations[i] == 0 {
			continue
		}
		total := durations[i]
		for j := i; total < requiredMinutes && j+1 < len(slots); j++ {
			if durations[j+1] == 0 {
				break
			}
			tolerance := time.Duration(0)
			if derived[j] || derived[j+1] {
				tolerance = derivedTolerance
			}
			if !adjacent(slots[j], slots[j+1], durations[j], tolerance) {
				break
			}
			total += durations[j+1]
		}
		if total >= requiredMinutes {
			out = append(out, slots[i].Clock())
		}
	}
	return out
}

// effectiveDurations resolves each slot's length in minutes. derived[i] marks
// lengths inferred from slot spacing rather than reported by the backend.
func effectiveDurations(slots []TimeSlot) ([]int, []bool) {
	durations := make([]int, len(slots))
	derived := make([]bool, len(slots))
	inferred := DeriveGranularity(slots)
	for _, s := range slots {
		if s.GranularityMinutes > 0 {
			// Spacing is only trusted when no slot reports a length.
			inferred = 0
			break
		}
	}
	for i, s := range slots {
		switch {
		case s.GranularityMinutes > 0:
			durations[i] = s.GranularityMinutes
		case inferred > 0:
			durations[i] = inferred
			derived[i] = true
		}
	}
	return durations, derived
}

// DeriveGranularity infers slot length from the spacing of the first two
// slots. It returns 0 when fewer than two slots exist or the spacing is not
// within (0, 120] minutes.
func DeriveGranularity(slots []TimeSlot) int {
	if len(slots) < 2 {
		return 0
	}
	diff := int(slots[1].Start.Sub(slots[0].Start) / time.Minute)
	if diff <= 0 || diff > maxDerivedGranularity {
		return 0
	}
	return diff
}

func uniform(durations []int, derived []bool) (int, time.Duration, bool) {
	if len(durations) == 0 {
		return 0, 0, false
	}
	gran := durations[0]
	tolerance := time.Duration(0)
	for i, d := range durations {
		if d == 0 || d != gran {
			return 0, 0, false
		}
		if derived[i] {
			tolerance = derivedTolerance
		}
	}
	return gran, tolerance, true
}

func runIsAdjacent(run []TimeSlot, gran int, tolerance time.Duration) bool {
	for k := 0; k+1 < len(run); k++ {
		if !adjacent(run[k], run[k+1], gran, tolerance) {
			return false
		}
	}
	return true
}

func adjacent(a, b TimeSlot, minutes int, tolerance time.Duration) bool {
	gap := b.Start.Sub(a.Start) - time.Duration(minutes)*time.Minute
	if gap < 0 {
		gap = -gap
	}
	return gap <= tolerance
}
