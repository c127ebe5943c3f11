package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// day builds slots on 2025-03-03 from "HH:MM" starts with the given granularity.
func day(gran int, clocks ...string) []TimeSlot {
	out := make([]TimeSlot, 0, len(clocks))
	for _, c := range clocks {
		t, _ := time.Parse(clockLayout, c)
		out = append(out, TimeSlot{
			Date:               "2025-03-03",
			Start:              time.Date(2025, 3, 3, t.Hour(), t.Minute(), 0, 0, time.UTC),
			GranularityMinutes: gran,
			DurationUnknown:    gran == 0,
		})
	}
	return out
}

func TestFilterForDurationUniform(t *testing.T) {
	tests := []struct {
		name     string
		slots    []TimeSlot
		required int
		want     []string
	}{
		{"no requirement returns all", day(30, "09:00", "09:30", "11:00"), 0, []string{"09:00", "09:30", "11:00"}},
		{"single block returns all", day(30, "09:00", "09:30", "11:00"), 20, []string{"09:00", "09:30", "11:00"}},
		{"two blocks need a neighbour", day(30, "09:00", "09:30", "10:00"), 60, []string{"09:00", "09:30"}},
		{"gap breaks the run", day(30, "09:00", "09:30", "10:30", "11:00"), 60, []string{"09:00", "10:30"}},
		{"rounds up to whole blocks", day(30, "09:00", "09:30", "10:00", "12:00"), 45, []string{"09:00", "09:30"}},
		{"longer than the day", day(30, "09:00", "09:30"), 90, []string{}},
		{"empty input", nil, 60, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterForDuration(tt.slots, tt.required))
		})
	}
}

func TestFilterForDurationHeterogeneous(t *testing.T) {
	slots := append(day(15, "09:00"), day(30, "09:15", "09:45")...)
	slots = append(slots, day(15, "11:00")...)

	assert.Equal(t, []string{"09:00", "09:15"}, FilterForDuration(slots, 45))
	assert.Equal(t, []string{"09:00"}, FilterForDuration(slots, 75))
	assert.Equal(t, []string{}, FilterForDuration(slots, 90))
}

func TestFilterForDurationDerivedGranularity(t *testing.T) {
	slots := day(0, "09:00", "09:20", "09:40", "10:30")

	assert.Equal(t, 20, DeriveGranularity(slots))
	assert.Equal(t, []string{"09:00", "09:20"}, FilterForDuration(slots, 40))
}

func TestFilterForDurationDerivedToleratesOneMinute(t *testing.T) {
	slots := day(0, "09:00", "09:20", "09:41", "10:30")

	assert.Equal(t, []string{"09:00", "09:20"}, FilterForDuration(slots, 40))
}

func TestFilterForDurationUnknownNeverStartsRun(t *testing.T) {
	// A single slot gives nothing to derive from.
	slots := day(0, "09:00")
	assert.Equal(t, []string{}, FilterForDuration(slots, 30))
	assert.Equal(t, []string{"09:00"}, FilterForDuration(slots, 0))

	// Spacing above the derivation ceiling leaves durations unknown.
	wide := day(0, "09:00", "12:00")
	assert.Equal(t, 0, DeriveGranularity(wide))
	assert.Equal(t, []string{}, FilterForDuration(wide, 30))
}

func TestFilterForDurationUnknownBreaksRuns(t *testing.T) {
	trailing := append(day(30, "09:00"), day(0, "09:30")...)
	assert.Equal(t, []string{}, FilterForDuration(trailing, 60))

	// Spacing after a 15 minute slot is a gap, not a length for the unknown ones.
	gapped := append(day(15, "09:00"), day(0, "09:30", "10:00")...)
	assert.Equal(t, []string{}, FilterForDuration(gapped, 60))

	middle := append(day(30, "09:00"), day(0, "09:30")...)
	middle = append(middle, day(30, "10:00", "10:30")...)
	assert.Equal(t, []string{"10:00"}, FilterForDuration(middle, 60))

	odd := append(day(30, "09:00"), day(0, "12:30")...)
	assert.Equal(t, []string{}, FilterForDuration(odd, 60))
}

func TestFilterForDurationProperties(t *testing.T) {
	inputs := [][]TimeSlot{
		day(30, "09:00", "09:30", "10:00", "10:30", "14:00"),
		day(0, "08:00", "08:15", "08:30", "09:30"),
		append(day(20, "10:00", "10:20"), day(40, "10:40")...),
	}
	for _, slots := range inputs {
		starts := map[string]bool{}
		for _, s := range slots {
			starts[s.Clock()] = true
		}
		for _, required := range []int{0, 15, 30, 45, 60, 90, 240} {
			got := FilterForDuration(slots, required)
			for _, c := range got {
				assert.True(t, starts[c], "result %s is not an input start", c)
			}
			assert.Equal(t, got, FilterForDuration(slots, required))
		}
	}
}
