package alm

import (
	"fmt"
	"time"
)

// Timeline is the ordered sequence of year offsets 0..Maturity shared by every
// projection. Every per-year vector produced by the engine has length Len().
type Timeline struct {
	OpeningYear int `json:"opening_year"`
	Maturity    int `json:"maturity"`
}

// NewTimeline creates a timeline covering years 0..maturity.
func NewTimeline(openingYear, maturity int) (Timeline, error) {
	if maturity < 1 {
		return Timeline{}, invalidParam("contracts_maturity", "must be at least 1", maturity)
	}
	return Timeline{OpeningYear: openingYear, Maturity: maturity}, nil
}

// TimelineFor derives the projection timeline from a parameter set.
func TimelineFor(p Parameters) (Timeline, error) {
	return NewTimeline(p.OpeningYear, p.ContractsMaturity)
}

// Len returns Maturity + 1.
func (tl Timeline) Len() int {
	return tl.Maturity + 1
}

// Offsets returns 0..Maturity.
func (tl Timeline) Offsets() []int {
	out := make([]int, tl.Len())
	for i := range out {
		out[i] = i
	}
	return out
}

// CalendarYear maps a year offset to its calendar year.
func (tl Timeline) CalendarYear(t int) int {
	return tl.OpeningYear + t
}

// Date returns 1 January of the calendar year of offset t.
func (tl Timeline) Date(t int) time.Time {
	return time.Date(tl.CalendarYear(t), time.January, 1, 0, 0, 0, 0, time.UTC)
}

// Labels returns the calendar years as strings, used as report row index.
func (tl Timeline) Labels() []string {
	out := make([]string, tl.Len())
	for i := range out {
		out[i] = fmt.Sprintf("%d", tl.CalendarYear(i))
	}
	return out
}

func (tl Timeline) vector() []float64 {
	return make([]float64, tl.Len())
}

func (tl Timeline) checkLen(name string, v []float64) error {
	if len(v) != tl.Len() {
		return fmt.Errorf("%s has %d values, timeline has %d years", name, len(v), tl.Len())
	}
	return nil
}
