package alm

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// SeriesName identifies an input series held by the Store.
type SeriesName string

const (
	SeriesForwardRates     SeriesName = "forward_rates"
	SeriesLiquidityPremium SeriesName = "liquidity_premium"
	SeriesRepurchaseRates  SeriesName = "repurchase_rates"
	SeriesMortalityTable   SeriesName = "mortality_table"
)

// VolatilitySuffix marks the volatility column paired with a value column,
// e.g. "10Y_Vol" for "10Y".
const VolatilitySuffix = "_Vol"

// RepurchaseColumn is the preferred value column of the repurchase series.
const RepurchaseColumn = "Rate"

// Observation is one dated row of a series. Absent cells are NaN or missing keys.
type Observation struct {
	Date   time.Time          `json:"date"`
	Values map[string]float64 `json:"values"`
}

// DatedSeries is a date-indexed table of named numeric columns.
type DatedSeries struct {
	Name         SeriesName    `json:"name"`
	Columns      []string      `json:"columns"`
	Observations []Observation `json:"observations"`
}

// NewDatedSeries sorts the observations by date and checks the series is usable.
func NewDatedSeries(name SeriesName, columns []string, obs []Observation) (*DatedSeries, error) {
	if len(obs) == 0 {
		return nil, missingSeries(string(name), "", "no observations")
	}
	if len(columns) == 0 {
		return nil, missingSeries(string(name), "", "no value columns")
	}
	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &DatedSeries{Name: name, Columns: cols, Observations: sorted}, nil
}

// NewYearlySeries builds a dated series from year-indexed vectors, dating value
// i at 1 January of openingYear+i.
func NewYearlySeries(name SeriesName, openingYear int, columns map[string][]float64) (*DatedSeries, error) {
	names := make([]string, 0, len(columns))
	n := 0
	for c, v := range columns {
		names = append(names, c)
		if len(v) > n {
			n = len(v)
		}
	}
	sort.Strings(names)

	obs := make([]Observation, n)
	for i := range obs {
		obs[i] = Observation{
			Date:   time.Date(openingYear+i, time.January, 1, 0, 0, 0, 0, time.UTC),
			Values: make(map[string]float64, len(names)),
		}
		for _, c := range names {
			if i < len(columns[c]) {
				obs[i].Values[c] = columns[c][i]
			}
		}
	}
	return NewDatedSeries(name, names, obs)
}

// HasColumn reports whether column is part of the series.
func (s *DatedSeries) HasColumn(column string) bool {
	for _, c := range s.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// ValueColumns returns the columns that are not volatility columns.
func (s *DatedSeries) ValueColumns() []string {
	out := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		if !strings.HasSuffix(c, VolatilitySuffix) {
			out = append(out, c)
		}
	}
	return out
}

// ResolveColumn returns preferred when present, otherwise the first value column.
func (s *DatedSeries) ResolveColumn(preferred string) (string, error) {
	if preferred != "" && s.HasColumn(preferred) {
		return preferred, nil
	}
	vc := s.ValueColumns()
	if len(vc) == 0 {
		return "", missingSeries(string(s.Name), preferred, "no value columns")
	}
	return vc[0], nil
}

// nearest returns the observation closest to date; ties go to the earlier one.
func (s *DatedSeries) nearest(date time.Time) Observation {
	obs := s.Observations
	i := sort.Search(len(obs), func(i int) bool {
		return !obs[i].Date.Before(date)
	})
	switch {
	case i == 0:
		return obs[0]
	case i == len(obs):
		return obs[len(obs)-1]
	}
	before, after := obs[i-1], obs[i]
	if date.Sub(before.Date) <= after.Date.Sub(date) {
		return before
	}
	return after
}

// Align reads column for every year of the timeline using the nearest dated
// observation. A missing or NaN cell fails with ErrMissingSeries.
func (s *DatedSeries) Align(tl Timeline, column string) ([]float64, error) {
	if !s.HasColumn(column) {
		return nil, missingSeries(string(s.Name), column, "column not loaded")
	}
	out := tl.vector()
	for t := range out {
		o := s.nearest(tl.Date(t))
		v, ok := o.Values[column]
		if !ok || math.IsNaN(v) {
			return nil, missingSeries(string(s.Name), column,
				fmt.Sprintf("no value for %d", tl.CalendarYear(t)))
		}
		out[t] = v
	}
	return out, nil
}

// AlignOr behaves like Align but fills the whole vector with fallback when the
// column is absent. Missing cells inside a present column still fail.
func (s *DatedSeries) AlignOr(tl Timeline, column string, fallback float64) ([]float64, error) {
	if !s.HasColumn(column) {
		out := tl.vector()
		for t := range out {
			out[t] = fallback
		}
		return out, nil
	}
	return s.Align(tl, column)
}

func (s *DatedSeries) fingerprint() []byte {
	h := sha256.New()
	h.Write([]byte(s.Name))
	for _, c := range s.Columns {
		h.Write([]byte(c))
	}
	buf := make([]byte, 8)
	for _, o := range s.Observations {
		binary.LittleEndian.PutUint64(buf, uint64(o.Date.Unix()))
		h.Write(buf)
		for _, c := range s.Columns {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(o.Values[c]))
			h.Write(buf)
		}
	}
	return h.Sum(nil)
}

// MortalityTable holds one-year death (Qx) and survival (Px) probabilities by age.
type MortalityTable struct {
	Ages []int     `json:"ages"`
	Qx   []float64 `json:"qx"`
	Px   []float64 `json:"px"`
}

// NewMortalityTable sorts the rows by age and validates the probabilities.
// A nil px is derived as 1 - qx.
func NewMortalityTable(ages []int, qx, px []float64) (*MortalityTable, error) {
	if len(ages) == 0 {
		return nil, missingSeries(string(SeriesMortalityTable), "", "no rows")
	}
	if len(qx) != len(ages) || (px != nil && len(px) != len(ages)) {
		return nil, missingSeries(string(SeriesMortalityTable), "", "column lengths differ")
	}

	idx := make([]int, len(ages))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return ages[idx[a]] < ages[idx[b]] })

	mt := &MortalityTable{
		Ages: make([]int, len(ages)),
		Qx:   make([]float64, len(ages)),
		Px:   make([]float64, len(ages)),
	}
	for k, i := range idx {
		q := qx[i]
		if math.IsNaN(q) || q < 0 || q > 1 {
			return nil, missingSeries(string(SeriesMortalityTable), "Qx",
				fmt.Sprintf("invalid probability %v at age %d", q, ages[i]))
		}
		if k > 0 && ages[i] == mt.Ages[k-1] {
			return nil, missingSeries(string(SeriesMortalityTable), "Age",
				fmt.Sprintf("duplicate age %d", ages[i]))
		}
		mt.Ages[k] = ages[i]
		mt.Qx[k] = q
		if px != nil && !math.IsNaN(px[i]) {
			mt.Px[k] = px[i]
		} else {
			mt.Px[k] = 1 - q
		}
	}
	return mt, nil
}

// DefaultMortalityTable is the fallback table qx(age) = 0.001 * 1.1^age for
// ages 0..99, capped at 1.
func DefaultMortalityTable() *MortalityTable {
	const maxAge = 99
	ages := make([]int, maxAge+1)
	qx := make([]float64, maxAge+1)
	for a := range ages {
		ages[a] = a
		qx[a] = math.Min(1, 0.001*math.Pow(1.1, float64(a)))
	}
	mt, _ := NewMortalityTable(ages, qx, nil)
	return mt
}

// MaxAge returns the highest age in the table.
func (m *MortalityTable) MaxAge() int {
	return m.Ages[len(m.Ages)-1]
}

// QxAt returns the death probability for age. Ages above the table use the
// terminal Qx; ages below it or gaps inside it fail with ErrMissingSeries.
func (m *MortalityTable) QxAt(age int) (float64, error) {
	if age > m.MaxAge() {
		return m.Qx[len(m.Qx)-1], nil
	}
	i := sort.SearchInts(m.Ages, age)
	if i < len(m.Ages) && m.Ages[i] == age {
		return m.Qx[i], nil
	}
	return 0, missingSeries(string(SeriesMortalityTable), "Qx", fmt.Sprintf("no row for age %d", age))
}

func (m *MortalityTable) fingerprint() []byte {
	h := sha256.New()
	buf := make([]byte, 8)
	for i, a := range m.Ages {
		binary.LittleEndian.PutUint64(buf, uint64(a))
		h.Write(buf)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(m.Qx[i]))
		h.Write(buf)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(m.Px[i]))
		h.Write(buf)
	}
	return h.Sum(nil)
}

// Store holds the loaded input series. The engine owns one Store for its lifetime.
type Store struct {
	dated     map[SeriesName]*DatedSeries
	mortality *MortalityTable
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{dated: make(map[SeriesName]*DatedSeries)}
}

// SetDated registers (or replaces) a dated series under its name.
func (s *Store) SetDated(series *DatedSeries) {
	s.dated[series.Name] = series
}

// SetMortality registers (or replaces) the mortality table.
func (s *Store) SetMortality(m *MortalityTable) {
	s.mortality = m
}

// Dated returns a dated series.
func (s *Store) Dated(name SeriesName) (*DatedSeries, bool) {
	d, ok := s.dated[name]
	return d, ok
}

// Mortality returns the mortality table.
func (s *Store) Mortality() (*MortalityTable, bool) {
	return s.mortality, s.mortality != nil
}

// Require returns the named dated series or ErrMissingSeries.
func (s *Store) Require(name SeriesName) (*DatedSeries, error) {
	d, ok := s.dated[name]
	if !ok {
		return nil, missingSeries(string(name), "", "not loaded")
	}
	return d, nil
}

// RequireMortality returns the mortality table or ErrMissingSeries.
func (s *Store) RequireMortality() (*MortalityTable, error) {
	if s.mortality == nil {
		return nil, missingSeries(string(SeriesMortalityTable), "", "not loaded")
	}
	return s.mortality, nil
}

// Loaded lists the names of the series present in the store.
func (s *Store) Loaded() []SeriesName {
	out := make([]SeriesName, 0, len(s.dated)+1)
	for name := range s.dated {
		out = append(out, name)
	}
	if s.mortality != nil {
		out = append(out, SeriesMortalityTable)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fingerprint hashes the store contents; two stores with equal data share it.
func (s *Store) Fingerprint() string {
	h := sha256.New()
	for _, name := range s.Loaded() {
		h.Write([]byte(name))
		if name == SeriesMortalityTable {
			h.Write(s.mortality.fingerprint())
			continue
		}
		h.Write(s.dated[name].fingerprint())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Clone returns a shallow copy that can be modified without affecting s.
func (s *Store) Clone() *Store {
	c := NewStore()
	for k, v := range s.dated {
		c.dated[k] = v
	}
	c.mortality = s.mortality
	return c
}
