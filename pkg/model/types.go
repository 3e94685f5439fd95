package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Bar represents a single daily OHLCV observation
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// TrueRange returns the simplified true range (high - low, no gap adjustment)
func (b Bar) TrueRange() float64 {
	return b.High - b.Low
}

// SymbolSeries is a bare symbol with its bars ordered oldest to newest
type SymbolSeries struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// Last returns the most recent bar
func (s *SymbolSeries) Last() Bar {
	return s.Bars[len(s.Bars)-1]
}

// Grade is the discrete signal strength, ordered weakest to strongest
type Grade int

const (
	NoGrade Grade = iota
	GradeC
	GradeB
	GradeA
)

// AllGrades lists grades strongest first
var AllGrades = []Grade{GradeA, GradeB, GradeC, NoGrade}

func (g Grade) String() string {
	switch g {
	case GradeA:
		return "Grade A"
	case GradeB:
		return "Grade B"
	case GradeC:
		return "Grade C"
	default:
		return "No Grade"
	}
}

// ParseGrade accepts "A", "grade-a", "Grade A" and similar spellings
func ParseGrade(s string) (Grade, error) {
	n := strings.ToUpper(strings.TrimSpace(s))
	n = strings.NewReplacer("GRADE", "", "-", "", "_", "", " ", "").Replace(n)
	switch n {
	case "A":
		return GradeA, nil
	case "B":
		return GradeB, nil
	case "C":
		return GradeC, nil
	case "", "NO", "NONE", "NOGRADE":
		return NoGrade, nil
	}
	return NoGrade, fmt.Errorf("unknown grade: %q", s)
}

func (g Grade) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.String())
}

func (g *Grade) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseGrade(s)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// MetricRecord is one symbol's derived snapshot for a single run
type MetricRecord struct {
	Symbol      string   `json:"symbol"`
	Price       float64  `json:"price"`
	ChangePct   float64  `json:"change_pct"`
	ATRPct      float64  `json:"atr_pct"`
	VolumeRatio *float64 `json:"volume_ratio,omitempty"` // nil when trailing average volume is zero
	Volume      int64    `json:"volume"`
	Edge        float64  `json:"edge"`
	Grade       Grade    `json:"grade"`
}

// SkipReason classifies why a symbol is absent from a ResultSet
type SkipReason string

const (
	SkipFetchFailed      SkipReason = "fetch_failed"
	SkipInsufficientData SkipReason = "insufficient_data"
	SkipDegenerateInput  SkipReason = "degenerate_input"
)

// Skip records one excluded symbol
type Skip struct {
	Symbol string     `json:"symbol"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}

// SortKey selects the ResultSet ordering
type SortKey string

const (
	SortByATR         SortKey = "atr"
	SortByChange      SortKey = "change"
	SortByEdge        SortKey = "edge"
	SortByVolumeRatio SortKey = "volume_ratio"
	SortBySymbol      SortKey = "symbol"
)

// ParseSortKey validates a sort key, defaulting to ATR
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SortByATR, nil
	case SortByATR, SortByChange, SortByEdge, SortByVolumeRatio, SortBySymbol:
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key: %q (available: atr, change, edge, volume_ratio, symbol)", s)
}

// ResultSet is the aggregated output of one pipeline run
type ResultSet struct {
	RunID        string             `json:"run_id"`
	Policy       string             `json:"policy"`
	SortKey      SortKey            `json:"sort_key"`
	Total        int                `json:"total"`
	Records      []MetricRecord     `json:"records"`
	Skipped      []Skip             `json:"skipped"`
	SkippedCount int                `json:"skipped_count"`
	SkipReasons  map[SkipReason]int `json:"skip_reasons"`
	GradeCounts  map[string]int     `json:"grade_counts"`
	StartedAt    time.Time          `json:"started_at"`
	Duration     time.Duration      `json:"duration"`
}

// Empty reports whether no symbol produced metrics
func (r *ResultSet) Empty() bool {
	return len(r.Records) == 0
}

// CountGrade tallies records with the given grade
func (r *ResultSet) CountGrade(g Grade) int {
	n := 0
	for _, rec := range r.Records {
		if rec.Grade == g {
			n++
		}
	}
	return n
}

// Tally recomputes grade counts and skip reasons from the records and skips
func (r *ResultSet) Tally() {
	r.GradeCounts = make(map[string]int, len(AllGrades))
	for _, g := range AllGrades {
		r.GradeCounts[g.String()] = r.CountGrade(g)
	}
	r.SkipReasons = make(map[SkipReason]int)
	for _, s := range r.Skipped {
		r.SkipReasons[s.Reason]++
	}
	r.SkippedCount = len(r.Skipped)
}

// Clone returns a copy whose slices can be reordered independently
func (r *ResultSet) Clone() *ResultSet {
	out := *r
	out.Records = make([]MetricRecord, len(r.Records))
	copy(out.Records, r.Records)
	out.Skipped = make([]Skip, len(r.Skipped))
	copy(out.Skipped, r.Skipped)
	return &out
}

// Filter returns a copy holding only records with the given grade
func (r *ResultSet) Filter(g Grade) *ResultSet {
	out := r.Clone()
	out.Records = make([]MetricRecord, 0, len(r.Records))
	for _, rec := range r.Records {
		if rec.Grade == g {
			out.Records = append(out.Records, rec)
		}
	}
	return out
}

// SortBy orders records by key. Numeric keys sort descending, symbol ascending;
// ties fall back to symbol so output never depends on fetch completion order.
func (r *ResultSet) SortBy(key SortKey) {
	r.SortKey = key
	sort.SliceStable(r.Records, func(i, j int) bool {
		a, b := r.Records[i], r.Records[j]
		var va, vb float64
		switch key {
		case SortBySymbol:
			return a.Symbol < b.Symbol
		case SortByChange:
			va, vb = a.ChangePct, b.ChangePct
		case SortByEdge:
			va, vb = a.Edge, b.Edge
		case SortByVolumeRatio:
			va, vb = ratioOrNeg(a.VolumeRatio), ratioOrNeg(b.VolumeRatio)
		default:
			va, vb = a.ATRPct, b.ATRPct
		}
		if va != vb {
			return va > vb
		}
		return a.Symbol < b.Symbol
	})
	sort.SliceStable(r.Skipped, func(i, j int) bool {
		return r.Skipped[i].Symbol < r.Skipped[j].Symbol
	})
}

func ratioOrNeg(v *float64) float64 {
	if v == nil {
		return -1
	}
	return *v
}
