package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screener/pkg/model"
)

const tol = 1e-9

// series builds bars from closes; each bar spans close*(1±halfRange)
func series(symbol string, closes []float64, halfRange float64, volumes []int64) *model.SymbolSeries {
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		var v int64 = 1000
		if i < len(volumes) {
			v = volumes[i]
		}
		bars[i] = model.Bar{
			Time:   day.AddDate(0, 0, i),
			Open:   c,
			High:   c * (1 + halfRange),
			Low:    c * (1 - halfRange),
			Close:  c,
			Volume: v,
		}
	}
	return &model.SymbolSeries{Symbol: symbol, Bars: bars}
}

func TestComputeExampleAAA(t *testing.T) {
	// closes 100,100,103; every range is 2% of the last close; volume doubles
	s := &model.SymbolSeries{Symbol: "AAA", Bars: []model.Bar{
		{Open: 100, High: 101.03, Low: 98.97, Close: 100, Volume: 1000},
		{Open: 100, High: 101.03, Low: 98.97, Close: 100, Volume: 1000},
		{Open: 102, High: 104.03, Low: 101.97, Close: 103, Volume: 2000},
	}}

	momentum, err := Compute(s, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 3.0, momentum.ChangePct, tol)
	assert.InDelta(t, 2.0, momentum.ATRPct, tol)
	require.NotNil(t, momentum.VolumeRatio)
	assert.InDelta(t, 2.0, *momentum.VolumeRatio, tol)
	assert.InDelta(t, 3.0*0.7+2.0*0.3, momentum.Edge, tol)
	assert.Equal(t, 103.0, momentum.Price)
	assert.Equal(t, int64(2000), momentum.Volume)
	// change 3.0 is not strictly above the 3.0 A threshold
	assert.Equal(t, model.GradeB, momentum.Grade)

	opts := DefaultOptions()
	opts.Policy = PolicyClassic
	classic, err := Compute(s, opts)
	require.NoError(t, err)
	assert.Equal(t, model.GradeA, classic.Grade)
}

func TestChangePctMatchesFormula(t *testing.T) {
	closes := []float64{50, 52.5, 49.875, 51, 60.2}
	s := series("X", closes, 0.01, nil)
	rec, err := Compute(s, DefaultOptions())
	require.NoError(t, err)

	want := (60.2 - 51) / 51 * 100
	assert.InDelta(t, want, rec.ChangePct, tol)
}

func TestATRPctWindow(t *testing.T) {
	// 20 bars; the last 14 have range 4 and the first 6 range 40
	bars := make([]model.Bar, 20)
	for i := range bars {
		r := 4.0
		if i < 6 {
			r = 40
		}
		bars[i] = model.Bar{Open: 100, High: 100 + r/2, Low: 100 - r/2, Close: 100, Volume: 1}
	}

	atr, err := ATRPct(bars, 14)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, atr, tol)

	// fewer bars than the window uses all of them
	atr, err = ATRPct(bars[:3], 14)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, atr, tol)
}

func TestATRPctNonNegative(t *testing.T) {
	for _, hr := range []float64{0, 0.001, 0.05, 0.2} {
		s := series("X", []float64{10, 11, 9, 12}, hr, nil)
		rec, err := Compute(s, DefaultOptions())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rec.ATRPct, 0.0)
	}
}

func TestATRPctRejectsInvertedBar(t *testing.T) {
	bars := []model.Bar{
		{High: 10, Low: 9, Close: 9.5},
		{High: 9, Low: 10, Close: 9.5},
	}
	_, err := ATRPct(bars, 14)
	assert.True(t, errors.Is(err, ErrDegenerateInput))
}

func TestVolumeRatio(t *testing.T) {
	s := series("X", []float64{1, 1, 1, 1}, 0.01, []int64{100, 200, 300, 400})

	ratio, ok := VolumeRatio(s.Bars, 14)
	require.True(t, ok)
	assert.InDelta(t, 2.0, ratio, tol) // 400 / mean(100,200,300)

	ratio, ok = VolumeRatio(s.Bars, 1)
	require.True(t, ok)
	assert.InDelta(t, 400.0/300.0, ratio, tol)
}

func TestZeroTrailingVolumeExcludedFromGrading(t *testing.T) {
	// big move, wide range, but no trailing volume: ratio undefined, still graded A
	s := series("ILLQ", []float64{100, 105}, 0.05, []int64{0, 5000})
	rec, err := Compute(s, DefaultOptions())
	require.NoError(t, err)
	assert.Nil(t, rec.VolumeRatio)
	assert.Equal(t, model.GradeA, rec.Grade)
	assert.False(t, math.IsNaN(rec.Edge))
}

func TestComputeInsufficientData(t *testing.T) {
	for _, n := range []int{0, 1} {
		s := series("ONE", make([]float64, n), 0.01, nil)
		_, err := Compute(s, DefaultOptions())
		assert.True(t, errors.Is(err, ErrInsufficientData), "n=%d", n)
	}
	_, err := Compute(nil, DefaultOptions())
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestComputeDegenerateInput(t *testing.T) {
	tests := map[string][]float64{
		"zero last close":     {100, 0},
		"zero previous close": {0, 100},
		"nan close":           {100, math.NaN()},
		"inf close":           {100, math.Inf(1)},
	}
	for name, closes := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Compute(series("DEG", closes, 0.01, nil), DefaultOptions())
			assert.True(t, errors.Is(err, ErrDegenerateInput), "got %v", err)
		})
	}
}

func TestGradeRuleOrder(t *testing.T) {
	p := PolicyMomentum
	surge := 2.0
	weak := 1.0

	tests := []struct {
		name   string
		change float64
		atr    float64
		ratio  *float64
		want   model.Grade
	}{
		{"A beats B when both match", 3.5, 3.5, &surge, model.GradeA},
		{"A needs volume surge", 3.5, 3.5, &weak, model.GradeB},
		{"A without volume data", 3.5, 3.5, nil, model.GradeA},
		{"B", 1.2, 1.6, &weak, model.GradeB},
		{"B needs volatility", 1.2, 1.0, &weak, model.GradeC},
		{"C", 0.1, 0.1, nil, model.GradeC},
		{"flat", 0, 5, &surge, model.NoGrade},
		{"down", -2, 5, &surge, model.NoGrade},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Grade(tt.change, tt.atr, tt.ratio)
			assert.Equal(t, tt.want, got)
			// pure function: same input, same answer
			assert.Equal(t, got, p.Grade(tt.change, tt.atr, tt.ratio))
		})
	}
}

func TestClassicPolicy(t *testing.T) {
	p := PolicyClassic
	assert.Equal(t, model.GradeA, p.Grade(1.1, 1.6, nil))
	assert.Equal(t, model.GradeB, p.Grade(1.1, 0, nil))
	assert.Equal(t, model.GradeB, p.Grade(0.6, 0, nil))
	assert.Equal(t, model.GradeC, p.Grade(0.4, 10, nil))
	assert.Equal(t, model.NoGrade, p.Grade(-0.1, 10, nil))
}

func TestLookupPolicy(t *testing.T) {
	p, err := LookupPolicy("")
	require.NoError(t, err)
	assert.Equal(t, "momentum", p.Name)

	p, err = LookupPolicy(" Classic ")
	require.NoError(t, err)
	assert.Equal(t, PolicyClassic, p)

	_, err = LookupPolicy("yolo")
	assert.Error(t, err)

	assert.Equal(t, []string{"classic", "momentum"}, PolicyNames())
	assert.Len(t, Policies(), 2)
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, PolicyMomentum.Validate())
	assert.NoError(t, PolicyClassic.Validate())

	bad := PolicyMomentum
	bad.BVol = math.NaN()
	assert.Error(t, bad.Validate())
}

func TestAggregate(t *testing.T) {
	opts := DefaultOptions()
	recA, err := Compute(series("AAA", []float64{100, 104}, 0.02, nil), opts)
	require.NoError(t, err)
	recB, err := Compute(series("BBB", []float64{100, 99}, 0.05, nil), opts)
	require.NoError(t, err)

	outcomes := []Outcome{
		Ok(recA),
		Skipped("ZZZ", model.SkipFetchFailed, errors.New("timeout")),
		Ok(recB),
		Skipped("ONE", model.SkipInsufficientData, nil),
	}

	rs := Aggregate(outcomes, model.SortByATR)
	assert.Equal(t, 4, rs.Total)
	require.Len(t, rs.Records, 2)
	assert.Equal(t, "BBB", rs.Records[0].Symbol, "higher ATR first")
	assert.Equal(t, 2, rs.SkippedCount)
	assert.Equal(t, 1, rs.SkipReasons[model.SkipFetchFailed])
	assert.Equal(t, 1, rs.SkipReasons[model.SkipInsufficientData])
	assert.Equal(t, "ONE", rs.Skipped[0].Symbol)
	assert.Equal(t, "timeout", rs.Skipped[1].Detail)
	assert.Equal(t, rs.CountGrade(model.NoGrade), rs.GradeCounts["No Grade"])

	// reversed input order gives an identical result
	rev := []Outcome{outcomes[3], outcomes[2], outcomes[1], outcomes[0]}
	assert.Equal(t, rs, Aggregate(rev, model.SortByATR))
}
