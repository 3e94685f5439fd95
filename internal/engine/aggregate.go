package engine

import "screener/pkg/model"

// Outcome is one symbol's result: exactly one of Record or Skip is set
type Outcome struct {
	Record *model.MetricRecord
	Skip   *model.Skip
}

// Ok wraps a computed record
func Ok(rec model.MetricRecord) Outcome {
	return Outcome{Record: &rec}
}

// Skipped wraps an excluded symbol
func Skipped(symbol string, reason model.SkipReason, err error) Outcome {
	s := model.Skip{Symbol: symbol, Reason: reason}
	if err != nil {
		s.Detail = err.Error()
	}
	return Outcome{Skip: &s}
}

// Aggregate builds a sorted, tallied ResultSet. The outcome order does not
// affect the result.
func Aggregate(outcomes []Outcome, key model.SortKey) *model.ResultSet {
	rs := &model.ResultSet{
		Total:   len(outcomes),
		Records: make([]model.MetricRecord, 0, len(outcomes)),
		Skipped: []model.Skip{},
	}
	for _, o := range outcomes {
		switch {
		case o.Record != nil:
			rs.Records = append(rs.Records, *o.Record)
		case o.Skip != nil:
			rs.Skipped = append(rs.Skipped, *o.Skip)
		}
	}
	rs.SortBy(key)
	rs.Tally()
	return rs
}
