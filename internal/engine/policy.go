package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"screener/pkg/model"
)

// Off disables a threshold: every finite value is greater than it
var Off = math.Inf(-1)

// GradingPolicy holds the ordered grading thresholds. All comparisons are
// strict (value > threshold).
type GradingPolicy struct {
	Name string `json:"name"`

	AChange      float64 `json:"a_change"`
	AVol         float64 `json:"a_vol"`
	AVolumeRatio float64 `json:"a_volume_ratio"` // ignored when a symbol's ratio is undefined
	BChange      float64 `json:"b_change"`
	BVol         float64 `json:"b_vol"`
}

var (
	// PolicyMomentum is the default: strong day moves with wide ranges and a volume surge
	PolicyMomentum = GradingPolicy{
		Name:         "momentum",
		AChange:      3.0,
		AVol:         3.0,
		AVolumeRatio: 1.5,
		BChange:      1.0,
		BVol:         1.5,
	}

	// PolicyClassic is the first dashboard's rule set, no volume confirmation
	PolicyClassic = GradingPolicy{
		Name:         "classic",
		AChange:      1.0,
		AVol:         1.5,
		AVolumeRatio: Off,
		BChange:      0.5,
		BVol:         Off,
	}
)

var policies = map[string]GradingPolicy{
	PolicyMomentum.Name: PolicyMomentum,
	PolicyClassic.Name:  PolicyClassic,
}

// DefaultPolicy returns the policy used when none is configured
func DefaultPolicy() GradingPolicy {
	return PolicyMomentum
}

// LookupPolicy finds a named policy
func LookupPolicy(name string) (GradingPolicy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultPolicy(), nil
	}
	p, ok := policies[name]
	if !ok {
		return GradingPolicy{}, fmt.Errorf("unknown grading policy: %s (available: %s)", name, strings.Join(PolicyNames(), ", "))
	}
	return p, nil
}

// PolicyNames lists the built-in policy names
func PolicyNames() []string {
	names := make([]string, 0, len(policies))
	for n := range policies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Policies lists the built-in policies by name
func Policies() []GradingPolicy {
	out := make([]GradingPolicy, 0, len(policies))
	for _, n := range PolicyNames() {
		out = append(out, policies[n])
	}
	return out
}

// Validate rejects NaN thresholds, which would silently never match
func (p GradingPolicy) Validate() error {
	for name, v := range map[string]float64{
		"a_change": p.AChange, "a_vol": p.AVol, "a_volume_ratio": p.AVolumeRatio,
		"b_change": p.BChange, "b_vol": p.BVol,
	} {
		if math.IsNaN(v) {
			return fmt.Errorf("policy %s: %s is NaN", p.Name, name)
		}
	}
	return nil
}

// Grade applies the rules top to bottom, first match wins:
//
//	A: change > AChange && atr > AVol && (ratio undefined || ratio > AVolumeRatio)
//	B: change > BChange && atr > BVol
//	C: change > 0
func (p GradingPolicy) Grade(changePct, atrPct float64, volumeRatio *float64) model.Grade {
	volumeOK := volumeRatio == nil || *volumeRatio > p.AVolumeRatio
	switch {
	case changePct > p.AChange && atrPct > p.AVol && volumeOK:
		return model.GradeA
	case changePct > p.BChange && atrPct > p.BVol:
		return model.GradeB
	case changePct > 0:
		return model.GradeC
	default:
		return model.NoGrade
	}
}
