// Package aggregate reduces per-clip CRFs to the single value used for
// the full-length encode.
package aggregate

import (
	"fmt"
	"strings"

	"github.com/gwlsn/crfhunt/internal/errs"
)

// Policy selects how per-clip values are combined.
type Policy int

const (
	// Minimum picks the smallest CRF, i.e. the clip that needed the most
	// fidelity wins.
	Minimum Policy = iota
	// Average is the integer mean, truncated toward zero.
	Average
)

func (p Policy) String() string {
	switch p {
	case Minimum:
		return "smallest"
	case Average:
		return "average"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses a policy name. An empty name is Minimum.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "smallest", "minimum", "min":
		return Minimum, nil
	case "average", "avg", "mean":
		return Average, nil
	default:
		return Minimum, errs.Newf(errs.KindValidation, "aggregate", "", "unknown crf option %q (want smallest or average)", s)
	}
}

// Aggregate combines values under policy. Empty input is an EmptyInput error.
func Aggregate(values []int, policy Policy) (int, error) {
	if len(values) == 0 {
		return 0, errs.Newf(errs.KindEmptyInput, "aggregate", "", "no clip results to aggregate")
	}

	switch policy {
	case Minimum:
		lowest := values[0]
		for _, v := range values[1:] {
			lowest = min(lowest, v)
		}
		return lowest, nil
	case Average:
		sum := 0
		for _, v := range values {
			sum += v
		}
		return sum / len(values), nil
	default:
		return 0, errs.Newf(errs.KindValidation, "aggregate", "", "unknown policy %v", policy)
	}
}

// Summary holds both aggregates for reporting alongside the chosen one.
type Summary struct {
	Values   []int
	Minimum  int
	Average  int
	Policy   Policy
	Selected int
}

// Summarize computes both aggregates and selects the one named by policy.
func Summarize(values []int, policy Policy) (*Summary, error) {
	lowest, err := Aggregate(values, Minimum)
	if err != nil {
		return nil, err
	}
	avg, err := Aggregate(values, Average)
	if err != nil {
		return nil, err
	}
	selected, err := Aggregate(values, policy)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Values:   values,
		Minimum:  lowest,
		Average:  avg,
		Policy:   policy,
		Selected: selected,
	}, nil
}
