package executor

import (
	"fmt"
	"strconv"
	"strings"
)

// evaluateRule checks a validation expression of the form
// "<metric> <op> <value>" (ops: <, >, <=, >=, ==) against observed metrics.
// A rule naming an unobserved metric evaluates false.
func evaluateRule(rule string, metrics map[string]float64) (bool, error) {
	fields := strings.Fields(rule)
	if len(fields) != 3 {
		return false, fmt.Errorf("expected \"<metric> <op> <value>\", got %q", rule)
	}

	value, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return false, fmt.Errorf("invalid threshold %q: %w", fields[2], err)
	}

	observed, ok := metrics[fields[0]]
	if !ok {
		return false, nil
	}

	switch fields[1] {
	case "<":
		return observed < value, nil
	case ">":
		return observed > value, nil
	case "<=":
		return observed <= value, nil
	case ">=":
		return observed >= value, nil
	case "==":
		return observed == value, nil
	}
	return false, fmt.Errorf("unknown operator %q", fields[1])
}
