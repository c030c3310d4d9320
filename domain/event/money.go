package event

import (
	"math"
	"strings"

	"github.com/artpar/billmeter/domain/failure"
	"github.com/shopspring/decimal"
)

var (
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
)

// MinorUnits converts a decimal amount such as "250.75" into integer minor
// units ("250.75" with places 2 is 25075). Amounts with more precision than
// places are rejected rather than rounded.
func MinorUnits(amount string, places int32) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, failure.Wrap(failure.InvalidData, err, "amount "+amount)
	}
	scaled := d.Shift(places)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, failure.Newf(failure.InvalidData, "amount %s has more than %d decimal places", amount, places)
	}
	if scaled.GreaterThan(maxInt64) || scaled.LessThan(minInt64) {
		return 0, failure.Newf(failure.InvalidData, "amount %s out of range", amount)
	}
	return scaled.IntPart(), nil
}

// ParseWholeAmount parses a numeric aggregate as returned by a database
// driver ("42", "42.000", "-7"). Fractional or unparseable values fail.
func ParseWholeAmount(raw string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, failure.Newf(failure.PriceCalculationFailed, "aggregate %s is not a whole amount", raw)
	}
	if d.GreaterThan(maxInt64) || d.LessThan(minInt64) {
		return 0, failure.Newf(failure.PriceCalculationFailed, "aggregate %s out of range", raw)
	}
	return d.IntPart(), nil
}
