package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ekaya-inc/exchange-query-engine/pkg/models"
)

const amountExpr = `\$?\s*(\d{1,3}(?:,\d{3})+|\d+(?:\.\d+)?)\s*(thousand|million|billion|mm|k|m|b)?\b`

var (
	betweenPattern = regexp.MustCompile(`(?i)\bbetween\s+` + amountExpr + `\s+(?:and|to|-)\s+` + amountExpr)
	gtePattern     = regexp.MustCompile(`(?i)\b(?:over|above|more than|greater than|at least|exceeding|exceeds|larger than|bigger than|>=?|minimum(?: of)?|min)\s+` + amountExpr)
	ltePattern     = regexp.MustCompile(`(?i)\b(?:under|below|less than|smaller than|at most|up to|no more than|<=?|maximum(?: of)?|max)\s+` + amountExpr)
	moneyContext   = regexp.MustCompile(`(?i)(\$|\b(?:value|valued|price|priced|amount|worth|dollars?|sale|sold|purchase|proceeds)\b)`)
	saleColumn     = regexp.MustCompile(`(?i)\b(?:relinquished|sale|sold|proceeds)\b`)
	purchaseColumn = regexp.MustCompile(`(?i)\b(?:replacement|purchase|purchased|bought)\b`)
)

// Amount columns on exchanges.
const (
	ColumnExchangeValue    = "exchange_value"
	ColumnRelinquishedSale = "relinquished_sale_price"
	ColumnReplacementPrice = "replacement_purchase_price"
)

// NumericRule recognizes monetary thresholds such as "over $1.5 million" or "between 500k and 2M".
type NumericRule struct{}

// NewNumericRule creates the numeric threshold rule.
func NewNumericRule() *NumericRule { return &NumericRule{} }

func (r *NumericRule) Name() string { return "numeric_range" }

func (r *NumericRule) TryMatch(text string) (*models.Match, bool) {
	nf, literal, unit := r.find(text)
	if nf == nil {
		return nil, false
	}
	// A bare "over 30" with no money cue is more likely a count than an amount.
	if !unit && !moneyContext.MatchString(text) {
		return nil, false
	}
	return &models.Match{
		Kind:       models.MatchNumericRange,
		Literal:    literal,
		Normalized: nf.Describe(),
		Target:     targetOr(text, models.EntityExchanges),
		Confidence: 0.8,
		Filter:     nf,
	}, true
}

// find returns the filter, its literal, and whether a unit suffix was present.
func (r *NumericRule) find(text string) (*models.NumericFilter, string, bool) {
	column := amountColumn(text)
	if m := betweenPattern.FindStringSubmatch(text); m != nil {
		lo, ok1 := parseAmount(m[1], m[2])
		hi, ok2 := parseAmount(m[3], m[4])
		if ok1 && ok2 {
			if lo > hi {
				lo, hi = hi, lo
			}
			return &models.NumericFilter{Column: column, Op: models.NumericBetween, Min: lo, Max: hi}, m[0], m[2] != "" || m[4] != ""
		}
	}
	if m := gtePattern.FindStringSubmatch(text); m != nil {
		if v, ok := parseAmount(m[1], m[2]); ok {
			return &models.NumericFilter{Column: column, Op: models.NumericGTE, Min: v}, m[0], m[2] != ""
		}
	}
	if m := ltePattern.FindStringSubmatch(text); m != nil {
		if v, ok := parseAmount(m[1], m[2]); ok {
			return &models.NumericFilter{Column: column, Op: models.NumericLTE, Max: v}, m[0], m[2] != ""
		}
	}
	return nil, "", false
}

func amountColumn(text string) string {
	switch {
	case saleColumn.MatchString(text):
		return ColumnRelinquishedSale
	case purchaseColumn.MatchString(text):
		return ColumnReplacementPrice
	default:
		return ColumnExchangeValue
	}
}

// parseAmount turns "1,250,000" or "1.5" + "million" into a dollar value.
func parseAmount(number, unit string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(number, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(unit) {
	case "k", "thousand":
		v *= 1_000
	case "m", "mm", "million":
		v *= 1_000_000
	case "b", "billion":
		v *= 1_000_000_000
	}
	return v, true
}
