package segmentation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/saffronemporial/lifecycle-engine/internal/domain"
)

// CustomerContext is the field-accessor map rules are evaluated against:
// profile fields joined with the metrics snapshot and the current engagement
// score. Fields with no value are simply absent, so rules against them fail
// closed.
type CustomerContext map[string]interface{}

// BuildContext flattens a customer, its snapshot and its current score
// (which may be nil) into a CustomerContext.
func BuildContext(c *domain.Customer, snap *domain.MetricsSnapshot, score *domain.EngagementScore) CustomerContext {
	cctx := CustomerContext{
		"name":                  c.Name,
		"email":                 c.Email,
		"status":                c.Status,
		"tags":                  c.Tags,
		"total_revenue":         snap.TotalRevenue,
		"order_count":           snap.OrderCount,
		"delivered_order_count": snap.DeliveredOrderCount,
		"average_order_value":   snap.AverageOrderValue,
		"tenure_days":           snap.TenureDays,
		"response_rate":         snap.ResponseRate,
		"product_variety":       snap.ProductVariety,
		"profile_completeness":  snap.ProfileFieldsDone,
	}
	// Optional profile fields are only present when set, so null-actual
	// semantics hold for them.
	for field, value := range map[string]string{
		"phone":         c.Phone,
		"company":       c.Company,
		"country":       c.Country,
		"city":          c.City,
		"assigned_team": c.AssignedTeam,
	} {
		if value != "" {
			cctx[field] = value
		}
	}
	for k, v := range c.CustomFields {
		cctx["custom."+k] = v
	}
	if snap.DaysSinceLastOrder != nil {
		cctx["days_since_last_order"] = *snap.DaysSinceLastOrder
	}
	if score != nil {
		cctx["engagement_score"] = score.TotalScore
		cctx["engagement_tier"] = string(score.Tier)
	}
	return cctx
}

type ruleFunc func(actual interface{}, rule Rule) bool

// operatorTable is the data-driven operator dispatch. Evaluation is
// side-effect-free.
var operatorTable = map[Operator]ruleFunc{
	OpEquals:           func(a interface{}, r Rule) bool { return compareEqual(a, r.Value) },
	OpNotEquals:        func(a interface{}, r Rule) bool { return !compareEqual(a, r.Value) },
	OpGreaterThan:      func(a interface{}, r Rule) bool { return compareNumeric(a, r.Value, func(x, y float64) bool { return x > y }) },
	OpLessThan:         func(a interface{}, r Rule) bool { return compareNumeric(a, r.Value, func(x, y float64) bool { return x < y }) },
	OpGreaterThanEqual: func(a interface{}, r Rule) bool { return compareNumeric(a, r.Value, func(x, y float64) bool { return x >= y }) },
	OpLessThanEqual:    func(a interface{}, r Rule) bool { return compareNumeric(a, r.Value, func(x, y float64) bool { return x <= y }) },
	OpContains:         func(a interface{}, r Rule) bool { return containsValue(a, r.Value) },
	OpNotContains:      func(a interface{}, r Rule) bool { return !containsValue(a, r.Value) },
	OpIn:               func(a interface{}, r Rule) bool { return inList(a, r.Value) },
	OpNotIn:            func(a interface{}, r Rule) bool { return !inList(a, r.Value) },
}

// EvaluateRule evaluates one rule against the context. A rule referencing a
// missing or null actual value never matches, regardless of operator. An
// unknown operator is a ConfigurationError.
func EvaluateRule(rule Rule, cctx CustomerContext) (bool, error) {
	fn, ok := operatorTable[rule.Operator]
	if !ok {
		return false, domain.NewConfiguration("rule operator", string(rule.Operator))
	}
	actual, ok := cctx[rule.Field]
	if !ok || actual == nil {
		return false, nil
	}
	return fn(actual, rule), nil
}

// EvaluateSegment reports whether all of the segment's rules pass.
// A segment with zero rules never matches.
func EvaluateSegment(seg *Segment, cctx CustomerContext) (bool, error) {
	if len(seg.Rules) == 0 {
		return false, nil
	}
	for _, rule := range seg.Rules {
		ok, err := EvaluateRule(rule, cctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// compareEqual prefers numeric equality when both sides parse as numbers,
// otherwise falls back to string comparison.
func compareEqual(actual, expected interface{}) bool {
	if af, aok := toFloat(actual); aok {
		if ef, eok := toFloat(expected); eok {
			return af == ef
		}
	}
	return toString(actual) == toString(expected)
}

// compareNumeric fails closed when either side is not numeric.
func compareNumeric(actual, expected interface{}, cmp func(a, b float64) bool) bool {
	af, aok := toFloat(actual)
	ef, eok := toFloat(expected)
	if !aok || !eok {
		return false
	}
	return cmp(af, ef)
}

// containsValue handles both substring matching on strings and element
// matching on string slices (tags).
func containsValue(actual, expected interface{}) bool {
	needle := toString(expected)
	switch t := actual.(type) {
	case []string:
		for _, item := range t {
			if item == needle {
				return true
			}
		}
		return false
	case []interface{}:
		for _, item := range t {
			if toString(item) == needle {
				return true
			}
		}
		return false
	default:
		return strings.Contains(toString(actual), needle)
	}
}

// inList checks membership of the actual value in the rule's value list.
func inList(actual, expected interface{}) bool {
	needle := toString(actual)
	switch t := expected.(type) {
	case []interface{}:
		for _, item := range t {
			if toString(item) == needle {
				return true
			}
		}
	case []string:
		for _, item := range t {
			if item == needle {
				return true
			}
		}
	}
	return false
}
