// Package template implements the personalization renderer used by the
// action dispatcher. It substitutes {{variable}} tokens from a flat variable
// map; tokens that do not resolve are preserved literally in the output so a
// bad template never silently drops content.
package template

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/saffronemporial/lifecycle-engine/internal/domain"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

// Render substitutes {{token}} occurrences in tmpl with values from vars.
// Unresolved tokens are left untouched. Render is pure: no I/O, no clock.
func Render(tmpl string, vars map[string]string) string {
	if tmpl == "" || !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return tokenPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := tokenPattern.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		return match
	})
}

// Variables flattens a customer and a trigger context into the variable map
// the renderer understands. Customer fields win over trigger fields of the
// same name.
func Variables(customer *domain.Customer, trigger map[string]interface{}) map[string]string {
	vars := make(map[string]string, len(trigger)+8)
	for k, v := range trigger {
		if v == nil {
			continue
		}
		vars[k] = stringify(v)
	}
	if customer != nil {
		vars["name"] = customer.Name
		vars["first_name"] = firstName(customer.Name)
		vars["email"] = customer.Email
		vars["phone"] = customer.Phone
		vars["company"] = customer.Company
		vars["country"] = customer.Country
		vars["city"] = customer.City
	}
	return vars
}

func firstName(full string) string {
	if i := strings.IndexByte(full, ' '); i > 0 {
		return full[:i]
	}
	return full
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers arrive as float64; render integers without a decimal
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
