package reconcile

import (
	"database/sql"
	"strings"

	"github.com/shopspring/decimal"
)

// amount is a monetary column after coercion. set is false for NULL, empty,
// non-numeric and negative values; anomaly names the reason when the raw
// value was present but unusable.
type amount struct {
	value   decimal.Decimal
	set     bool
	anomaly string
}

func readAmount(raw sql.NullString) amount {
	if !raw.Valid {
		return amount{}
	}
	s := strings.TrimSpace(raw.String)
	if s == "" {
		return amount{}
	}
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return amount{anomaly: "non-numeric value " + quote(raw.String)}
	}
	if d.IsNegative() {
		return amount{anomaly: "negative value " + d.String()}
	}
	return amount{value: d.Round(2), set: true}
}

func quote(s string) string {
	if r := []rune(s); len(r) > 32 {
		s = string(r[:32]) + "…"
	}
	return `"` + s + `"`
}

// splitPix enforces gross = admin + user with both shares inside [0, gross].
// A NULL share means "not populated" and is derived from the other one; a
// stored zero is taken at face value.
func splitPix(gross decimal.Decimal, admin, user amount) (decimal.Decimal, decimal.Decimal, []string) {
	var anomalies []string
	var a, u decimal.Decimal
	switch {
	case admin.set && user.set:
		a, u = admin.value, user.value
		if !a.Add(u).Equal(gross) {
			anomalies = append(anomalies, "commission split "+a.String()+"+"+u.String()+" does not add up to "+gross.String())
			a = gross.Sub(u)
		}
	case user.set:
		u = user.value
		a = gross.Sub(u)
	case admin.set:
		a = admin.value
		u = gross.Sub(a)
	default:
		anomalies = append(anomalies, "commission split missing")
		u = gross
	}
	if u.GreaterThan(gross) {
		u = gross
		a = decimal.Zero
	}
	if a.IsNegative() {
		a = decimal.Zero
		u = gross
	}
	if u.IsNegative() {
		u = decimal.Zero
		a = gross
	}
	return a, u, anomalies
}
