package rates

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Table maps a currency code to its conversion rate into the base currency.
// Built once at startup and read-only afterwards, so it is safe to share
// across stage workers without locking.
type Table struct {
	defaultCode string
	entries     map[string]decimal.Decimal
}

// New builds a Table from per-currency rates. defaultCode must have an entry;
// unknown codes resolve to its rate.
func New(defaultCode string, entries map[string]decimal.Decimal) (Table, error) {
	code := strings.ToUpper(strings.TrimSpace(defaultCode))
	if code == "" {
		return Table{}, fmt.Errorf("rates: default currency code is required")
	}
	m := make(map[string]decimal.Decimal, len(entries))
	for k, v := range entries {
		m[strings.ToUpper(strings.TrimSpace(k))] = v
	}
	if _, ok := m[code]; !ok {
		return Table{}, fmt.Errorf("rates: no entry for default currency %s", code)
	}
	return Table{defaultCode: code, entries: m}, nil
}

// DefaultCode returns the base currency code.
func (t Table) DefaultCode() string { return t.defaultCode }

// Resolve normalizes a currency code and returns the code together with its
// rate. An empty code means the default currency; an unknown code keeps its
// normalized spelling but falls back to the default rate. Resolve never fails.
func (t Table) Resolve(code string) (string, decimal.Decimal) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" {
		c = t.defaultCode
	}
	if rate, ok := t.entries[c]; ok {
		return c, rate
	}
	return c, t.entries[t.defaultCode]
}

// Codes lists the known currency codes in sorted order.
func (t Table) Codes() []string {
	codes := make([]string, 0, len(t.entries))
	for c := range t.entries {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}
