// Package statusalias canonicalizes Run status values and loads operator-defined
// aliases from an optional YAML override file.
package statusalias

import "strings"

// Canonical is one of the closed set of statuses a Run is allowed to settle in.
type Canonical string

const (
	Running   Canonical = "running"
	Success   Canonical = "success"
	Failure   Canonical = "failure"
	Partial   Canonical = "partial"
	Timeout   Canonical = "timeout"
	Cancelled Canonical = "cancelled"
)

// canonicalStatuses is the closed set, in display order.
var canonicalStatuses = []Canonical{Running, Success, Failure, Partial, Timeout, Cancelled}

// builtinAliases maps historically common spellings onto the canonical set.
var builtinAliases = map[string]Canonical{
	"failed":    Failure,
	"completed": Success,
	"succeeded": Success,
	"canceled":  Cancelled,
}

// Table resolves raw status strings to canonical values. The zero value is
// usable and resolves only the built-in aliases; use LoadTable to layer operator
// overrides from a YAML file on top.
type Table struct {
	aliases map[string]Canonical
}

// Default returns a Table seeded with the built-in alias set.
func Default() *Table {
	t := &Table{aliases: make(map[string]Canonical, len(builtinAliases))}
	for k, v := range builtinAliases {
		t.aliases[k] = v
	}

	return t
}

// Normalize lowercases and trims value, then resolves it through the alias
// table. A value already in canonical form is returned unchanged (as Canonical).
// Returns ok=false if the resolved value is not one of the canonical statuses.
func (t *Table) Normalize(value string) (Canonical, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return "", false
	}

	if alias, found := t.aliasOrSelf(v); found {
		v = string(alias)
	}

	for _, c := range canonicalStatuses {
		if string(c) == v {
			return c, true
		}
	}

	return "", false
}

// NormalizeList normalizes each value in values, skipping ones that don't
// resolve to a canonical status.
func (t *Table) NormalizeList(values []string) []Canonical {
	out := make([]Canonical, 0, len(values))

	for _, v := range values {
		if c, ok := t.Normalize(v); ok {
			out = append(out, c)
		}
	}

	return out
}

// IsValid reports whether value resolves to a canonical status.
func (t *Table) IsValid(value string) bool {
	_, ok := t.Normalize(value)
	return ok
}

// All returns the canonical statuses in display order.
func All() []Canonical {
	out := make([]Canonical, len(canonicalStatuses))
	copy(out, canonicalStatuses)

	return out
}

func (t *Table) aliasOrSelf(v string) (Canonical, bool) {
	if t == nil || t.aliases == nil {
		if c, ok := builtinAliases[v]; ok {
			return c, true
		}

		return "", false
	}

	c, ok := t.aliases[v]

	return c, ok
}
