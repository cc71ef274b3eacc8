// Package merge enthält die Feld-Zusammenführungsregeln, die sowohl die
// Registerabgleichung als auch die Publikations-Deduplizierung verwenden.
package merge

import (
	"strings"

	"trial-atlas/models"
)

// Platzhalter, die eine Quelle für "keine Angabe" verwendet.
var missingValues = map[string]bool{
	"":     true,
	"na":   true,
	"n/a":  true,
	"none": true,
	"-":    true,
}

// IsMissing meldet, ob ein Quellwert keine Information trägt.
func IsMissing(v string) bool {
	return missingValues[strings.ToLower(strings.TrimSpace(v))]
}

// Clean ersetzt Platzhalter durch den leeren String.
func Clean(v string) string {
	if IsMissing(v) {
		return ""
	}
	return strings.TrimSpace(v)
}

// FillIfMissing übernimmt src nur, wenn dst leer ist. Meldet, ob dst geändert wurde.
func FillIfMissing(dst *string, src string) bool {
	if !IsMissing(*dst) || IsMissing(src) {
		return false
	}
	*dst = strings.TrimSpace(src)
	return true
}

// FillIfPlaceholder übernimmt src, wenn dst leer ist oder einem der
// Platzhalter entspricht (Groß-/Kleinschreibung egal).
func FillIfPlaceholder(dst *string, src string, placeholders ...string) bool {
	if IsMissing(src) {
		return false
	}
	current := strings.TrimSpace(*dst)
	replace := IsMissing(current)
	for _, p := range placeholders {
		if strings.EqualFold(current, p) {
			replace = true
		}
	}
	if !replace || strings.EqualFold(current, strings.TrimSpace(src)) {
		return false
	}
	*dst = strings.TrimSpace(src)
	return true
}

// Split zerlegt eine mehrwertige Spalte und verwirft leere Teile und Platzhalter.
func Split(v, sep string) []string {
	if IsMissing(v) {
		return nil
	}
	sepTrim := strings.TrimSpace(sep)
	var out []string
	for _, part := range strings.Split(v, sepTrim) {
		part = strings.TrimSpace(part)
		if IsMissing(part) {
			continue
		}
		out = append(out, part)
	}
	return out
}

// UnionValues vereinigt Listen ohne Duplikate (ohne Beachtung der
// Groß-/Kleinschreibung) in Reihenfolge des ersten Auftretens.
func UnionValues(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, v := range list {
			key := strings.ToLower(strings.TrimSpace(v))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}

// Union vereinigt zwei mehrwertige Spalten mit dem gegebenen Trennzeichen.
func Union(a, b, sep string) string {
	return strings.Join(UnionValues(Split(a, sep), Split(b, sep)), sep)
}

// UnionInto schreibt die Vereinigung nach dst und meldet eine Änderung.
// Bringt src keine neuen Werte, bleibt dst unverändert.
func UnionInto(dst *string, src, sep string) bool {
	before := Union(*dst, "", sep)
	merged := Union(*dst, src, sep)
	if merged == before {
		return false
	}
	*dst = merged
	return true
}

// LaterDate übernimmt src, wenn es ein gültiges Datum ist und nach dst liegt.
// Ungültige Werte auf beiden Seiten lassen dst unverändert.
func LaterDate(dst *string, src string) bool {
	s := strings.TrimSpace(src)
	if !models.IsDateKey(s) {
		return false
	}
	if models.IsDateKey(*dst) && s <= strings.TrimSpace(*dst) {
		return false
	}
	*dst = s
	return true
}

// PromoteYes setzt einen Tri-State auf "ja", sobald eine Seite "ja" meldet.
// Ein unbekannter Wert wird durch einen bekannten ersetzt.
func PromoteYes(dst **bool, src *bool) bool {
	if src == nil {
		return false
	}
	if *dst == nil {
		v := *src
		*dst = &v
		return true
	}
	if !**dst && *src {
		v := true
		*dst = &v
		return true
	}
	return false
}
