package models

import (
	"regexp"
	"strings"
	"time"
)

var (
	dateKeyRe     = regexp.MustCompile(`^\d{4}(-\d{2}){0,2}$`)
	leadingYearRe = regexp.MustCompile(`^(\d{4})\b`)
)

// Bekannte Register- und PubMed-Schreibweisen mit der Genauigkeit des Ergebnisses.
var dateLayouts = []struct {
	layout string
	out    string
}{
	{"02/01/2006", "2006-01-02"},
	{"2006/01/02", "2006-01-02"},
	{"2006-01-02T15:04:05Z07:00", "2006-01-02"},
	{"2006-01-02T15:04:05", "2006-01-02"},
	{"2006-01-02 15:04:05", "2006-01-02"},
	{"January 2, 2006", "2006-01-02"},
	{"January 2006", "2006-01"},
	{"Jan 2, 2006", "2006-01-02"},
	{"Jan 2006", "2006-01"},
	{"2006 Jan 02", "2006-01-02"},
	{"2006 Jan 2", "2006-01-02"},
	{"2006 Jan", "2006-01"},
}

// IsDateKey prüft, ob v ein ISO-Datumspräfix ist (YYYY, YYYY-MM oder YYYY-MM-DD).
func IsDateKey(v string) bool {
	return dateKeyRe.MatchString(strings.TrimSpace(v))
}

// NormalizeDate wandelt die Schreibweisen der Register in ein ISO-Präfix um.
// Unbekannte Formate ergeben "".
func NormalizeDate(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if IsDateKey(s) {
		return s
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l.layout, s); err == nil {
			return t.Format(l.out)
		}
	}
	// "2024 Jan-Feb", "2023 Winter" usw.: nur das Jahr ist verlässlich
	if m := leadingYearRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

// ParseDate liest ein ISO-Präfix. Fehlende Monats- oder Tagesangaben werden
// auf den ersten Tag aufgefüllt.
func ParseDate(v string) (time.Time, bool) {
	s := strings.TrimSpace(v)
	if !dateKeyRe.MatchString(s) {
		return time.Time{}, false
	}
	var layout string
	switch len(s) {
	case 4:
		layout = "2006"
	case 7:
		layout = "2006-01"
	default:
		layout = "2006-01-02"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DaysBetween liefert die ganzen Tage von a nach b (negativ, wenn b vor a liegt).
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
