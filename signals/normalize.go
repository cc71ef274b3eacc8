// Package signals leitet die Evidenzsignale einer Studie ab. Die Ableitung
// ist eine reine Funktion; Phasen und Status werden vorher auf kleine
// geschlossene Aufzählungen normalisiert.
package signals

import (
	"regexp"
	"strings"
)

// PhaseSet ist die Menge der Phasenstufen (1–4) einer Studie.
type PhaseSet uint8

var (
	phaseGroupRe = regexp.MustCompile(`PHASE\s*((?:IV|III|II|I|[1-4])[AB]?\b(?:\s*(?:/|-|&|,|AND|OR)\s*(?:PHASE\s*)?(?:IV|III|II|I|[1-4])[AB]?\b)*)`)
	phaseTierRe  = regexp.MustCompile(`IV|III|II|I|[1-4]`)
	statusSepRe  = regexp.MustCompile(`[^A-Z0-9]+`)
)

var romanTiers = map[string]int{"I": 1, "II": 2, "III": 3, "IV": 4, "1": 1, "2": 2, "3": 3, "4": 4}

// ParsePhases liest Phasenangaben wie "Phase II/III", "PHASE2/PHASE3",
// "EARLY_PHASE1" oder "Phase II and Phase III (Integrated)".
func ParsePhases(raw string) PhaseSet {
	s := strings.ToUpper(raw)
	s = strings.NewReplacer("_", " ", "(", " ", ")", " ").Replace(s)
	var set PhaseSet
	for _, group := range phaseGroupRe.FindAllStringSubmatch(s, -1) {
		for _, numeral := range phaseTierRe.FindAllString(group[1], -1) {
			if tier, ok := romanTiers[numeral]; ok {
				set |= 1 << (tier - 1)
			}
		}
	}
	return set
}

// Has meldet, ob die Stufe enthalten ist.
func (p PhaseSet) Has(tier int) bool {
	if tier < 1 || tier > 4 {
		return false
	}
	return p&(1<<(tier-1)) != 0
}

// Max liefert die höchste enthaltene Stufe oder 0.
func (p PhaseSet) Max() int {
	for tier := 4; tier >= 1; tier-- {
		if p.Has(tier) {
			return tier
		}
	}
	return 0
}

// Empty meldet, ob keine Phase erkannt wurde.
func (p PhaseSet) Empty() bool { return p == 0 }

// String rendert die Menge kanonisch ("PHASE2/PHASE3").
func (p PhaseSet) String() string {
	var parts []string
	for tier := 1; tier <= 4; tier++ {
		if p.Has(tier) {
			parts = append(parts, "PHASE"+string(rune('0'+tier)))
		}
	}
	return strings.Join(parts, "/")
}

// StatusClass ist die normalisierte Statusklasse.
type StatusClass int

const (
	StatusOther StatusClass = iota
	StatusNonTerminal
	StatusTerminal
)

func (c StatusClass) String() string {
	switch c {
	case StatusTerminal:
		return "terminal"
	case StatusNonTerminal:
		return "non_terminal"
	}
	return "other"
}

var terminalStatuses = map[string]bool{
	"COMPLETED":         true,
	"COMPLETE":          true,
	"TERMINATED":        true,
	"WITHDRAWN":         true,
	"ENDED":             true,
	"TRIAL_ENDED":       true,
	"PREMATURELY_ENDED": true,
}

var nonTerminalStatuses = map[string]bool{
	"RECRUITING":              true,
	"NOT_YET_RECRUITING":      true,
	"ACTIVE_NOT_RECRUITING":   true,
	"ENROLLING_BY_INVITATION": true,
	"ONGOING":                 true,
	"AUTHORISED":              true,
	"AUTHORIZED":              true,
	"SUSPENDED":               true,
	"TEMPORARILY_HALTED":      true,
	"RESTARTED":               true,
}

// ClassifyStatus ordnet eine Registerangabe einer Statusklasse zu.
func ClassifyStatus(raw string) StatusClass {
	key := strings.Trim(statusSepRe.ReplaceAllString(strings.ToUpper(raw), "_"), "_")
	switch {
	case key == "":
		return StatusOther
	case terminalStatuses[key]:
		return StatusTerminal
	case nonTerminalStatuses[key]:
		return StatusNonTerminal
	case strings.HasSuffix(key, "_ENDED"), strings.HasPrefix(key, "COMPLETED_"):
		return StatusTerminal
	case strings.HasPrefix(key, "ONGOING_"), strings.HasPrefix(key, "RECRUITING_"):
		return StatusNonTerminal
	}
	return StatusOther
}
