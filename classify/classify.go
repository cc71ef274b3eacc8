// Package classify ordnet Studien anhand von Schlagwortregeln einer
// Therapieklasse, einem Studiendesign und Fokus-Tags zu.
package classify

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// TermRule ist eine benannte Liste von Suchbegriffen.
type TermRule struct {
	Name  string   `yaml:"name"`
	Terms []string `yaml:"terms"`
}

// Fallbacks legt die Klassen fest, wenn kein Therapiesignal gefunden wird.
type Fallbacks struct {
	UnknownDesign       string `yaml:"unknown_design"`
	BiomarkerTag        string `yaml:"biomarker_tag"`
	BiomarkerClass      string `yaml:"biomarker_class"`
	ObservationalDesign string `yaml:"observational_design"`
	ObservationalClass  string `yaml:"observational_class"`
	DefaultClass        string `yaml:"default_class"`
	DefaultMatchReason  string `yaml:"default_match_reason"`
}

// Rules ist der geladene Regelsatz. Einmal laden, dann explizit weiterreichen.
type Rules struct {
	StudyDesigns       map[string]string `yaml:"study_designs"`
	TherapeuticClasses []TermRule        `yaml:"therapeutic_classes"`
	FocusTags          []TermRule        `yaml:"focus_tags"`
	MatchReasons       []TermRule        `yaml:"match_reasons"`
	Fallbacks          Fallbacks         `yaml:"fallbacks"`
}

// Result ist das Ergebnis einer Klassifikation.
type Result struct {
	StudyDesign      string
	TherapeuticClass string
	FocusTags        []string
}

// Default liefert den eingebetteten Regelsatz.
func Default() (*Rules, error) {
	return Parse(defaultRules)
}

// Load liest einen Regelsatz aus einer Datei; ein leerer Pfad liefert den Standard.
func Load(path string) (*Rules, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read classification rules %s", path)
	}
	return Parse(data)
}

// Parse dekodiert und prüft einen Regelsatz.
func Parse(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "decode classification rules")
	}
	if len(r.TherapeuticClasses) == 0 {
		return nil, eris.New("classification rules: no therapeutic classes")
	}
	if r.Fallbacks.DefaultClass == "" {
		return nil, eris.New("classification rules: fallbacks.default_class is required")
	}
	for _, list := range [][]TermRule{r.TherapeuticClasses, r.FocusTags, r.MatchReasons} {
		for i := range list {
			if list[i].Name == "" {
				return nil, eris.New("classification rules: rule without name")
			}
			for j, term := range list[i].Terms {
				list[i].Terms[j] = strings.ToLower(term)
			}
		}
	}
	if r.Fallbacks.UnknownDesign == "" {
		r.Fallbacks.UnknownDesign = "unknown"
	}
	return &r, nil
}

// Classify bewertet den Freitext einer Studie. Die Therapieklasse mit den
// meisten Treffern gewinnt, Gleichstände entscheidet die Reihenfolge im Regelsatz.
func (r *Rules) Classify(studyType, text string) Result {
	t := strings.ToLower(text)

	res := Result{StudyDesign: r.Fallbacks.UnknownDesign}
	if design, ok := r.StudyDesigns[strings.ToUpper(strings.TrimSpace(studyType))]; ok {
		res.StudyDesign = design
	}

	best, bestScore := "", 0
	for _, rule := range r.TherapeuticClasses {
		if score := countHits(t, rule.Terms); score > bestScore {
			best, bestScore = rule.Name, score
		}
	}

	for _, rule := range r.FocusTags {
		if countHits(t, rule.Terms) > 0 {
			res.FocusTags = append(res.FocusTags, rule.Name)
		}
	}

	switch {
	case best != "":
		res.TherapeuticClass = best
	case len(res.FocusTags) > 0 && contains(res.FocusTags, r.Fallbacks.BiomarkerTag):
		res.TherapeuticClass = r.Fallbacks.BiomarkerClass
	case res.StudyDesign == r.Fallbacks.ObservationalDesign:
		res.TherapeuticClass = r.Fallbacks.ObservationalClass
	default:
		res.TherapeuticClass = r.Fallbacks.DefaultClass
	}
	return res
}

// MatchReason begründet, warum eine Studie in den Bestand aufgenommen wurde.
func (r *Rules) MatchReason(title string) string {
	t := strings.ToLower(title)
	for _, rule := range r.MatchReasons {
		if countHits(t, rule.Terms) > 0 {
			return rule.Name
		}
	}
	return r.Fallbacks.DefaultMatchReason
}

func countHits(text string, terms []string) int {
	n := 0
	for _, term := range terms {
		if term != "" && strings.Contains(text, term) {
			n++
		}
	}
	return n
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
