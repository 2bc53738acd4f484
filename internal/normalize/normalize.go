// Package normalize turns raw ingredient strings into comparison keys and
// extracts embedded quantity/preparation metadata. Everything here is pure:
// any input produces a result and re-running on already-clean data produces
// no further changes.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldASCII lowercases and strips accents (e.g. "Jalapeño" -> "jalapeno")
func foldASCII(s string) string {
	result, _, _ := transform.String(stripAccents, strings.ToLower(s))
	return result
}

// Fold produces the stored normalized-name form: lowercase, ASCII-folded,
// with runs of whitespace collapsed to single spaces. Unlike Key it keeps
// word boundaries, so it stays readable in the catalog.
func Fold(name string) string {
	return strings.Join(strings.Fields(foldASCII(name)), " ")
}

// possessive matches a trailing "'s" on a word, in straight or curly form
var possessive = regexp.MustCompile(`['\x{2019}]s\b`)

// Keyer produces normalized clustering keys. StripPossessive controls
// whether a possessive "'s" drops the trailing "s" as well as the
// apostrophe ("baker's" -> "baker" instead of "bakers"). Merges that hinge
// on this difference are flagged at reduced confidence by the decision
// engine, so the switch is safe to leave on.
type Keyer struct {
	StripPossessive bool
}

// Key collapses a display string to a bare alphanumeric key: lowercase,
// ASCII-folded, with whitespace, hyphens, underscores and apostrophes
// removed. Total function; an all-punctuation input yields the empty key.
func (k Keyer) Key(name string) string {
	s := foldASCII(name)
	if k.StripPossessive {
		s = possessive.ReplaceAllString(s, "")
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PossessiveSensitive reports whether possessive-aware stripping would
// produce a different key for this name than plain apostrophe stripping.
// Used to downgrade confidence on merges that depend on the choice.
func PossessiveSensitive(name string) bool {
	plain := Keyer{}.Key(name)
	aware := Keyer{StripPossessive: true}.Key(name)
	return plain != aware
}

// Key is the default clustering key (plain apostrophe stripping)
func Key(name string) string {
	return Keyer{}.Key(name)
}

// Extraction is the result of pulling quantity and preparation metadata
// out of a raw ingredient string. CleanName always holds usable text: the
// original string when nothing matched.
type Extraction struct {
	Quantity  *float64
	Unit      string
	Prep      string
	CleanName string
}

// defaultUnits covers the measurement vocabulary seen in recipe text. The
// rules config may extend it.
var defaultUnits = map[string]bool{
	"cup": true, "cups": true,
	"tablespoon": true, "tablespoons": true, "tbsp": true,
	"teaspoon": true, "teaspoons": true, "tsp": true,
	"ounce": true, "ounces": true, "oz": true,
	"pound": true, "pounds": true, "lb": true, "lbs": true,
	"gram": true, "grams": true, "g": true,
	"kilogram": true, "kilograms": true, "kg": true,
	"milliliter": true, "milliliters": true, "ml": true,
	"liter": true, "liters": true, "l": true,
	"clove": true, "cloves": true,
	"can": true, "cans": true,
	"stick": true, "sticks": true,
	"pinch": true, "dash": true,
	"bunch": true, "bunches": true,
	"slice": true, "slices": true,
	"piece": true, "pieces": true,
	"sprig": true, "sprigs": true,
	"head": true, "heads": true,
}

// defaultPreps covers the preparation vocabulary accepted after a trailing
// comma ("onion, diced").
var defaultPreps = map[string]bool{
	"diced": true, "minced": true, "chopped": true, "sliced": true,
	"grated": true, "melted": true, "softened": true, "crushed": true,
	"peeled": true, "julienned": true, "shredded": true, "cubed": true,
	"trimmed": true, "rinsed": true, "drained": true, "divided": true,
	"halved": true, "quartered": true, "mashed": true, "beaten": true,
	"toasted": true, "crumbled": true, "zested": true, "juiced": true,
	"finely": true, "roughly": true, "thinly": true, "coarsely": true,
}

var (
	// "(2 cups) flour" / "(1 1/2 lbs) chicken thighs"
	parenQuantity = regexp.MustCompile(`^\(\s*([\d][\d\s/.]*)\s*([a-zA-Z]+)?\s*\)\s*(.+)$`)
	// "2 cups flour" / "1/2 tsp salt" / "3 eggs"
	leadQuantity = regexp.MustCompile(`^([\d]+(?:\s+\d+/\d+)?|\d+/\d+|\d*\.\d+)\s+(?:([a-zA-Z]+)\s+)?(.+)$`)
	// "onion, diced" / "garlic, finely minced"
	trailingPrep = regexp.MustCompile(`^(.+?),\s*([a-zA-Z][a-zA-Z ]*)$`)
)

// minCleanLen guards against quantity-only strings producing empty or
// junk canonical names ("2 oz" must not extract to clean name "oz").
const minCleanLen = 3

// Extractor applies the ordered quantity/preparation matchers. Zero value
// uses the default unit and preparation vocabularies.
type Extractor struct {
	units map[string]bool
	preps map[string]bool
}

// NewExtractor builds an Extractor with extra unit and preparation words
// layered over the defaults.
func NewExtractor(extraUnits, extraPreps []string) *Extractor {
	e := &Extractor{units: defaultUnits, preps: defaultPreps}
	if len(extraUnits) > 0 {
		e.units = make(map[string]bool, len(defaultUnits)+len(extraUnits))
		for u := range defaultUnits {
			e.units[u] = true
		}
		for _, u := range extraUnits {
			e.units[strings.ToLower(u)] = true
		}
	}
	if len(extraPreps) > 0 {
		e.preps = make(map[string]bool, len(defaultPreps)+len(extraPreps))
		for p := range defaultPreps {
			e.preps[p] = true
		}
		for _, p := range extraPreps {
			e.preps[strings.ToLower(p)] = true
		}
	}
	return e
}

func (e *Extractor) unitSet() map[string]bool {
	if e == nil || e.units == nil {
		return defaultUnits
	}
	return e.units
}

func (e *Extractor) prepSet() map[string]bool {
	if e == nil || e.preps == nil {
		return defaultPreps
	}
	return e.preps
}

// Extract pulls quantity, unit and preparation out of a raw ingredient
// string. Matchers run in order; the first hit wins for the quantity side,
// then the preparation matcher runs against the remaining text. A string
// nothing matches comes back unchanged as CleanName. Never fails.
func (e *Extractor) Extract(raw string) Extraction {
	name := strings.TrimSpace(raw)
	out := Extraction{CleanName: name}
	if name == "" {
		return out
	}

	if m := parenQuantity.FindStringSubmatch(name); m != nil {
		if rest := strings.TrimSpace(m[3]); len(rest) >= minCleanLen {
			out.Quantity = parseQuantity(m[1])
			out.Unit = strings.ToLower(strings.TrimSpace(m[2]))
			out.CleanName = rest
		}
	} else if m := leadQuantity.FindStringSubmatch(name); m != nil {
		unit := strings.ToLower(m[2])
		rest := strings.TrimSpace(m[3])
		if unit != "" && !e.unitSet()[unit] {
			// Not a known unit: it belongs to the ingredient name.
			rest = m[2] + " " + rest
			unit = ""
		}
		if len(rest) >= minCleanLen {
			out.Quantity = parseQuantity(m[1])
			out.Unit = unit
			out.CleanName = rest
		}
	}

	if m := trailingPrep.FindStringSubmatch(out.CleanName); m != nil {
		prep := strings.ToLower(strings.TrimSpace(m[2]))
		first := strings.Fields(prep)
		if len(first) > 0 && e.prepSet()[first[0]] && len(strings.TrimSpace(m[1])) >= minCleanLen {
			out.Prep = prep
			out.CleanName = strings.TrimSpace(m[1])
		}
	}

	return out
}

// Extract applies the default extractor
func Extract(raw string) Extraction {
	return (*Extractor)(nil).Extract(raw)
}

// parseQuantity handles "2", "1.5", "1/2" and "1 1/2"
func parseQuantity(s string) *float64 {
	s = strings.TrimSpace(s)
	var total float64
	for _, part := range strings.Fields(s) {
		if num, den, ok := strings.Cut(part, "/"); ok {
			n, err1 := strconv.ParseFloat(num, 64)
			d, err2 := strconv.ParseFloat(den, 64)
			if err1 != nil || err2 != nil || d == 0 {
				return nil
			}
			total += n / d
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil
		}
		total += v
	}
	return &total
}
