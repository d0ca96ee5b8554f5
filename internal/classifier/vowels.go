package classifier

import (
	"errors"
	"strings"
)

// ErrUnknownVowel is returned for a label outside the vowel catalog.
var ErrUnknownVowel = errors.New("classifier: unknown vowel")

// Vowel describes one practicable sign.
type Vowel struct {
	Letter      string `json:"vowel"`
	Description string `json:"description"`
}

// Vowels is the practice catalog in display order.
var Vowels = []Vowel{
	{Letter: "A", Description: "Hand closed in a fist, thumb at the side."},
	{Letter: "E", Description: "Fingers curled toward the palm, as if forming an E."},
	{Letter: "I", Description: "Closed fist with the little finger extended."},
	{Letter: "O", Description: "Fingers joined in a circular shape."},
	{Letter: "U", Description: "Index and middle fingers extended together in a U shape."},
}

// LookupVowel returns the catalog entry for letter, ignoring case.
func LookupVowel(letter string) (Vowel, bool) {
	for _, v := range Vowels {
		if strings.EqualFold(v.Letter, letter) {
			return v, true
		}
	}
	return Vowel{}, false
}

// TrainingLabels returns the labels offered when capturing samples: every
// vowel plus the no-gesture class.
func TrainingLabels() []string {
	out := make([]string, 0, len(Vowels)+1)
	for _, v := range Vowels {
		out = append(out, v.Letter)
	}
	return append(out, NoGestureLabel)
}
