package classifier

import "fmt"

// ConfidenceThreshold is the percent a prediction must exceed to be shown.
const ConfidenceThreshold = 70.0

// Verdict is the feedback state shown to the learner.
type Verdict int

const (
	// VerdictPrompt means no meaningful prediction; the learner is asked to sign.
	VerdictPrompt Verdict = iota
	// VerdictRecognized means a vowel was recognized but it is not the target.
	VerdictRecognized
	// VerdictCorrect means the target vowel was recognized.
	VerdictCorrect
)

// String returns the string representation of the Verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictPrompt:
		return "prompt"
	case VerdictRecognized:
		return "recognized"
	case VerdictCorrect:
		return "correct"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// PromptMessage is shown while nothing is recognized.
const PromptMessage = "Perform the sign..."

// Feedback is what the practice view renders for one prediction.
type Feedback struct {
	Verdict  Verdict `json:"verdict"`
	Label    string  `json:"label"`
	Percent  float64 `json:"percent"`
	BarWidth float64 `json:"barWidth"`
	Message  string  `json:"message"`
}

// Evaluate gates a prediction against target. ok is false when there was
// no prediction at all.
func Evaluate(p Prediction, ok bool, target string) Feedback {
	if !ok {
		return Feedback{Verdict: VerdictPrompt, Message: PromptMessage}
	}

	pct := p.Percent()
	fb := Feedback{
		Label:    p.Label,
		Percent:  pct,
		BarWidth: barWidth(p.Label, pct),
	}

	if pct <= ConfidenceThreshold || p.Label == NoGestureLabel {
		fb.Verdict = VerdictPrompt
		fb.Message = PromptMessage
		return fb
	}

	fb.Verdict = VerdictRecognized
	if p.Label == target {
		fb.Verdict = VerdictCorrect
	}
	fb.Message = fmt.Sprintf("Prediction: %s (Confidence: %.0f%%)", p.Label, pct)
	return fb
}

func barWidth(label string, pct float64) float64 {
	if label == NoGestureLabel {
		return 0
	}
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}
