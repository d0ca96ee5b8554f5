package progress

import (
	"fmt"
	"math"
)

const (
	// CompletedScore is the best score at which a vowel counts as completed.
	CompletedScore = 97.0

	// SummaryRecent is how many recent sessions a Summary lists.
	SummaryRecent = 5
)

// VowelStatus is a catalog vowel with its statistics.
type VowelStatus struct {
	Vowel     string        `json:"vowel"`
	Progress  VowelProgress `json:"progress"`
	Practiced bool          `json:"practiced"`
	Completed bool          `json:"completed"`
}

// Summary is the aggregate progress view.
type Summary struct {
	Completed        int             `json:"completed"`
	Total            int             `json:"total"`
	AverageScore     float64         `json:"averageScore"`
	TotalSessions    int             `json:"totalSessions"`
	TotalTimeSeconds int64           `json:"totalTimeSeconds"`
	TotalTime        string          `json:"totalTime"`
	Recent           []RecentSession `json:"recent"`
	ToPractice       []string        `json:"toPractice"`
	Vowels           []VowelStatus   `json:"vowels"`
}

// Completed reports whether vp counts as a completed vowel.
func Completed(vp VowelProgress) bool {
	return vp.BestScore >= CompletedScore
}

// Summary aggregates the stored records. Totals and the average cover every
// practiced label; ToPractice lists the catalog vowels not yet completed, in
// catalog order.
func (s *Store) Summary(catalog []string) (Summary, error) {
	data, err := s.Progress()
	if err != nil {
		return Summary{}, err
	}
	recent, err := s.Recent()
	if err != nil {
		return Summary{}, err
	}
	return Summarize(data, recent, catalog), nil
}

// Summarize builds a Summary from already loaded records.
func Summarize(data map[string]VowelProgress, recent []RecentSession, catalog []string) Summary {
	sum := Summary{
		Total:      len(catalog),
		Recent:     []RecentSession{},
		ToPractice: []string{},
		Vowels:     make([]VowelStatus, 0, len(catalog)),
	}

	var totalScore float64
	for _, vp := range data {
		totalScore += vp.BestScore
		sum.TotalSessions += vp.Sessions
		if vp.TotalTime > math.MaxInt64-sum.TotalTimeSeconds {
			sum.TotalTimeSeconds = math.MaxInt64
		} else {
			sum.TotalTimeSeconds += vp.TotalTime
		}
		if Completed(vp) {
			sum.Completed++
		}
	}
	if len(data) > 0 {
		sum.AverageScore = math.Round(totalScore/float64(len(data))*10) / 10
	}
	sum.TotalTime = FormatDuration(sum.TotalTimeSeconds)

	for _, v := range catalog {
		vp, ok := data[v]
		status := VowelStatus{
			Vowel:     v,
			Progress:  vp,
			Practiced: ok,
			Completed: Completed(vp),
		}
		sum.Vowels = append(sum.Vowels, status)
		if !status.Completed {
			sum.ToPractice = append(sum.ToPractice, v)
		}
	}

	n := len(recent)
	if n > SummaryRecent {
		n = SummaryRecent
	}
	sum.Recent = append(sum.Recent, recent[:n]...)
	return sum
}

// FormatDuration renders whole seconds as "Xm Ys".
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}
