// Package cadence classifies the release pattern of a comic from its
// observed publication dates. It performs no I/O.
package cadence

import (
	"math"
	"sort"
	"time"
)

// Type is the classified release pattern.
type Type string

const (
	TypeDaily     Type = "daily"
	TypeWeekdays  Type = "weekdays"
	TypeWeekly    Type = "weekly"
	TypeIrregular Type = "irregular"
	TypeUnknown   Type = "unknown"
)

// Classification is attached to a catalog record and drives how often the
// comic is re-scraped.
type Classification struct {
	Type        Type    `json:"type"`
	DaysPerWeek float64 `json:"days_per_week"`
	Confidence  float64 `json:"confidence"`
}

// Thresholds below are tunables, not contractual constants. The values were
// chosen against observed gocomics/comicskingdom publication histories.
var (
	// MinSamples is the minimum number of distinct publication days
	// required before any classification is attempted.
	MinSamples = 3

	// DailyMeanMax and DailyStdDevMax bound the mean and standard
	// deviation (in days) of inter-publication gaps for a daily strip.
	DailyMeanMax   = 1.25
	DailyStdDevMax = 0.5

	// WeeklyMeanTolerance and WeeklyStdDevMax do the same for weekly
	// strips around a 7 day mean.
	WeeklyMeanTolerance = 1.0
	WeeklyStdDevMax     = 1.5

	// Weekday strips publish at 1 day gaps with a recurring 2-3 day gap
	// starting on a Friday or Saturday.
	WeekdayShortGapMax = 1.5
	WeekendGapMin      = 1.5
	WeekendGapMax      = 3.5
)

// Recommended polling intervals per classification. Irregular and unknown
// comics are polled frequently so sporadic releases are not missed, with a
// floor to avoid hammering the source.
var (
	DailyInterval    = 1 * time.Hour
	WeeklyInterval   = 12 * time.Hour
	FallbackInterval = 6 * time.Hour
)

// Recommendation is the scrape scheduling hint derived from a
// classification.
type Recommendation struct {
	Every        time.Duration
	WeekdaysOnly bool
}

// Analyze classifies the release pattern of a comic given its observed
// publication dates. Dates may be unsorted; publications on the same
// calendar day count as a single observation.
func Analyze(dates []time.Time) Classification {
	days := uniqueDays(dates)
	if len(days) < MinSamples {
		return Classification{Type: TypeUnknown}
	}

	gaps := make([]float64, 0, len(days)-1)
	for i := 1; i < len(days); i++ {
		gaps = append(gaps, days[i].Sub(days[i-1]).Hours()/24)
	}

	mean, sd := meanStdDev(gaps)
	n := float64(len(gaps))
	sampleFactor := n / (n + 1)
	varFactor := 1 / (1 + (sd*sd)/math.Max(mean, 1e-9))

	switch {
	case mean <= DailyMeanMax && sd <= DailyStdDevMax:
		return Classification{
			Type:        TypeDaily,
			DaysPerWeek: 7,
			Confidence:  clamp01(sampleFactor * varFactor),
		}
	case isWeekdays(days, gaps):
		// The weekend gaps are structural, so variance is not held
		// against the confidence here.
		return Classification{
			Type:        TypeWeekdays,
			DaysPerWeek: 5,
			Confidence:  clamp01(sampleFactor),
		}
	case math.Abs(mean-7) <= WeeklyMeanTolerance && sd <= WeeklyStdDevMax:
		return Classification{
			Type:        TypeWeekly,
			DaysPerWeek: 1,
			Confidence:  clamp01(sampleFactor * varFactor),
		}
	default:
		dpw := 0.0
		if mean > 0 {
			dpw = math.Min(7/mean, 7)
		}
		return Classification{
			Type:        TypeIrregular,
			DaysPerWeek: dpw,
			Confidence:  clamp01(sampleFactor * varFactor),
		}
	}
}

// RecommendInterval maps a classification to a scrape scheduling hint.
// Weekly strips are probed twice daily so the run lands near the observed
// publication weekday without tracking it explicitly.
func RecommendInterval(c Classification) Recommendation {
	switch c.Type {
	case TypeDaily:
		return Recommendation{Every: DailyInterval}
	case TypeWeekdays:
		return Recommendation{Every: DailyInterval, WeekdaysOnly: true}
	case TypeWeekly:
		return Recommendation{Every: WeeklyInterval}
	default:
		return Recommendation{Every: FallbackInterval}
	}
}

// isWeekdays reports whether every gap is either a regular short gap or a
// 2-3 day gap beginning on a Friday or Saturday, with at least one such
// weekend gap present.
func isWeekdays(days []time.Time, gaps []float64) bool {
	weekendGaps := 0
	for i, g := range gaps {
		switch {
		case g <= WeekdayShortGapMax:
		case g >= WeekendGapMin && g <= WeekendGapMax && spansWeekend(days[i]):
			weekendGaps++
		default:
			return false
		}
	}
	return weekendGaps > 0
}

func spansWeekend(before time.Time) bool {
	wd := before.Weekday()
	return wd == time.Friday || wd == time.Saturday
}

func uniqueDays(dates []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(dates))
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

func meanStdDev(vals []float64) (float64, float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(vals)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
