package sleep

import (
	"fmt"
	"math"

	"babycare-insights/internal/analytics"
	"babycare-insights/internal/models"
)

const (
	highlyRegularTimeSD   = 30.0
	highlyRegularCV       = 0.15
	moderatelyRegularSD   = 60.0
	moderatelyRegularCV   = 0.25
	timeScoreDivisor      = 1.2
	durationScoreMultiple = 400.0
)

// timing разброс времени засыпания, пробуждения и длительности
type timing struct {
	fallAsleepSD float64 // минуты
	wakeUpSD     float64 // минуты
	durationCV   float64
}

func (a *Analyzer) timingOf(records []models.SleepRecord) timing {
	subset := a.timingSubset(records)
	starts := make([]float64, len(subset))
	ends := make([]float64, len(subset))
	durations := make([]float64, len(subset))
	for i, r := range subset {
		starts[i] = analytics.MinutesOfDay(r.StartTime)
		ends[i] = analytics.MinutesOfDay(r.EndTime)
		durations[i] = r.Duration().Minutes()
	}
	return timing{
		fallAsleepSD: analytics.CircularStdDev(starts),
		wakeUpSD:     analytics.CircularStdDev(ends),
		durationCV:   analytics.CoefficientOfVariation(durations),
	}
}

// score: 40% время засыпания, 40% время пробуждения, 20% CV длительности
func (t timing) score() float64 {
	return 0.4*timeScore(t.fallAsleepSD) + 0.4*timeScore(t.wakeUpSD) + 0.2*durationScore(t.durationCV)
}

func timeScore(sd float64) float64 {
	return analytics.Clamp(100-sd/timeScoreDivisor, 0, 100)
}

func durationScore(cv float64) float64 {
	return analytics.Clamp(100-cv*durationScoreMultiple, 0, 100)
}

func classify(t timing, trend models.TrendDirection, records int) models.PatternType {
	switch {
	case t.fallAsleepSD < highlyRegularTimeSD && t.wakeUpSD < highlyRegularTimeSD && t.durationCV < highlyRegularCV:
		return models.PatternHighlyRegular
	case t.fallAsleepSD < moderatelyRegularSD && t.wakeUpSD < moderatelyRegularSD && t.durationCV < moderatelyRegularCV:
		return models.PatternModeratelyRegular
	case trend.IsDirectional():
		return models.PatternTransitioning
	case records < MinRecordsForTrend:
		return models.PatternEvolving
	default:
		return models.PatternIrregular
	}
}

// trend сравнивает первую и вторую половины периода:
// длительность 40%, эффективность 40%, регулярность 20%
func (a *Analyzer) trend(records []models.SleepRecord) models.SleepTrend {
	if len(records) < MinRecordsForTrend {
		return models.SleepTrend{Direction: models.TrendInsufficient}
	}
	mid := analytics.SplitHalves(len(records))
	first, second := records[:mid], records[mid:]

	d1, d2 := meanHours(first), meanHours(second)
	var durationChange float64
	if d1 > 0 {
		durationChange = (d2 - d1) / d1
	}
	efficiencyChange := a.meanEfficiency(second) - a.meanEfficiency(first)
	regularityChange := (a.timingOf(second).score() - a.timingOf(first).score()) / 100

	composite := 0.4*durationChange + 0.4*efficiencyChange + 0.2*regularityChange
	return models.SleepTrend{
		Direction:        analytics.ClassifyTrend(composite, regularityChange),
		DurationChange:   durationChange,
		EfficiencyChange: efficiencyChange,
		RegularityChange: regularityChange,
		Score:            composite,
	}
}

func meanHours(records []models.SleepRecord) float64 {
	var m analytics.Moments
	for _, r := range records {
		m.Add(r.Duration().Hours())
	}
	return m.Mean()
}

func (a *Analyzer) meanEfficiency(records []models.SleepRecord) float64 {
	var m analytics.Moments
	for _, r := range records {
		m.Add(a.efficiency(r))
	}
	return m.Mean()
}

// environmentalImpacts коррелирует показания факторов с качеством сна (длительность × эффективность)
func environmentalImpacts(records []models.SleepRecord, efficiency func(models.SleepRecord) float64) []models.EnvironmentalFactorImpact {
	impacts := []models.EnvironmentalFactorImpact{}
	for _, factor := range models.AllEnvironmentalFactors {
		var values, quality []float64
		for _, r := range records {
			v, ok := r.Environment.Value(factor)
			if !ok {
				continue
			}
			values = append(values, v)
			quality = append(quality, r.Duration().Hours()*efficiency(r))
		}
		if len(values) < MinRecordsForEnvironment {
			continue
		}
		r, ok := analytics.Pearson(values, quality)
		if !ok {
			continue
		}
		impacts = append(impacts, models.EnvironmentalFactorImpact{
			Factor:     factor,
			Impact:     r,
			Confidence: math.Min(0.9, float64(len(values))/20),
			SampleSize: len(values),
		})
	}
	return impacts
}

func recommendations(r models.SleepPatternResult) []string {
	var out []string
	if r.Statistics.SleepEfficiency < 0.85 {
		out = append(out, "Night wakings are reducing sleep efficiency; review the sleep environment and settling routine.")
	}
	switch r.PatternType {
	case models.PatternIrregular, models.PatternEvolving:
		out = append(out, "Bedtime and wake-up times vary a lot; a consistent bedtime routine can help.")
	case models.PatternTransitioning:
		out = append(out, "Sleep timing is shifting; keep the routine steady while the new pattern settles.")
	}
	for _, impact := range r.EnvironmentalFactors {
		if impact.Impact <= -0.3 && impact.Confidence >= 0.5 {
			out = append(out, fmt.Sprintf("Higher %s levels are associated with poorer sleep.", impact.Factor))
		}
	}
	if r.Trend.Direction == models.TrendDeclining {
		out = append(out, "Sleep quality has been declining over the analyzed period.")
	}
	return out
}
