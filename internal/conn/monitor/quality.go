package monitor

import (
	"math"

	"github.com/vietddude/uplink/internal/core/domain"
)

// Score weights. Success rate dominates; latency and stability refine.
const (
	weightSuccessRate = 0.5
	weightLatency     = 0.3
	weightStability   = 0.2

	scoreExcellent = 80
	scoreGood      = 50
)

// GetConnectionQuality computes rating, score, and factors from the rolling
// probe history.
func (m *Monitor) GetConnectionQuality() domain.QualityReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scoreLocked()
}

func (m *Monitor) scoreLocked() domain.QualityReport {
	report := domain.QualityReport{
		Rating:      domain.QualityOffline,
		SuccessRate: 1.0,
		Latency:     1.0,
		Stability:   1.0,
	}

	if len(m.history) > 0 {
		report.SuccessRate = m.successRateLocked()
		report.Latency = m.latencyFactorLocked()
		report.Stability = m.stabilityLocked()
	}

	score := weightSuccessRate*report.SuccessRate +
		weightLatency*report.Latency +
		weightStability*report.Stability
	report.Score = int(math.Round(score * 100))

	if m.status.Online {
		switch {
		case report.Score >= scoreExcellent:
			report.Rating = domain.QualityExcellent
		case report.Score >= scoreGood:
			report.Rating = domain.QualityGood
		default:
			report.Rating = domain.QualityPoor
		}
	}

	return report
}

// ratingLocked is the bucket the status snapshot carries.
func (m *Monitor) ratingLocked() domain.Quality {
	return m.scoreLocked().Rating
}

func (m *Monitor) successRateLocked() float64 {
	successes := 0
	for _, s := range m.history {
		if s.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(m.history))
}

// latencyFactorLocked maps average successful-probe latency onto [0,1]:
// 1 at or below the good threshold, 0 at or above the poor threshold.
func (m *Monitor) latencyFactorLocked() float64 {
	var total, n int64
	for _, s := range m.history {
		if s.Success && s.LatencyMs >= 0 {
			total += s.LatencyMs
			n++
		}
	}
	if n == 0 {
		return 0
	}
	avg := float64(total) / float64(n)

	good := float64(m.cfg.LatencyGoodMs)
	poor := float64(m.cfg.LatencyPoorMs)
	switch {
	case avg <= good:
		return 1
	case avg >= poor:
		return 0
	default:
		return 1 - (avg-good)/(poor-good)
	}
}

// stabilityLocked penalizes failure streaks and latency variance.
func (m *Monitor) stabilityLocked() float64 {
	maxStreak, streak := 0, 0
	var latencies []float64
	for _, s := range m.history {
		if s.Success {
			streak = 0
			if s.LatencyMs >= 0 {
				latencies = append(latencies, float64(s.LatencyMs))
			}
			continue
		}
		streak++
		if streak > maxStreak {
			maxStreak = streak
		}
	}

	stability := 1 - float64(maxStreak)/float64(len(m.history))

	if len(latencies) > 1 {
		var mean float64
		for _, l := range latencies {
			mean += l
		}
		mean /= float64(len(latencies))

		var variance float64
		for _, l := range latencies {
			variance += (l - mean) * (l - mean)
		}
		stddev := math.Sqrt(variance / float64(len(latencies)))

		// High jitter relative to the poor threshold costs up to half the
		// stability factor.
		penalty := stddev / float64(m.cfg.LatencyPoorMs)
		if penalty > 0.5 {
			penalty = 0.5
		}
		stability -= penalty
	}

	if stability < 0 {
		return 0
	}
	return stability
}
