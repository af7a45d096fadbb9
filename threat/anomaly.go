package threat

import (
	"math"
	"sort"

	"vigil/core"
)

// Minimum samples before scoring activates. Sparse data produces junk
// baselines, so scorers below these floors return nothing.
const (
	MinHourlyBuckets = 3
	MinDistinctIPs   = 5
)

// High-severity escalation thresholds. Volume-by-hour spikes escalate
// earlier than per-source-IP spikes.
const (
	HourlyHighZ   = 3.0
	SourceIPHighZ = 4.0
)

// BucketScore is the z-score verdict for one bucket
type BucketScore struct {
	Bucket    string        `json:"bucket"`
	Count     float64       `json:"count"`
	Mean      float64       `json:"mean"`
	ZScore    float64       `json:"z_score"`
	Anomalous bool          `json:"anomalous"`
	Severity  core.Severity `json:"severity"`
}

// ScoreBuckets computes the population mean and standard deviation over
// bucket counts and flags buckets whose |z| reaches threshold. A zero
// standard deviation means every bucket sits on the mean, so z is 0 and
// nothing is flagged. Buckets past highThreshold escalate to high.
// The flag comparison is inclusive: one outlier among five uniform
// buckets lands at exactly z = 2.0 and must flag at the default 2.0.
func ScoreBuckets(counts map[string]float64, threshold, highThreshold float64) []BucketScore {
	if len(counts) == 0 {
		return nil
	}

	var sum float64
	for _, count := range counts {
		sum += count
	}
	mean := sum / float64(len(counts))

	var variance float64
	for _, count := range counts {
		diff := count - mean
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(len(counts)))

	scores := make([]BucketScore, 0, len(counts))
	for bucket, count := range counts {
		z := 0.0
		if stdDev != 0 {
			z = (count - mean) / stdDev
		}
		score := BucketScore{
			Bucket: bucket,
			Count:  count,
			Mean:   mean,
			ZScore: z,
		}
		if math.Abs(z) >= threshold && z != 0 {
			score.Anomalous = true
			score.Severity = core.SeverityMedium
			if math.Abs(z) > highThreshold {
				score.Severity = core.SeverityHigh
			}
		}
		scores = append(scores, score)
	}

	// deterministic output: most deviant first
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].ZScore != scores[j].ZScore {
			return math.Abs(scores[i].ZScore) > math.Abs(scores[j].ZScore)
		}
		return scores[i].Bucket < scores[j].Bucket
	})
	return scores
}

// Anomalies filters a score set down to its flagged buckets
func Anomalies(scores []BucketScore) []BucketScore {
	var out []BucketScore
	for _, score := range scores {
		if score.Anomalous {
			out = append(out, score)
		}
	}
	return out
}

// worstSeverity returns the highest severity across the scores, never
// below medium so a finding built from flagged buckets is at least medium.
func worstSeverity(scores []BucketScore) core.Severity {
	worst := core.SeverityMedium
	for _, score := range scores {
		if score.Severity.Rank() > worst.Rank() {
			worst = score.Severity
		}
	}
	return worst
}

// HourlyVolumeScores buckets events by hour of occurrence and scores the
// hourly counts. Returns nil below the minimum bucket floor.
func HourlyVolumeScores(events []*core.SecurityEvent, threshold float64) []BucketScore {
	counts := make(map[string]float64)
	for _, event := range events {
		counts[event.CreatedAt.UTC().Format("2006-01-02T15")]++
	}
	if len(counts) <= MinHourlyBuckets {
		return nil
	}
	return ScoreBuckets(counts, threshold, HourlyHighZ)
}

// SourceIPScores buckets events by source IP and scores per-IP counts.
// Returns nil below the minimum distinct-IP floor.
func SourceIPScores(events []*core.SecurityEvent, threshold float64) []BucketScore {
	counts := make(map[string]float64)
	for _, event := range events {
		if event.IPAddress != "" {
			counts[event.IPAddress]++
		}
	}
	if len(counts) <= MinDistinctIPs {
		return nil
	}
	return ScoreBuckets(counts, threshold, SourceIPHighZ)
}
