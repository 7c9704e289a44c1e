package sufficiency

import "fmt"

func insufficientSamplesReason(got, required int) string {
	return fmt.Sprintf("insufficient_samples: %d < %d", got, required)
}

func lowBucketCoverageReason(got, required float64) string {
	return fmt.Sprintf("low_bucket_coverage: %.1f%% < %.1f%%", got, required)
}

func staleSourcesReason(sources []string) string {
	return fmt.Sprintf("stale_sources: %v", sources)
}
