package engine

import "math"

// EstimateTokens predicts how many decoder positions a conversion will
// occupy. The source contribution scales with the length adjustment because
// the output is stretched or compressed accordingly; the target prompt is
// consumed as-is.
func EstimateTokens(sourceDuration, targetDuration, lengthAdjust, tokensPerSecond float64) int {
	if sourceDuration < 0 {
		sourceDuration = 0
	}
	if targetDuration < 0 {
		targetDuration = 0
	}
	seconds := sourceDuration*lengthAdjust + targetDuration
	return int(math.Ceil(seconds * tokensPerSecond))
}
