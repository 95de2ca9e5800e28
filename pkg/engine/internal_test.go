package engine

// ResetForTest clears the process-wide install guard between specs.
// Exported for engine_test only; a real process never needs this since
// an engine is installed exactly once for its whole lifetime.
func ResetForTest() {
	resetForTest()
}
