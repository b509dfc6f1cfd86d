package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a producer must be allowed to
// finish after its consumer has lost interest (e.g., a [Stream] chunk channel
// after the pipeline has moved on, or a transcript channel during shutdown).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
