package policy

// Policy decides how much space has to be reclaimed.
type Policy interface {
	// BytesToFree returns the number of bytes that should be evicted when
	// the pool would hold currentSize bytes. Returns 0 if nothing has to go.
	BytesToFree(currentSize int64) int64
}
