package maxsize

// Policy triggers eviction when the pool would exceed a fixed size.
type Policy struct {
	MaxBytes int64
}

func (m *Policy) BytesToFree(currentSize int64) int64 {
	if currentSize > m.MaxBytes {
		return currentSize - m.MaxBytes
	}
	return 0
}
