package scheduler

const (
	// MaxFileSize is the reference size mapped to the lowest urgency.
	MaxFileSize int64 = 100 * 1024 * 1024
	// MinPriority is served first.
	MinPriority = 1
	// MaxPriority is served last.
	MaxPriority = 20
)

// Priority maps a file size onto [MinPriority, MaxPriority] as
// ceil(20 * size / MaxFileSize). Lower numbers are dequeued earlier, so small files
// are not starved behind large ones.
func Priority(fileSize int64) int {
	if fileSize <= 0 {
		return MinPriority
	}
	if fileSize >= MaxFileSize {
		return MaxPriority
	}
	p := (int64(MaxPriority)*fileSize + MaxFileSize - 1) / MaxFileSize
	if p < MinPriority {
		return MinPriority
	}
	return int(p)
}
