package vault

// Status is the offline state of one locator.
type Status int

const (
	StatusIdle Status = iota
	StatusDownloading
	StatusSaved
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusDownloading:
		return "downloading"
	case StatusSaved:
		return "saved"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Progress of a running save. Total is -1 when the server sent no length.
type Progress struct {
	Received int64
	Total    int64
}

// Fraction returns completion in [0, 1], or 0 when the total is unknown.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Received) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}
