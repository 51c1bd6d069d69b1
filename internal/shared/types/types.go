package types

// HealthStatus is the outcome of a primary-path health check.
type HealthStatus int

const (
	StatusUnknown HealthStatus = iota // Default value
	StatusUp
	StatusDown
)

func (s HealthStatus) String() string {
	switch s {
	case StatusUp:
		return "up"
	case StatusDown:
		return "down"
	default:
		return "unknown"
	}
}

// MarshalText lets HealthStatus appear as a word in JSON status payloads.
func (s HealthStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
