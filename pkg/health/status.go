package health

import "encoding/json"

// Status is a sink's coarse health classification, derived from its
// circuit breaker state and write recency.
type Status int

const (
	StatusNotStarted Status = iota
	StatusHealthy
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "not_started"
	}
}

// MarshalJSON renders Status as its lower-case name rather than the
// underlying int, for the JSON health endpoint.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// SinkHealth is one sink's entry in the health map. LastError carries
// the message of the most recent write failure observed by the probe,
// independent of the coarse Reason classification below — it is empty
// only while a sink has never failed; a later successful write does not
// clear it.
type SinkHealth struct {
	Status              Status
	Reason              string
	LastError           string
	ConsecutiveFailures uint32
}
