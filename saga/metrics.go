package saga

// Metrics receives saga lifecycle measurements
type Metrics interface {
	RecordTransition(eventType string, from, to Status)
	RecordReplay(eventType string, status Status)
	RecordIgnored(eventType string, status Status)
	RecordCompensationStarted()
	RecordCompensationCompleted()
}

// NopMetrics discards every measurement
type NopMetrics struct{}

func (NopMetrics) RecordTransition(eventType string, from, to Status) {}
func (NopMetrics) RecordReplay(eventType string, status Status)       {}
func (NopMetrics) RecordIgnored(eventType string, status Status)      {}
func (NopMetrics) RecordCompensationStarted()                         {}
func (NopMetrics) RecordCompensationCompleted()                       {}
