package grants

import "time"

// MetricsRecorder receives domain measurements from the store, resolver,
// and staged sessions. The observability package's Metrics satisfies it.
type MetricsRecorder interface {
	RecordMutation(operation string)
	RecordCascade(tables, fields, profileEdges, userEdges int)
	RecordSessionCommit(outcome string)
	RecordResolution(kind string, duration time.Duration)
	RecordCacheHit()
	RecordCacheMiss()
}

// nopMetrics is the default recorder; it drops everything.
type nopMetrics struct{}

func (nopMetrics) RecordMutation(string)                  {}
func (nopMetrics) RecordCascade(int, int, int, int)       {}
func (nopMetrics) RecordSessionCommit(string)             {}
func (nopMetrics) RecordResolution(string, time.Duration) {}
func (nopMetrics) RecordCacheHit()                        {}
func (nopMetrics) RecordCacheMiss()                       {}
