// Package epp implements the Execution & Planning Pipeline: the single-shot
// pipeline that drives a VM Executor through one job, stages its segments
// and coprocessor requests, and materializes the resulting binary
// reduction tree of proving tasks into the Task DB.
package epp

import "time"

// ttlDuration converts a TTL expressed in whole seconds (0 meaning "use
// the backend's default") into a time.Duration for the Cache interface.
func ttlDuration(seconds int64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
