package stratum

import (
	"chimera/pkg/hashing/hardware"
)

// notifyFor renders a job as a mining.notify push.
func notifyFor(job hardware.JobContext) Notification {
	return newNotification(MethodNotify, job.NotifyParams()...)
}

// subscribeResult is the mining.subscribe result: subscriptions,
// extranonce1 and the extranonce2 width in bytes.
func subscribeResult(extranonce1 string, extranonce2Size int) []interface{} {
	return []interface{}{
		[]interface{}{
			[]string{MethodSetDifficulty, "1"},
			[]string{MethodNotify, "1"},
		},
		extranonce1,
		extranonce2Size,
	}
}

// configureResult acknowledges version rolling with a full mask.
func configureResult() map[string]interface{} {
	return map[string]interface{}{
		"version-rolling":      true,
		"version-rolling.mask": "ffffffff",
	}
}
