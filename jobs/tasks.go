package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskMenuIntegrityScan checks the menu registry and visibility rows for
	// dangling references.
	TaskMenuIntegrityScan = "menu:integrity_scan"
	// TaskRBACCacheWarmup pre-computes resolver cache entries for active users.
	TaskRBACCacheWarmup = "rbac:cache_warmup"
)

// MenuIntegrityPayload controls a scan run.
type MenuIntegrityPayload struct {
	// FailOnIssues makes the task fail, and so retry, when issues are found.
	FailOnIssues bool `json:"fail_on_issues"`
}

// CacheWarmupPayload bounds a warmup run.
type CacheWarmupPayload struct {
	Limit int `json:"limit"`
}

const defaultWarmupLimit = 500

// NewMenuIntegrityTask constructs an integrity scan task.
func NewMenuIntegrityTask(payload MenuIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMenuIntegrityScan, data), nil
}

// NewCacheWarmupTask constructs a cache warmup task.
func NewCacheWarmupTask(payload CacheWarmupPayload) (*asynq.Task, error) {
	if payload.Limit <= 0 {
		payload.Limit = defaultWarmupLimit
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRBACCacheWarmup, data), nil
}
