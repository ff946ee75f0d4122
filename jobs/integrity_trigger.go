package jobs

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"

	"github.com/aqarfund/aqar/internal/platform/httpx"
)

// ScanEnqueuer submits on-demand integrity scans; satisfied by *Client.
type ScanEnqueuer interface {
	EnqueueMenuIntegrityScan(ctx context.Context, payload MenuIntegrityPayload) (*asynq.TaskInfo, error)
}

// ScanTrigger is an HTTP endpoint that queues a menu integrity scan. The
// caller mounts it behind the administrator guard.
type ScanTrigger struct {
	enqueuer ScanEnqueuer
	logger   *slog.Logger
}

// NewScanTrigger builds a ScanTrigger.
func NewScanTrigger(enqueuer ScanEnqueuer, logger *slog.Logger) *ScanTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanTrigger{enqueuer: enqueuer, logger: logger}
}

type scanQueued struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

// ServeHTTP accepts an optional {"fail_on_issues": bool} body and answers 202.
func (t *ScanTrigger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var payload MenuIntegrityPayload
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &payload); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	info, err := t.enqueuer.EnqueueMenuIntegrityScan(r.Context(), payload)
	if err != nil {
		t.logger.Error("enqueue integrity scan", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "job queue is unreachable")
		return
	}
	resp := scanQueued{Queue: QueueDefault}
	if info != nil {
		resp = scanQueued{TaskID: info.ID, Queue: info.Queue}
	}
	httpx.JSON(w, http.StatusAccepted, resp)
}
