package collab

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/haoran/skuflow/internal/domain"
	"github.com/haoran/skuflow/internal/logger"
)

const notifyTimeout = 10 * time.Second

// Notifier pushes escalation alerts to the supervisor webhook. A nil
// Notifier (or an empty webhook URL) silently drops every alert, so
// callers never need to guard the call.
type Notifier struct {
	client     *resty.Client
	webhookURL string
}

// NewNotifier creates a webhook notifier. An empty URL disables it.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		client:     resty.New().SetTimeout(notifyTimeout).SetHeader("Content-Type", "application/json"),
		webhookURL: webhookURL,
	}
}

// supervisorAlert is the webhook payload for an overdue task.
type supervisorAlert struct {
	TaskID     string `json:"task_id"`
	JobID      string `json:"job_id"`
	TaskType   string `json:"task_type"`
	Priority   string `json:"priority"`
	AgeMinutes int    `json:"age_minutes"`
	Message    string `json:"message"`
}

// NotifySupervisor reports a task that has aged past the critical SLA
// threshold. Delivery is best-effort; the escalation itself is already
// committed before this runs.
func (n *Notifier) NotifySupervisor(ctx context.Context, task *domain.HumanTask, message string) error {
	if n == nil || n.webhookURL == "" {
		return nil
	}
	alert := supervisorAlert{
		TaskID:     task.ID,
		JobID:      task.JobID,
		TaskType:   string(task.TaskType),
		Priority:   string(task.Priority),
		AgeMinutes: int(time.Since(task.CreatedAt).Minutes()),
		Message:    message,
	}
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(alert).
		Post(n.webhookURL)
	if err != nil {
		return fmt.Errorf("supervisor webhook: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("supervisor webhook returned %d", resp.StatusCode())
	}
	logger.CtxInfo(ctx, "supervisor notified: task_id=%s age=%dm", task.ID, alert.AgeMinutes)
	return nil
}
