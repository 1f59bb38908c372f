package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/relay/internal/cron"
	"github.com/haasonsaas/relay/pkg/models"
)

// CronTool lets the model manage scheduled jobs: reminders, periodic check-ins
// and one-shot follow-ups. Validation errors come back as error results so the
// model can correct itself.
type CronTool struct {
	store *cron.Store
	now   func() time.Time
}

// NewCronTool creates a cron tool over store.
func NewCronTool(store *cron.Store) *CronTool {
	return &CronTool{store: store, now: time.Now}
}

func (t *CronTool) Name() string { return "cron" }

func (t *CronTool) Description() string {
	return "Manage scheduled jobs. Actions: list, add (one of every_seconds, cron, or at), remove."
}

func (t *CronTool) Parameters() *Schema {
	return &Schema{
		Properties: map[string]Property{
			"action": {
				Type:        "string",
				Description: "Operation to perform.",
				Enum:        []string{"list", "add", "remove"},
			},
			"name": {
				Type:        "string",
				Description: "Human-readable job name (add).",
			},
			"message": {
				Type:        "string",
				Description: "Prompt delivered to the agent when the job fires (add).",
			},
			"every_seconds": {
				Type:        "number",
				Description: "Interval in seconds for recurring jobs (add). Minimum 1.",
			},
			"cron": {
				Type:        "string",
				Description: "Five-field cron expression, UTC (add).",
			},
			"at": {
				Type:        "string",
				Description: "RFC3339 timestamp for one-shot jobs (add). Must be in the future.",
			},
			"delete_after_run": {
				Type:        "boolean",
				Description: "Remove a one-shot job after it fires (add).",
			},
			"job_id": {
				Type:        "string",
				Description: "Job id (remove).",
			},
		},
		Required: []string{"action"},
	}
}

func (t *CronTool) Execute(ctx context.Context, params map[string]any) *models.ToolResult {
	if t.store == nil {
		return Errorf("cron is not configured")
	}
	action, _ := params["action"].(string)
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "list":
		return t.list()
	case "add":
		return t.add(ctx, params)
	case "remove":
		return t.remove(params)
	default:
		return Errorf("unknown action %q", action)
	}
}

func (t *CronTool) list() *models.ToolResult {
	jobs := t.store.List()
	if len(jobs) == 0 {
		return OK("no scheduled jobs")
	}
	var sb strings.Builder
	for _, job := range jobs {
		fmt.Fprintf(&sb, "- %s (%s): %s %s", job.ID, job.Name, job.Schedule.Kind, describeSchedule(job.Schedule))
		if !job.Enabled {
			sb.WriteString(" [disabled]")
		}
		if job.State.LastStatus != "" {
			fmt.Fprintf(&sb, " last=%s", job.State.LastStatus)
		}
		sb.WriteString("\n")
	}
	return OK(sb.String())
}

func (t *CronTool) add(ctx context.Context, params map[string]any) *models.ToolResult {
	message, _ := params["message"].(string)
	if strings.TrimSpace(message) == "" {
		return Errorf("message is required")
	}
	name, _ := params["name"].(string)
	if strings.TrimSpace(name) == "" {
		name = "scheduled job"
	}

	schedule, err := t.parseSchedule(params)
	if err != nil {
		return Errorf("invalid schedule: %v", err)
	}
	deleteAfterRun, _ := params["delete_after_run"].(bool)

	job, err := t.store.Add(name, schedule, cron.Payload{Message: message}, deleteAfterRun, SessionKeyFrom(ctx))
	if err != nil {
		return Errorf("add job: %v", err)
	}
	payload, _ := json.Marshal(map[string]string{"status": "created", "job_id": job.ID})
	return OK(string(payload))
}

func (t *CronTool) remove(params map[string]any) *models.ToolResult {
	jobID, _ := params["job_id"].(string)
	if strings.TrimSpace(jobID) == "" {
		return Errorf("job_id is required")
	}
	removed, err := t.store.Remove(strings.TrimSpace(jobID))
	if err != nil {
		return Errorf("remove job: %v", err)
	}
	if !removed {
		return Errorf("job %s not found", jobID)
	}
	return OK("job removed")
}

func (t *CronTool) parseSchedule(params map[string]any) (cron.Schedule, error) {
	everySeconds, hasEvery := asFloat(params["every_seconds"])
	expr, _ := params["cron"].(string)
	at, _ := params["at"].(string)

	set := 0
	if hasEvery {
		set++
	}
	if strings.TrimSpace(expr) != "" {
		set++
	}
	if strings.TrimSpace(at) != "" {
		set++
	}
	if set != 1 {
		return cron.Schedule{}, fmt.Errorf("exactly one of every_seconds, cron, at is required")
	}

	switch {
	case hasEvery:
		return cron.NewEverySchedule(time.Duration(everySeconds * float64(time.Second)))
	case strings.TrimSpace(expr) != "":
		return cron.NewCronSchedule(expr)
	default:
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(at))
		if err != nil {
			return cron.Schedule{}, fmt.Errorf("at must be RFC3339: %w", err)
		}
		return cron.NewAtSchedule(parsed, t.now())
	}
}

func describeSchedule(s cron.Schedule) string {
	switch s.Kind {
	case cron.KindAt:
		return time.UnixMilli(s.AtMS).UTC().Format(time.RFC3339)
	case cron.KindEvery:
		return (time.Duration(s.EveryMS) * time.Millisecond).String()
	case cron.KindCron:
		return s.Expr
	default:
		return "?"
	}
}

// asFloat accepts the numeric shapes json.Unmarshal can hand a tool.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
