package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kpellas/iris-assist/internal/iris"
)

// TimerSink drives the external countdown surface. A step event arms a timer
// for that step's duration; a terminal event clears whatever is armed. The
// timer device calls back into the advance endpoint when a countdown ends,
// so the engine itself never sleeps.
type TimerSink struct {
	URL    string
	Client *http.Client
}

func NewTimerSink(url string) *TimerSink {
	return &TimerSink{URL: url}
}

func (s *TimerSink) Name() string { return "timer" }

func (s *TimerSink) Deliver(ctx context.Context, event iris.Event) error {
	if s.URL == "" {
		return nil
	}

	payload := map[string]any{
		"run_id":   event.RunID,
		"owner_id": event.OwnerID,
	}
	switch event.Type {
	case iris.EventRunStarted, iris.EventStepAdvanced:
		if event.Step == nil {
			return fmt.Errorf("step event for run %q missing step payload", event.RunID)
		}
		payload["action"] = "set"
		payload["step_index"] = event.StepIndex
		payload["label"] = event.Step.Label
		payload["duration_minutes"] = event.Step.DurationMinutes
	case iris.EventRunCompleted, iris.EventRunCancelled:
		payload["action"] = "clear"
	default:
		return nil
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("timer send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("timer surface returned %d", resp.StatusCode)
	}
	return nil
}
