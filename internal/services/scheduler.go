package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kpellas/iris-assist/internal/iris"
	"github.com/kpellas/iris-assist/internal/repository"
)

// SchedulerService starts protocols on cron triggers, e.g. "weekdays at 7am,
// start Morning Routine". A trigger that fires while the owner already has an
// active run logs the collision and skips; it never cancels or queues.
type SchedulerService struct {
	cron     *cron.Cron
	repo     repository.ScheduleRepository
	engine   *RunEngine
	entryMap map[string]cron.EntryID // schedule ID -> cron entry
	mu       sync.RWMutex
}

func NewSchedulerService(repo repository.ScheduleRepository, engine *RunEngine) *SchedulerService {
	return &SchedulerService{
		cron:     cron.New(cron.WithSeconds()),
		repo:     repo,
		engine:   engine,
		entryMap: make(map[string]cron.EntryID),
	}
}

// Start registers all enabled schedules and begins ticking.
func (s *SchedulerService) Start(ctx context.Context) error {
	schedules, err := s.repo.List(ctx, "")
	if err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}

	for _, sched := range schedules {
		if !sched.Enabled {
			continue
		}
		if err := s.registerCronJob(sched); err != nil {
			slog.Error("failed to register schedule", "schedule_id", sched.ID, "error", err)
		}
	}

	s.cron.Start()
	slog.Info("scheduler started", "schedules", len(s.entryMap))
	return nil
}

// Stop halts the cron loop and waits for in-flight jobs to finish.
func (s *SchedulerService) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	slog.Info("scheduler stopped")
}

// AddSchedule validates, persists and (when enabled) registers a schedule.
func (s *SchedulerService) AddSchedule(ctx context.Context, sched *iris.Schedule) error {
	if strings.TrimSpace(sched.OwnerID) == "" {
		return iris.ErrValidation("owner is required")
	}
	if strings.TrimSpace(sched.ProtocolName) == "" {
		return iris.ErrValidation("protocol name is required")
	}
	// The protocol must exist at schedule time; a later soft-delete is
	// surfaced when the trigger fires.
	if _, err := s.engine.protocols.GetByName(ctx, sched.OwnerID, sched.ProtocolName); err != nil {
		return err
	}

	cronSched, err := parseCronExpr(sched.CronExpr, sched.Timezone)
	if err != nil {
		return iris.ErrValidation(fmt.Sprintf("invalid cron expression %q", sched.CronExpr))
	}

	if sched.ID == "" {
		sched.ID = iris.GenerateID("sched")
	}
	now := time.Now()
	sched.CreatedAt = now
	sched.UpdatedAt = now
	sched.NextRunAt = cronSched.Next(now)

	if err := s.repo.Create(ctx, sched); err != nil {
		return err
	}

	if sched.Enabled {
		if err := s.registerCronJob(sched); err != nil {
			return fmt.Errorf("registering cron job: %w", err)
		}
	}

	slog.Info("schedule added",
		"schedule_id", sched.ID,
		"owner_id", sched.OwnerID,
		"protocol", sched.ProtocolName,
		"cron", sched.CronExpr)
	return nil
}

// UpdateSchedule replaces an existing schedule's definition and re-registers
// its cron job to match.
func (s *SchedulerService) UpdateSchedule(ctx context.Context, sched *iris.Schedule) error {
	existing, err := s.repo.Get(ctx, sched.ID)
	if err != nil {
		return err
	}

	cronSched, err := parseCronExpr(sched.CronExpr, sched.Timezone)
	if err != nil {
		return iris.ErrValidation(fmt.Sprintf("invalid cron expression %q", sched.CronExpr))
	}

	sched.CreatedAt = existing.CreatedAt
	sched.LastRunAt = existing.LastRunAt
	sched.UpdatedAt = time.Now()
	sched.NextRunAt = cronSched.Next(time.Now())

	if err := s.repo.Update(ctx, sched); err != nil {
		return err
	}

	s.unregisterCronJob(sched.ID)
	if sched.Enabled {
		if err := s.registerCronJob(sched); err != nil {
			return fmt.Errorf("registering cron job: %w", err)
		}
	}
	return nil
}

// RemoveSchedule deletes the schedule and stops its cron job.
func (s *SchedulerService) RemoveSchedule(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.unregisterCronJob(id)
	slog.Info("schedule removed", "schedule_id", id)
	return nil
}

// PauseSchedule disables a schedule without deleting it.
func (s *SchedulerService) PauseSchedule(ctx context.Context, id string) error {
	sched, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	sched.Enabled = false
	sched.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, sched); err != nil {
		return err
	}
	s.unregisterCronJob(id)
	return nil
}

// ResumeSchedule re-enables a paused schedule.
func (s *SchedulerService) ResumeSchedule(ctx context.Context, id string) error {
	sched, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if sched.Enabled {
		return nil
	}
	sched.Enabled = true
	sched.UpdatedAt = time.Now()
	if cronSched, perr := parseCronExpr(sched.CronExpr, sched.Timezone); perr == nil {
		sched.NextRunAt = cronSched.Next(time.Now())
	}
	if err := s.repo.Update(ctx, sched); err != nil {
		return err
	}
	return s.registerCronJob(sched)
}

func (s *SchedulerService) GetSchedule(ctx context.Context, id string) (*iris.Schedule, error) {
	return s.repo.Get(ctx, id)
}

func (s *SchedulerService) ListSchedules(ctx context.Context, ownerID string) ([]*iris.Schedule, error) {
	return s.repo.List(ctx, ownerID)
}

// TriggerNow fires a schedule immediately, outside its cron cadence.
func (s *SchedulerService) TriggerNow(ctx context.Context, id string) error {
	sched, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	s.executeScheduledStart(sched)
	return nil
}

func (s *SchedulerService) registerCronJob(sched *iris.Schedule) error {
	cronSched, err := parseCronExpr(sched.CronExpr, sched.Timezone)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", sched.CronExpr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entryMap[sched.ID]; ok {
		s.cron.Remove(entryID)
	}

	schedCopy := *sched
	entryID := s.cron.Schedule(cronSched, cron.FuncJob(func() {
		s.executeScheduledStart(&schedCopy)
	}))
	s.entryMap[sched.ID] = entryID
	return nil
}

func (s *SchedulerService) unregisterCronJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entryMap[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, id)
	}
}

// executeScheduledStart is the cron callback. Start failures are logged, not
// propagated; the next tick gets a fresh chance.
func (s *SchedulerService) executeScheduledStart(sched *iris.Schedule) {
	ctx := context.Background()

	result, err := s.engine.StartRun(ctx, sched.OwnerID, sched.ProtocolName)
	switch {
	case err == nil:
		slog.Info("scheduled run started",
			"schedule_id", sched.ID,
			"run_id", result.Run.ID,
			"protocol", sched.ProtocolName)
	case iris.IsConflict(err):
		slog.Warn("scheduled start skipped, owner already has an active run",
			"schedule_id", sched.ID,
			"owner_id", sched.OwnerID,
			"active_protocol", iris.ActiveProtocol(err))
	case iris.IsNotFound(err):
		slog.Error("scheduled start failed, protocol missing",
			"schedule_id", sched.ID,
			"protocol", sched.ProtocolName)
	default:
		slog.Error("scheduled start failed",
			"schedule_id", sched.ID,
			"error", err)
	}

	now := time.Now()
	sched.LastRunAt = &now
	sched.UpdatedAt = now
	if cronSched, perr := parseCronExpr(sched.CronExpr, sched.Timezone); perr == nil {
		sched.NextRunAt = cronSched.Next(now)
	}
	if err := s.repo.Update(ctx, sched); err != nil {
		slog.Warn("failed to update schedule after trigger", "schedule_id", sched.ID, "error", err)
	}
}

// parseCronExpr accepts 6-field (with seconds) and standard 5-field
// expressions, applying the schedule's timezone via CRON_TZ.
func parseCronExpr(expr, timezone string) (cron.Schedule, error) {
	if timezone != "" && timezone != "UTC" {
		expr = "CRON_TZ=" + timezone + " " + expr
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if sched, err := parser.Parse(expr); err == nil {
		return sched, nil
	}

	standard := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return standard.Parse(expr)
}
