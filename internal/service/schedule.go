package service

import (
	"context"
	"fmt"
	"log/slog"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/CZERTAINLY/jobber/internal/log"
	"github.com/CZERTAINLY/jobber/internal/model"
)

// newScheduler registers a cron job per schedule, every tick calls submit.
func newScheduler(ctx context.Context, schedules []model.Schedule, submit func(context.Context, model.Schedule)) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	for _, sch := range schedules {
		if _, err := model.ParseCron(sch.Cron); err != nil {
			return nil, fmt.Errorf("parsing service.schedules[%s].cron: %w", sch.Name, err)
		}
		job := gocron.CronJob(sch.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "schedule", sch.Name, "cron", sch.Cron)

		taskCtx := log.ContextAttrs(context.WithoutCancel(ctx), slog.String("schedule", sch.Name))
		_, err = s.NewJob(
			job,
			gocron.NewTask(submit, taskCtx, sch),
			gocron.WithName(sch.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("initializing gocron job %s: %w", sch.Name, err)
		}
	}
	return s, nil
}
