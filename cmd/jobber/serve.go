package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/jobber/internal/log"
	"github.com/CZERTAINLY/jobber/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the job engine with the configured schedules, metrics and notifications",
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("jobber",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	svc, err := service.New(ctx, config)
	if err != nil {
		return err
	}
	return svc.Do(ctx)
}
