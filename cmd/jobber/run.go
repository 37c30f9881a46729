package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/jobber/internal/log"
	"github.com/CZERTAINLY/jobber/internal/model"
	"github.com/CZERTAINLY/jobber/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run SPEC",
	Short: "run submits a single job, streams its output and waits for it",
	Args:  cobra.ExactArgs(1),
	RunE:  doRun,
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("jobber",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	flags := cmd.Flags()
	owner, _ := flags.GetString("owner")
	name, _ := flags.GetString("name")
	rawInputs, _ := flags.GetStringArray("input")
	inputs, err := parseInputs(rawInputs)
	if err != nil {
		return err
	}

	// schedules, metrics and notifications belong to serve
	config.Service.Schedules = nil
	config.Service.MetricsAddr = nil
	svc, err := service.New(ctx, config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	var doErr error
	wg.Go(func() {
		doErr = svc.Do(ctx)
	})
	defer func() {
		cancel()
		wg.Wait()
	}()

	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()
	id, future, err := svc.Submit(ctx, service.Request{
		Spec:   args[0],
		Owner:  owner,
		Name:   name,
		Inputs: inputs,
	}, model.Listeners{
		Stdout: func(b []byte) { _, _ = stdout.Write(b) },
		Stderr: func(b []byte) { _, _ = stderr.Write(b) },
	})
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "job submitted", "job_id", id.String())

	res, err := future.Wait(ctx)
	if err != nil {
		return err
	}
	cancel()
	wg.Wait()
	if doErr != nil {
		return doErr
	}
	if res.Status != model.StatusFinished {
		return fmt.Errorf("job %s %s: %s", id, res.Status, res.Message)
	}
	slog.InfoContext(ctx, "job finished", "job_id", id.String(), "took", res.Finished.Sub(res.Started).String())
	return nil
}

// parseInputs turns key=value pairs into inputs, values are YAML so that
// numbers, booleans and lists keep their type.
func parseInputs(raw []string) (map[string]any, error) {
	inputs := make(map[string]any, len(raw))
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("input %q: expected key=value", kv)
		}
		var v any
		if err := yaml.Unmarshal([]byte(value), &v); err != nil {
			return nil, fmt.Errorf("input %s: %w", key, err)
		}
		inputs[key] = v
	}
	return inputs, nil
}
