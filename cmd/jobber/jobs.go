package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/jobber/internal/specs"
	"github.com/CZERTAINLY/jobber/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "jobs lists persisted jobs, the most recently updated first",
	RunE:  doJobs,
}

var specsCmd = &cobra.Command{
	Use:   "specs",
	Short: "specs lists the available job specs",
	RunE:  doSpecs,
}

func doJobs(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	page, _ := flags.GetInt("page")
	pageSize, _ := flags.GetInt("page-size")
	query, _ := flags.GetString("query")

	st, err := store.New(store.Config{
		Dir:        config.Jobs.Dir,
		IDLength:   config.Jobs.IDLength,
		IDAttempts: config.Jobs.IDAttempts,
	})
	if err != nil {
		return err
	}
	jobs, err := st.GetJobs(cmd.Context(), pageSize, page, query)
	if err != nil {
		return fmt.Errorf("listing jobs: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(jobs)
}

func doSpecs(cmd *cobra.Command, _ []string) error {
	sp, err := specs.New(config.Specs.Dir)
	if err != nil {
		return err
	}
	list, err := sp.List()
	if err != nil {
		return err
	}
	for _, s := range list {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.ID, s.Name, s.Description)
	}
	return nil
}
