package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/jobber/internal/log"
	"github.com/CZERTAINLY/jobber/internal/model"
)

var (
	userConfigPath string // /default/config/path/jobber on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "jobber")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().String("config", "", "Config file to load - default is jobber.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose logging")
	rootCmd.PersistentFlags().Int("max-concurrent-jobs", 0, "overrides execution.max_concurrent_jobs")

	// JOBBER_CONFIG, JOBBER_VERBOSE, JOBBER_MAX_CONCURRENT_JOBS
	viper.SetEnvPrefix("jobber")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	for _, name := range []string{"config", "verbose", "max-concurrent-jobs"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initJobber

	runCmd.Flags().String("owner", currentUser(), "owner of the job")
	runCmd.Flags().String("name", "", "name of the job, defaults to the spec name")
	runCmd.Flags().StringArray("input", nil, "input as key=value, the value is parsed as YAML")
	jobsCmd.Flags().Int("page", 0, "page to list, starting at 0")
	jobsCmd.Flags().Int("page-size", 20, "jobs per page")
	jobsCmd.Flags().String("query", "", "case insensitive filter over id, name and owner")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(specsCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("jobber failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "jobber",
	Short:        "Runs jobs as local processes under a concurrency limit",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a jobber",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("jobber: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("jobber: %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initJobber(cmd *cobra.Command, _ []string) error {
	if path := viper.GetString("config"); path != "" {
		configPath = path
	} else {
		for _, d := range []string{".", userConfigPath} {
			path := filepath.Join(d, "jobber.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "jobber.yaml")
		if err := writeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid config", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	// flags and environment have a precedence over config file
	if viper.GetBool("verbose") {
		verbose := true
		config.Service.Verbose = &verbose
	}
	if n := viper.GetInt("max-concurrent-jobs"); n > 0 {
		config.Execution.MaxConcurrentJobs = n
	}

	slog.SetDefault(log.New(os.Stderr, get(config.Service.Verbose)))

	slog.Debug("jobber run", "configPath", configPath)
	slog.Debug("jobber run", "config", config)
	return nil
}

func writeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func currentUser() string {
	for _, env := range []string{"USER", "USERNAME"} {
		if u := os.Getenv(env); u != "" {
			return u
		}
	}
	return "jobber"
}

func get[T any](pt *T) T {
	var zero T
	if pt == nil {
		return zero
	}
	return *pt
}
