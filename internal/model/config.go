package model

import (
	"fmt"
	"io"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version     int         `json:"version" yaml:"version"` // fixed 0 for now
	Jobs        Jobs        `json:"jobs" yaml:"jobs"`
	Specs       Specs       `json:"specs" yaml:"specs"`
	WorkingDirs WorkingDirs `json:"working_dirs" yaml:"working_dirs"`
	Execution   ExecConfig  `json:"execution" yaml:"execution"`
	Service     Service     `json:"service" yaml:"service"`
}

// Jobs configures the job store.
type Jobs struct {
	Dir        string `json:"dir" yaml:"dir"`
	IDLength   int    `json:"id_length" yaml:"id_length"`
	IDAttempts int    `json:"id_attempts" yaml:"id_attempts"`
}

type Specs struct {
	Dir string `json:"dir" yaml:"dir"`
}

type WorkingDirs struct {
	Dir                  string `json:"dir" yaml:"dir"`
	RemoveAfterExecution bool   `json:"remove_after_execution" yaml:"remove_after_execution"`
}

type ExecConfig struct {
	MaxConcurrentJobs       int    `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	DelayBeforeForciblyKill string `json:"delay_before_forcibly_killing_jobs" yaml:"delay_before_forcibly_killing_jobs"`
	MaterializeDependencies bool   `json:"materialize_dependencies" yaml:"materialize_dependencies"`
}

// KillDelay parses DelayBeforeForciblyKill, accepting both Go (10s) and
// ISO-8601 (PT10S) durations.
func (e ExecConfig) KillDelay() (time.Duration, error) {
	s := strings.TrimSpace(e.DelayBeforeForciblyKill)
	if strings.HasPrefix(s, "P") {
		return ParseISODuration(s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing execution.delay_before_forcibly_killing_jobs: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("execution.delay_before_forcibly_killing_jobs must not be negative: %s", s)
	}
	return d, nil
}

type Service struct {
	Verbose     *bool      `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	MetricsAddr *string    `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
	NotifyURL   *string    `json:"notify_url,omitempty" yaml:"notify_url,omitempty"`
	Schedules   []Schedule `json:"schedules,omitempty" yaml:"schedules,omitempty"`
}

// Schedule submits a job against spec on every cron tick.
type Schedule struct {
	Name   string         `json:"name" yaml:"name"`
	Spec   string         `json:"spec" yaml:"spec"`
	Cron   string         `json:"cron" yaml:"cron"`
	Owner  string         `json:"owner" yaml:"owner"`
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	return out, nil
}

// DefaultConfig is the configuration of an empty config file.
func DefaultConfig() Config {
	cfg, err := LoadConfig(strings.NewReader("version: 0\n"))
	if err != nil {
		panic(fmt.Sprintf("default config does not validate: %v", err))
	}
	return cfg
}

// CueErrDetails returns human readable details of a LoadConfig error.
func CueErrDetails(err error) []CueErrorDetail {
	return humanize(err, schema)
}
