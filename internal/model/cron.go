package model

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ParseCron parses a 5 field cron expression or a @macro (@hourly,
// @every 5m, ...) into a schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	if strings.HasPrefix(e, "@") {
		return cron.ParseStandard(e)
	}
	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser5.Parse(e)
}
