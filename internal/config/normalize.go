package config

import (
	"fmt"
	"strings"
	"time"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeAutomation()
	c.normalizeDispatch()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.MediaDir, err = expandPath(c.Paths.MediaDir); err != nil {
		return fmt.Errorf("paths.media_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.PublishWorkers <= 0 {
		c.Workflow.PublishWorkers = defaultPublishWorkers
	}
}

func (c *Config) normalizeAutomation() {
	if c.Automation.MinIntervalHours <= 0 {
		c.Automation.MinIntervalHours = defaultMinIntervalHours
	}
	c.Automation.DefaultTimezone = strings.TrimSpace(c.Automation.DefaultTimezone)
	if c.Automation.DefaultTimezone == "" {
		c.Automation.DefaultTimezone = defaultTimezone
	}
}

func (c *Config) normalizeDispatch() {
	if c.Dispatch.DefaultLimit <= 0 {
		c.Dispatch.DefaultLimit = defaultDispatchLimit
	}
	if c.Dispatch.MaxLimit <= 0 {
		c.Dispatch.MaxLimit = defaultDispatchMaxLimit
	}
	if c.Dispatch.DefaultLimit > c.Dispatch.MaxLimit {
		c.Dispatch.DefaultLimit = c.Dispatch.MaxLimit
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

// Timezone resolves the configured default timezone.
func (c *Config) Timezone() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Automation.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("automation.default_timezone: %w", err)
	}
	return loc, nil
}
