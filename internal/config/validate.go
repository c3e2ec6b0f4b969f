package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateQuota(); err != nil {
		return err
	}
	if err := c.validateAutomation(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.publish_workers":      c.Workflow.PublishWorkers,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateQuota() error {
	if c.Quota.MonthlyItemLimit < 0 {
		return errors.New("quota.monthly_item_limit must be >= 0")
	}
	if c.Quota.MonthlyAutomationLimit < 0 {
		return errors.New("quota.monthly_automation_limit must be >= 0")
	}
	if c.Quota.StorageLimitBytes < 0 {
		return errors.New("quota.storage_limit_bytes must be >= 0")
	}
	if c.Quota.ConcurrentTaskLimit < 0 {
		return errors.New("quota.concurrent_task_limit must be >= 0")
	}
	return nil
}

func (c *Config) validateAutomation() error {
	if c.Automation.MinIntervalHours < 1 {
		return errors.New("automation.min_interval_hours must be >= 1")
	}
	if _, err := time.LoadLocation(c.Automation.DefaultTimezone); err != nil {
		return fmt.Errorf("automation.default_timezone %q is not a valid IANA zone", c.Automation.DefaultTimezone)
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if c.Dispatch.DefaultLimit <= 0 {
		return errors.New("dispatch.default_limit must be positive")
	}
	if c.Dispatch.MaxLimit <= 0 {
		return errors.New("dispatch.max_limit must be positive")
	}
	if c.Dispatch.DefaultLimit > c.Dispatch.MaxLimit {
		return errors.New("dispatch.default_limit must not exceed dispatch.max_limit")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
