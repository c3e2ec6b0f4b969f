package config

const (
	defaultStagingDir         = "~/.local/share/conveyor/staging"
	defaultMediaDir           = "~/media"
	defaultLogDir             = "~/.local/share/conveyor/logs"
	defaultLogRetentionDays   = 60
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultPublishWorkers     = 4
	defaultMonthlyItemLimit   = 200
	defaultMonthlyAutoLimit   = 500
	defaultConcurrentTasks    = 4
	defaultStorageLimitBytes  = int64(50) << 30
	defaultMinIntervalHours   = 1
	defaultTimezone           = "UTC"
	defaultDispatchLimit      = 50
	defaultDispatchMaxLimit   = 500
	defaultNotifyTimeout      = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			MediaDir:   defaultMediaDir,
			LogDir:     defaultLogDir,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			PublishWorkers:     defaultPublishWorkers,
		},
		Quota: Quota{
			MonthlyItemLimit:       defaultMonthlyItemLimit,
			MonthlyAutomationLimit: defaultMonthlyAutoLimit,
			StorageLimitBytes:      defaultStorageLimitBytes,
			ConcurrentTaskLimit:    defaultConcurrentTasks,
		},
		Automation: Automation{
			MinIntervalHours: defaultMinIntervalHours,
			DefaultTimezone:  defaultTimezone,
		},
		Dispatch: Dispatch{
			DefaultLimit: defaultDispatchLimit,
			MaxLimit:     defaultDispatchMaxLimit,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Stages:         true,
			Publications:   true,
			Automation:     true,
			Errors:         true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
