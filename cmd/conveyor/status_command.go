package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conveyor/internal/queue"
	"conveyor/internal/quota"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue health and quota usage for the owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				cfg := ctx.configValue()
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				ledger := quota.NewLedger(store, cfg.Quota)
				usage, err := ledger.Usage(cmd.Context(), ctx.ownerID())
				if err != nil {
					return err
				}

				if asJSON {
					return writeJSON(cmd, map[string]any{
						"queue": health,
						"quota": usage,
					})
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				for _, line := range renderSectionHeader("Queue", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Total", statusInfo, fmt.Sprintf("%d items", health.Total), colorize))
				fmt.Fprintln(out, renderStatusLine("Waiting", statusInfo, fmt.Sprintf("%d", health.Waiting), colorize))
				fmt.Fprintln(out, renderStatusLine("Processing", statusInfo, fmt.Sprintf("%d", health.Processing), colorize))
				fmt.Fprintln(out, renderStatusLine("Completed", statusOK, fmt.Sprintf("%d", health.Completed), colorize))
				failedKind := statusOK
				if health.Failed > 0 {
					failedKind = statusError
				}
				fmt.Fprintln(out, renderStatusLine("Failed", failedKind, fmt.Sprintf("%d", health.Failed), colorize))

				for _, line := range renderSectionHeader(fmt.Sprintf("Quota (owner %d, %s)", usage.OwnerID, usage.Period), colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Items", quotaKind(usage.ItemsCreated, int64(cfg.Quota.MonthlyItemLimit)),
					quotaValue(usage.ItemsCreated, int64(cfg.Quota.MonthlyItemLimit)), colorize))
				fmt.Fprintln(out, renderStatusLine("Automation runs", quotaKind(usage.AutomationRuns, int64(cfg.Quota.MonthlyAutomationLimit)),
					quotaValue(usage.AutomationRuns, int64(cfg.Quota.MonthlyAutomationLimit)), colorize))
				storageValue := formatBytes(usage.StorageBytes)
				if cfg.Quota.StorageLimitBytes > 0 {
					storageValue = fmt.Sprintf("%s of %s", formatBytes(usage.StorageBytes), formatBytes(cfg.Quota.StorageLimitBytes))
				}
				fmt.Fprintln(out, renderStatusLine("Storage", quotaKind(usage.StorageBytes, cfg.Quota.StorageLimitBytes), storageValue, colorize))
				fmt.Fprintln(out, renderStatusLine("Active tasks", quotaKind(usage.ActiveTasks, int64(cfg.Quota.ConcurrentTaskLimit)),
					quotaValue(usage.ActiveTasks, int64(cfg.Quota.ConcurrentTaskLimit)), colorize))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

func quotaValue(used, limit int64) string {
	if limit <= 0 {
		return fmt.Sprintf("%d (no limit)", used)
	}
	return fmt.Sprintf("%d of %d", used, limit)
}

func quotaKind(used, limit int64) statusKind {
	switch {
	case limit <= 0:
		return statusInfo
	case used >= limit:
		return statusError
	case used*10 >= limit*8:
		return statusWarn
	default:
		return statusOK
	}
}
