package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"conveyor/internal/api"
	"conveyor/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := api.NewQueueService(store).Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := buildQueueStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				out := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

// buildQueueStatusRows orders counts by the pipeline's status progression and
// drops zero rows.
func buildQueueStatusRows(stats map[string]int) [][]string {
	ordered := make([]string, 0, len(stats))
	for _, status := range queue.AllStatuses() {
		ordered = append(ordered, string(status))
	}
	seen := make(map[string]bool, len(ordered))
	for _, status := range ordered {
		seen[status] = true
	}
	extra := make([]string, 0)
	for status := range stats {
		if !seen[status] {
			extra = append(extra, status)
		}
	}
	sort.Strings(extra)
	ordered = append(ordered, extra...)

	rows := make([][]string, 0, len(ordered))
	for _, status := range ordered {
		count := stats[status]
		if count == 0 {
			continue
		}
		rows = append(rows, []string{status, strconv.Itoa(count)})
	}
	return rows
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				statuses := make([]queue.Status, 0, len(listStatuses))
				for _, raw := range listStatuses {
					status, ok := queue.ParseStatus(raw)
					if !ok {
						return fmt.Errorf("unknown status %q", raw)
					}
					statuses = append(statuses, status)
				}

				items, err := api.NewQueueService(store).List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}

				rows := make([][]string, 0, len(items))
				for _, item := range items {
					tpl := "-"
					if item.TemplateID != nil {
						tpl = strconv.FormatInt(*item.TemplateID, 10)
					}
					status := item.Status
					if item.Failed && item.FailedAtStage != "" {
						status = fmt.Sprintf("failed (%s)", item.FailedAtStage)
					}
					rows = append(rows, []string{
						strconv.FormatInt(item.ID, 10),
						strconv.FormatInt(item.OwnerID, 10),
						truncate(item.Title, 40),
						status,
						tpl,
						formatBytes(item.StorageBytes),
						item.CreatedAt,
					})
				}
				out := renderTable(
					[]string{"ID", "Owner", "Title", "Status", "Template", "Storage", "Created"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by queue status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one queue item with its publications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				detail, err := api.NewQueueService(store).Describe(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				if detail == nil {
					return fmt.Errorf("item %d not found", ids[0])
				}
				if asJSON {
					return writeJSON(cmd, detail)
				}

				out := cmd.OutOrStdout()
				item := detail.Item
				fmt.Fprintf(out, "Item %d: %s\n", item.ID, item.Title)
				fmt.Fprintf(out, "  Owner:    %d\n", item.OwnerID)
				fmt.Fprintf(out, "  Status:   %s\n", item.Status)
				if item.Failed {
					fmt.Fprintf(out, "  Failed:   at %s (%s)\n", dash(item.FailedAtStage), dash(item.ErrorMessage))
					fmt.Fprintf(out, "  Retries:  %d\n", item.RetryCount)
				}
				if item.TemplateID != nil {
					fmt.Fprintf(out, "  Template: %d\n", *item.TemplateID)
				}
				fmt.Fprintf(out, "  Storage:  %s\n", formatBytes(item.StorageBytes))
				fmt.Fprintf(out, "  Created:  %s\n", dash(item.CreatedAt))

				if len(detail.Publications) > 0 {
					rows := make([][]string, 0, len(detail.Publications))
					for _, pub := range detail.Publications {
						rows = append(rows, []string{
							pub.Target,
							pub.Status,
							strconv.Itoa(pub.RetryCount),
							dash(truncate(pub.ErrorMessage, 50)),
						})
					}
					fmt.Fprintln(out, "Publications:")
					fmt.Fprintln(out, renderTable(
						[]string{"Target", "Status", "Retries", "Error"},
						rows,
						[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
					))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove queue items that no worker currently owns",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				result, err := api.RemoveItemsByID(cmd.Context(), store, ids)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, entry := range result.Items {
					switch entry.Outcome {
					case api.RemoveItemDeleted:
						fmt.Fprintf(out, "Removed item %d (%s)\n", entry.ID, entry.PriorStatus)
					case api.RemoveItemInFlight:
						fmt.Fprintf(out, "Skipped item %d: a worker owns it (%s)\n", entry.ID, entry.PriorStatus)
					default:
						fmt.Fprintf(out, "Skipped item %d: not found\n", entry.ID)
					}
				}
				fmt.Fprintf(out, "Removed %d of %d items\n", result.DeletedCount, len(ids))
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear uploaded items (or failed items with --failed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				var removed int64
				var err error
				if clearFailed {
					removed, err = api.ClearFailedItems(cmd.Context(), store)
				} else {
					removed, err = api.ClearCompletedItems(cmd.Context(), store)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d items\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Clear failed items instead of uploaded ones")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show aggregate queue diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				rows := [][]string{
					{"Total", strconv.Itoa(health.Total)},
					{"Waiting", strconv.Itoa(health.Waiting)},
					{"Processing", strconv.Itoa(health.Processing)},
					{"Completed", strconv.Itoa(health.Completed)},
					{"Failed", strconv.Itoa(health.Failed)},
					{"Skipped", strconv.Itoa(health.Skipped)},
				}
				out := renderTable([]string{"Metric", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}
