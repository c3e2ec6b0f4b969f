package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"conveyor/internal/dispatch"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/quota"
)

type dispatchFlags struct {
	statuses   []string
	templateID int64
	sourceID   int64
	mapped     bool
	unmapped   bool
	failedOnly bool
	orderBy    string
	order      string
	limit      int
	dryRun     bool
	asJSON     bool
}

func newDispatchCommand(ctx *commandContext) *cobra.Command {
	dispatchCmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Queue pipeline work for items in bulk",
	}

	dispatchCmd.AddCommand(newDispatchOpCommand(ctx, dispatch.OpProcess, "process",
		"Start the pipeline for initialized items"))
	dispatchCmd.AddCommand(newDispatchOpCommand(ctx, dispatch.OpRetry, "retry",
		"Resume failed items at the stage that failed"))
	dispatchCmd.AddCommand(newDispatchOpCommand(ctx, dispatch.OpReset, "reset",
		"Force items back to the initialized state"))
	dispatchCmd.AddCommand(newDispatchOpCommand(ctx, dispatch.OpSkip, "skip",
		"Mark items as skipped"))

	return dispatchCmd
}

func newDispatchOpCommand(ctx *commandContext, op dispatch.Operation, use, short string) *cobra.Command {
	flags := &dispatchFlags{}

	cmd := &cobra.Command{
		Use:   use + " [id...]",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				cfg := ctx.configValue()
				ledger := quota.NewLedger(store, cfg.Quota)
				dispatcher := dispatch.New(store, ledger, cfg.Dispatch, logging.NewNop())

				var manifest *dispatch.Manifest
				var err error
				switch {
				case len(args) > 0 && flags.dryRun:
					return fmt.Errorf("--dry-run requires filter flags, not explicit ids")
				case len(args) > 0:
					ids, parseErr := parseIDArgs(args)
					if parseErr != nil {
						return parseErr
					}
					manifest, err = dispatcher.Dispatch(cmd.Context(), ids, op)
				case flags.dryRun:
					manifest, err = dispatcher.DryRun(cmd.Context(), flags.filter(ctx.ownerID()), op)
				default:
					manifest, err = dispatcher.DispatchFilter(cmd.Context(), flags.filter(ctx.ownerID()), op)
				}
				if err != nil {
					return err
				}
				if flags.asJSON {
					return writeJSON(cmd, manifest)
				}
				printManifest(cmd, manifest, flags.dryRun)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&flags.statuses, "status", "s", nil,
		`Filter by status (repeatable; "failed" selects the failed flag)`)
	cmd.Flags().Int64Var(&flags.templateID, "template", 0, "Filter by template id")
	cmd.Flags().Int64Var(&flags.sourceID, "source", 0, "Filter by source id")
	cmd.Flags().BoolVar(&flags.mapped, "mapped", false, "Only items mapped to a template")
	cmd.Flags().BoolVar(&flags.unmapped, "unmapped", false, "Only unmapped items")
	cmd.Flags().BoolVar(&flags.failedOnly, "failed", false, "Only failed items")
	cmd.Flags().StringVar(&flags.orderBy, "order-by", "", "Order column (created_at, updated_at, id, title, status)")
	cmd.Flags().StringVar(&flags.order, "order", "", "Order direction (asc or desc)")
	cmd.Flags().IntVar(&flags.limit, "limit", 0, "Cap the number of matched items")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Preview without consuming quota or mutating items")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "Emit the manifest as JSON")
	return cmd
}

func (f *dispatchFlags) filter(ownerID int64) queue.ItemFilter {
	filter := queue.ItemFilter{
		OwnerID: ownerID,
		Status:  f.statuses,
		OrderBy: f.orderBy,
		Order:   f.order,
		Limit:   f.limit,
	}
	if f.templateID > 0 {
		filter.TemplateID = &f.templateID
	}
	if f.sourceID > 0 {
		filter.SourceID = &f.sourceID
	}
	if f.mapped {
		mapped := true
		filter.IsMapped = &mapped
	} else if f.unmapped {
		mapped := false
		filter.IsMapped = &mapped
	}
	if f.failedOnly {
		failed := true
		filter.Failed = &failed
	}
	return filter
}

func printManifest(cmd *cobra.Command, manifest *dispatch.Manifest, dryRun bool) {
	out := cmd.OutOrStdout()
	if len(manifest.Tasks) == 0 {
		fmt.Fprintln(out, "No items matched")
		return
	}

	rows := make([][]string, 0, len(manifest.Tasks))
	for _, task := range manifest.Tasks {
		taskID := "-"
		if task.TaskID != nil {
			taskID = strconv.FormatInt(*task.TaskID, 10)
		}
		rows = append(rows, []string{
			strconv.FormatInt(task.ItemID, 10),
			string(task.Status),
			taskID,
			dash(task.Reason),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Item", "Outcome", "Task", "Reason"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
	))

	verb := "Queued"
	if dryRun {
		verb = "Would queue"
	}
	fmt.Fprintf(out, "%s %d, skipped %d, errors %d\n",
		verb, manifest.QueuedCount, manifest.SkippedCount, manifest.ErrorCount)
}
