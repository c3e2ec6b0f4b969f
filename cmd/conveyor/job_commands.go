package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/api"
	"conveyor/internal/automation"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Manage recurring automation jobs",
	}

	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobCreateCommand(ctx))
	jobCmd.AddCommand(newJobShowCommand(ctx))
	jobCmd.AddCommand(newJobDeleteCommand(ctx))

	return jobCmd
}

func jobService(ctx *commandContext, store *queue.Store) *api.JobService {
	cfg := ctx.configValue()
	return api.NewJobService(automation.NewService(store, cfg.Automation, logging.NewNop()))
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List automation jobs for the owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				jobs, err := jobService(ctx, store).List(cmd.Context(), ctx.ownerID())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, jobs)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						truncate(job.Name, 30),
						yesNo(job.Active),
						dash(job.LastRunAt),
						dash(job.NextRunAt),
						strconv.Itoa(job.RunCount),
					})
				}
				out := renderTable(
					[]string{"ID", "Name", "Active", "Last run", "Next run", "Runs"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newJobCreateCommand(ctx *commandContext) *cobra.Command {
	var (
		name         string
		scheduleJSON string
		sourceID     int64
		templateIDs  []int64
		statusFilter []string
		inactive     bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an automation job with a validated schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			return ctx.withStore(func(store *queue.Store) error {
				job := &queue.AutomationJob{
					OwnerID:      ctx.ownerID(),
					Name:         name,
					ScheduleJSON: scheduleJSON,
					SourceID:     sourceID,
					TemplateIDs:  templateIDs,
					StatusFilter: statusFilter,
					Active:       !inactive,
				}
				created, err := jobService(ctx, store).Create(cmd.Context(), job)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created job %d (%s); next run %s\n",
					created.ID, created.Name, dash(created.NextRunAt))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Job name")
	cmd.Flags().StringVar(&scheduleJSON, "schedule", "", `Schedule descriptor JSON, e.g. {"type":"time_of_day","time":"06:30"}`)
	cmd.Flags().Int64Var(&sourceID, "source", 0, "Source id to sync before dispatching")
	cmd.Flags().Int64SliceVar(&templateIDs, "template", nil, "Restrict rematching to these template ids (repeatable)")
	cmd.Flags().StringSliceVar(&statusFilter, "status", nil, "Statuses the firing dispatch targets (default initialized)")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Create the job without activating it")
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job with a human-readable schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				job, human, err := jobService(ctx, store).Describe(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d not found", ids[0])
				}
				if asJSON {
					return writeJSON(cmd, job)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %d: %s\n", job.ID, job.Name)
				fmt.Fprintf(out, "  Schedule: %s\n", human)
				fmt.Fprintf(out, "  Active:   %s\n", yesNo(job.Active))
				if job.SourceID > 0 {
					fmt.Fprintf(out, "  Source:   %d\n", job.SourceID)
				}
				fmt.Fprintf(out, "  Last run: %s\n", dash(job.LastRunAt))
				fmt.Fprintf(out, "  Next run: %s\n", dash(job.NextRunAt))
				fmt.Fprintf(out, "  Runs:     %d\n", job.RunCount)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}

func newJobDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an automation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				existed, err := jobService(ctx, store).Delete(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				if !existed {
					return fmt.Errorf("job %d not found", ids[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %d\n", ids[0])
				return nil
			})
		},
	}
}
