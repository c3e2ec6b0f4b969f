package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/api"
	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/templates"
)

func newTemplateCommand(ctx *commandContext) *cobra.Command {
	templateCmd := &cobra.Command{
		Use:   "template",
		Short: "Manage processing templates and matching rules",
	}

	templateCmd.AddCommand(newTemplateListCommand(ctx))
	templateCmd.AddCommand(newTemplateCreateCommand(ctx))
	templateCmd.AddCommand(newTemplateDeleteCommand(ctx))
	templateCmd.AddCommand(newTemplatePreviewCommand(ctx))

	return templateCmd
}

func templateService(ctx *commandContext, store *queue.Store) *api.TemplateService {
	return api.NewTemplateService(templates.NewService(store, logging.NewNop()), store)
}

func newTemplateListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates for the owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				tpls, err := templateService(ctx, store).List(cmd.Context(), ctx.ownerID())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, tpls)
				}
				if len(tpls) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No templates")
					return nil
				}
				rows := make([][]string, 0, len(tpls))
				for _, tpl := range tpls {
					rules := make([]string, 0, 5)
					if len(tpl.Names) > 0 {
						rules = append(rules, fmt.Sprintf("names:%d", len(tpl.Names)))
					}
					if len(tpl.Fuzzy) > 0 {
						rules = append(rules, fmt.Sprintf("fuzzy:%d", len(tpl.Fuzzy)))
					}
					if len(tpl.Keywords) > 0 {
						rules = append(rules, fmt.Sprintf("keywords:%d", len(tpl.Keywords)))
					}
					if len(tpl.Patterns) > 0 {
						rules = append(rules, fmt.Sprintf("patterns:%d", len(tpl.Patterns)))
					}
					if len(tpl.SourceIDs) > 0 {
						rules = append(rules, fmt.Sprintf("sources:%d", len(tpl.SourceIDs)))
					}
					rows = append(rows, []string{
						strconv.FormatInt(tpl.ID, 10),
						truncate(tpl.Name, 30),
						tpl.MatchMode,
						dash(strings.Join(rules, " ")),
						dash(strings.Join(tpl.OutputTargets, ",")),
						yesNo(tpl.AutoPublish),
					})
				}
				out := renderTable(
					[]string{"ID", "Name", "Mode", "Rules", "Targets", "Auto-publish"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newTemplateCreateCommand(ctx *commandContext) *cobra.Command {
	var (
		name         string
		matchMode    string
		matchNames   []string
		matchFuzzy   []string
		keywords     []string
		patterns     []string
		sourceIDs    []int64
		targets      []string
		autoPublish  bool
		metadataJSON string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a template; existing unmapped items are rematched",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			mode, err := queue.ParseMatchMode(matchMode)
			if err != nil {
				return err
			}
			var metadata map[string]any
			if strings.TrimSpace(metadataJSON) != "" {
				if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
					return fmt.Errorf("parse --metadata: %w", err)
				}
			}

			return ctx.withStore(func(store *queue.Store) error {
				tpl := &queue.Template{
					OwnerID:        ctx.ownerID(),
					Name:           name,
					MatchMode:      mode,
					MatchNames:     matchNames,
					MatchFuzzy:     matchFuzzy,
					MatchKeywords:  keywords,
					MatchPatterns:  patterns,
					MatchSourceIDs: sourceIDs,
					Metadata:       metadata,
					OutputTargets:  targets,
					AutoPublish:    autoPublish,
				}
				result, err := templateService(ctx, store).Create(cmd.Context(), tpl)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created template %d (%s); rematched %d existing items\n",
					result.Template.ID, result.Template.Name, result.Rematched)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Template name")
	cmd.Flags().StringVar(&matchMode, "match-mode", "any", "Rule combination mode (any or all)")
	cmd.Flags().StringSliceVar(&matchNames, "match-name", nil, "Exact title to match (repeatable)")
	cmd.Flags().StringSliceVar(&matchFuzzy, "match-fuzzy", nil, "Title to match by similarity, tolerating casing and punctuation (repeatable)")
	cmd.Flags().StringSliceVar(&keywords, "keyword", nil, "Title keyword to match (repeatable)")
	cmd.Flags().StringSliceVar(&patterns, "pattern", nil, "Title regular expression to match (repeatable)")
	cmd.Flags().Int64SliceVar(&sourceIDs, "match-source", nil, "Source id to match (repeatable)")
	cmd.Flags().StringSliceVar(&targets, "target", nil, "Output target platform (repeatable)")
	cmd.Flags().BoolVar(&autoPublish, "auto-publish", false, "Publish automatically after transcription")
	cmd.Flags().StringVar(&metadataJSON, "metadata", "", "Template metadata as a JSON object")
	return cmd
}

func newTemplateDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a template, unmapping any items that referenced it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				result, err := templateService(ctx, store).Delete(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted template %d; unmapped %d items\n", ids[0], result.Unmapped)
				return nil
			})
		},
	}
}

func newTemplatePreviewCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <item-id>",
		Short: "Show which template an item would map to, without mapping it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			return ctx.withStore(func(store *queue.Store) error {
				tpl, err := templateService(ctx, store).Preview(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				if tpl == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Item %d matches no template\n", ids[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Item %d would map to template %d (%s)\n", ids[0], tpl.ID, tpl.Name)
				return nil
			})
		},
	}
}
