package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/makeasinger/enrichment/internal/app"
	"github.com/makeasinger/enrichment/internal/config"
	"github.com/makeasinger/enrichment/internal/middleware"
	"github.com/makeasinger/enrichment/internal/model"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				stats, err := a.Service.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Count"},
					buildStatsRows(stats),
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func buildStatsRows(stats model.JobStats) [][]string {
	return [][]string{
		{string(model.JobStatusPending), strconv.Itoa(stats.Pending)},
		{string(model.JobStatusProcessing), strconv.Itoa(stats.Processing)},
		{string(model.JobStatusCompleted), strconv.Itoa(stats.Completed)},
		{string(model.JobStatusFailed), strconv.Itoa(stats.Failed)},
		{"total", strconv.Itoa(stats.Total)},
	}
}

func newJobCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				job, err := a.Service.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJob(cmd, ctx, job)
			})
		},
	}
}

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var priority int
	var maxRetries int
	var input string

	cmd := &cobra.Command{
		Use:   "enqueue <entity-type> <entity-id> <enrichment-type>",
		Short: "Create an enrichment job",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &model.CreateJobRequest{
				EntityType:     model.EntityType(args[0]),
				EntityID:       args[1],
				EnrichmentType: model.EnrichmentType(args[2]),
			}
			if input != "" {
				if !json.Valid([]byte(input)) {
					return fmt.Errorf("--input is not valid JSON")
				}
				req.InputData = json.RawMessage(input)
			}
			if cmd.Flags().Changed("priority") {
				req.Priority = &priority
			}
			if cmd.Flags().Changed("max-retries") {
				req.MaxRetries = &maxRetries
			}

			return ctx.withApp(cmd, func(a *app.App) error {
				job, err := a.Service.CreateJob(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printJob(cmd, ctx, job)
			})
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "Job priority (0-100, higher runs first)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Attempts before the job fails permanently")
	cmd.Flags().StringVar(&input, "input", "", "Input data as JSON, resolved from the catalog when omitted")
	return cmd
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "process [job-id]",
		Short: "Process one job, or a batch of pending jobs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				if len(args) == 1 {
					job, err := a.Service.ProcessJob(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return printJob(cmd, ctx, job)
				}

				resp, err := a.Service.ProcessJobs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Processed", "Completed", "Retrying", "Failed", "Skipped"},
					[][]string{{
						strconv.Itoa(resp.Processed),
						strconv.Itoa(resp.Completed),
						strconv.Itoa(resp.Retrying),
						strconv.Itoa(resp.Failed),
						strconv.Itoa(resp.Skipped),
					}},
					[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum pending jobs to process")
	return cmd
}

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Read the catalog change feed from the beginning and request enrichment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app.App) error {
				result, err := a.Syncer.SyncOnce(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Events", "Jobs created", "Cursor"},
					[][]string{{
						strconv.Itoa(result.Events),
						strconv.Itoa(result.JobsCreated),
						result.Cursor.Format(time.RFC3339Nano),
					}},
					[]columnAlignment{alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var email string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign an API token with the configured JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := middleware.NewAuthMiddleware(cfg.JWT.Secret).GenerateToken(userID, email, ttl)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]string{"token": token})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "admin", "User id placed in the token")
	cmd.Flags().StringVar(&email, "email", "", "Email placed in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime, 0 for no expiry")
	return cmd
}

func printJob(cmd *cobra.Command, ctx *commandContext, job *model.Job) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, job)
	}

	rows := [][]string{
		{"ID", job.ID},
		{"Entity", string(job.EntityType) + "/" + job.EntityID},
		{"Enrichment", string(job.EnrichmentType)},
		{"Status", string(job.Status)},
		{"Priority", strconv.Itoa(job.Priority)},
		{"Retries", fmt.Sprintf("%d/%d", job.RetryCount, job.MaxRetries)},
		{"Created", job.CreatedAt.Format(time.RFC3339)},
	}
	if job.NextAttemptAt != nil {
		rows = append(rows, []string{"Next attempt", job.NextAttemptAt.Format(time.RFC3339)})
	}
	if job.CompletedAt != nil {
		rows = append(rows, []string{"Completed", job.CompletedAt.Format(time.RFC3339)})
	}
	if job.Error != nil {
		rows = append(rows, []string{"Error", *job.Error})
	}

	fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
	return nil
}
