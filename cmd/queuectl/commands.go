package main

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/r03el/photograbber/internal/config"
	"github.com/r03el/photograbber/internal/ingest"
	"github.com/r03el/photograbber/internal/queue/domain"
	"github.com/r03el/photograbber/internal/queue/migrations"
	"github.com/r03el/photograbber/internal/queue/storage"
	"github.com/r03el/photograbber/internal/retry"
	"github.com/r03el/photograbber/shared/database"
	"github.com/r03el/photograbber/shared/rabbitmq"
	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending queue schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDatabase(func(_ *config.Config, client *database.Client, log *slog.Logger) error {
				dbConfig := client.Config()
				if err := migrations.RunUp(dbConfig.DriverName(), dbConfig.DSN(), log); err != nil {
					return err
				}
				status, err := migrations.CurrentStatus(dbConfig.DriverName(), dbConfig.DSN(), log)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d (%s)\n", status.Current, dbConfig.DriverName())
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts and upload throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRepo(func(_ *config.Config, repo *storage.Repository) error {
				report, err := repo.Report(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderStatus(report, time.Now()))
				return nil
			})
		},
	}
}

func renderStatus(report *domain.StatusReport, now time.Time) string {
	rows := [][]string{
		{string(domain.StatusPending), humanize.Comma(report.Pending)},
		{string(domain.StatusProcessing), humanize.Comma(report.Processing)},
		{string(domain.StatusFailed), humanize.Comma(report.Failed)},
		{string(domain.StatusCompleted), humanize.Comma(report.Completed)},
	}
	out := renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})

	if len(report.ByMediaKind) > 0 {
		kinds := make([]string, 0, len(report.ByMediaKind))
		for kind := range report.ByMediaKind {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)

		kindRows := make([][]string, len(kinds))
		for i, kind := range kinds {
			kindRows[i] = []string{kind, humanize.Comma(report.ByMediaKind[domain.MediaKind(kind)])}
		}
		out += renderTable([]string{"Uploaded kind", "Count"}, kindRows, []columnAlignment{alignLeft, alignRight})
	}

	if report.LastCompletedAt != nil {
		out += fmt.Sprintf("Last upload: %s\n", humanize.RelTime(*report.LastCompletedAt, now, "ago", "from now"))
	} else {
		out += "Last upload: never\n"
	}
	if report.AverageLatency != nil {
		out += fmt.Sprintf("Average latency: %s\n", report.AverageLatency.Round(time.Millisecond))
	}
	return out
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var status string
	var kind string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.ItemFilter{PageSize: limit}
			if status != "" {
				filter.Status = domain.Status(status)
				if !filter.Status.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
			}
			if kind != "" {
				filter.MediaKind = domain.MediaKind(kind)
				if !filter.MediaKind.Valid() {
					return fmt.Errorf("unknown media kind %q", kind)
				}
			}

			return ctx.withRepo(func(cfg *config.Config, repo *storage.Repository) error {
				items, err := repo.ListItems(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if len(items) > limit {
					items = items[:limit]
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "File ref", "Kind", "Status", "Retries", "Created", "Next retry", "Last error"},
					buildItemRows(items, retryPolicy(cfg), time.Now()),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only items with this status")
	cmd.Flags().StringVar(&kind, "kind", "", "Only items of this media kind")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of items")

	return cmd
}

func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{BaseDelay: cfg.Worker.RetryBaseDelay, MaxRetries: cfg.Worker.Retries()}
}

func buildItemRows(items []domain.QueueItem, policy retry.Policy, now time.Time) [][]string {
	rows := make([][]string, len(items))
	for i, item := range items {
		lastError := ""
		if item.LastError != nil {
			lastError = truncate(*item.LastError, 60)
		}
		rows[i] = []string{
			strconv.FormatInt(item.ID, 10),
			item.ExternalFileRef,
			string(item.MediaKind),
			string(item.Status),
			strconv.Itoa(item.RetryCount),
			humanize.RelTime(time.UnixMilli(item.CreatedAtMs), now, "ago", "from now"),
			nextRetry(item, policy, now),
			lastError,
		}
	}
	return rows
}

// nextRetry shows when a failed item becomes worth requeueing. The backoff is
// advisory; requeue is operator-triggered.
func nextRetry(item domain.QueueItem, policy retry.Policy, now time.Time) string {
	if item.Status != domain.StatusFailed {
		return ""
	}
	if !policy.ShouldRetry(item.RetryCount) {
		return "exhausted"
	}
	// The failure that produced RetryCount was attempt RetryCount-1.
	dueMs := item.UpdatedAtMs + retry.BackoffMs(policy.BaseDelay.Milliseconds(), item.RetryCount-1)
	if dueMs <= now.UnixMilli() {
		return "due"
	}
	return humanize.RelTime(time.UnixMilli(dueMs), now, "ago", "from now")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func newRequeueCommand(ctx *commandContext) *cobra.Command {
	var maxRetries int

	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "Move failed items with retry budget left back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRepo(func(cfg *config.Config, repo *storage.Repository) error {
				budget := cfg.Worker.Retries()
				if cmd.Flags().Changed("max-retries") {
					budget = maxRetries
				}
				if budget < 0 {
					return errors.New("max-retries must not be negative")
				}

				n, err := repo.RequeueEligibleFailures(cmd.Context(), budget)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d item(s) with fewer than %d retries\n", n, budget)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retry budget (defaults to worker.max_retries)")

	return cmd
}

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var msg ingest.SubmissionMessage
	var viaBroker bool

	cmd := &cobra.Command{
		Use:   "enqueue <file-ref>",
		Short: "Submit a media reference for upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg.FileRef = args[0]
			if msg.SubmittedAtMs == 0 {
				msg.SubmittedAtMs = time.Now().UnixMilli()
			}
			sub, err := msg.Submission()
			if err != nil {
				return err
			}

			if viaBroker {
				return publish(cmd, ctx, sub)
			}

			return ctx.withRepo(func(_ *config.Config, repo *storage.Repository) error {
				inserted, err := repo.Enqueue(cmd.Context(), sub)
				if err != nil {
					return err
				}
				if !inserted {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is already queued or uploaded\n", sub.ExternalFileRef)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (%s)\n", sub.ExternalFileRef, sub.MediaKind)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&msg.MediaKind, "kind", "", "Media kind: image, video, video-note or document")
	cmd.Flags().StringVar(&msg.MimeType, "mime", "", "MIME type, used to classify documents")
	cmd.Flags().StringVar(&msg.FileName, "name", "", "Original file name")
	cmd.Flags().Int64Var(&msg.GroupID, "group", 0, "Origin group ID")
	cmd.Flags().Int64Var(&msg.UserID, "user", 0, "Origin user ID")
	cmd.Flags().Int64Var(&msg.SubmittedAtMs, "submitted-at", 0, "Submission time in epoch milliseconds (defaults to now)")
	cmd.Flags().BoolVar(&viaBroker, "broker", false, "Publish to RabbitMQ instead of writing the queue directly")
	_ = cmd.MarkFlagRequired("kind")

	return cmd
}

func publish(cmd *cobra.Command, ctx *commandContext, sub domain.Submission) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if !cfg.RabbitMQ.Enabled {
		return errors.New("rabbitmq is not enabled in the configuration")
	}

	log := ctx.logger()
	client, err := rabbitmq.NewClient(cfg.RabbitMQClientConfig(), log)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := ingest.NewPublisher(client, log).Submit(cmd.Context(), sub); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Published %s to %s\n", sub.ExternalFileRef, cfg.RabbitMQ.Exchange.Name)
	return nil
}
