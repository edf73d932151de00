package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/maauso/faceswap-api/internal/bootstrap"
	"github.com/maauso/faceswap-api/internal/config"
	"github.com/maauso/faceswap-api/internal/job"
)

type jobsOptions struct {
	output string
	status string
}

func newJobsCmd() *cobra.Command {
	opts := &jobsOptions{}

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage jobs",
		Long:  `Commands that read and update the job store directly.`,
	}
	cmd.PersistentFlags().StringVar(&opts.output, "output", "table", "output format: table or json")

	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd.Context(), func(svc *job.Service) error {
				jobs, err := svc.List(cmd.Context())
				if err != nil {
					return err
				}
				if opts.status != "" {
					jobs = filterStatus(jobs, job.Status(opts.status))
				}
				return printJobs(cmd.OutOrStdout(), jobs, opts.output)
			})
		},
	}
	list.Flags().StringVar(&opts.status, "status", "", "only show jobs in this status")

	show := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *job.Service) error {
				j, err := svc.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJob(cmd.OutOrStdout(), j, opts.output)
			})
		},
	}

	requeue := &cobra.Command{
		Use:   "requeue <job-id>",
		Short: "Put a failed job back in the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *job.Service) error {
				j, err := svc.Requeue(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "job %s is %s\n", j.ID, j.Status)
				return err
			})
		},
	}

	cmd.AddCommand(list, show, requeue)
	return cmd
}

// withService opens the job store without the rest of the runtime.
func withService(ctx context.Context, fn func(*job.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()

	repo, closeRepo, err := bootstrap.OpenRepository(ctx, cfg, quiet(logger))
	if err != nil {
		return err
	}
	defer func() { _ = closeRepo() }()

	return fn(job.NewService(repo, quiet(logger)))
}

// quiet drops informational records so they do not interleave with tables.
func quiet(logger *slog.Logger) *slog.Logger {
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		return logger
	}
	return slog.New(discardBelowWarn{logger.Handler()})
}

type discardBelowWarn struct{ slog.Handler }

func (h discardBelowWarn) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelWarn && h.Handler.Enabled(ctx, level)
}

func filterStatus(jobs []*job.Job, status job.Status) []*job.Job {
	out := jobs[:0]
	for _, j := range jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out
}

type jobView struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	InputVideo  string     `json:"input_video"`
	SourceFaces []string   `json:"source_faces"`
	Background  string     `json:"background,omitempty"`
	OutputRef   string     `json:"output_ref,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func newJobView(j *job.Job) jobView {
	v := jobView{
		ID:          j.ID,
		Status:      string(j.Status),
		Progress:    j.Progress,
		InputVideo:  j.InputVideoPath,
		SourceFaces: j.SourceFaces,
		Background:  j.BackgroundPath,
		OutputRef:   j.OutputRef,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
	}
	if v.InputVideo == "" {
		v.InputVideo = j.InputVideoURL
	}
	if !j.StartedAt.IsZero() {
		v.StartedAt = &j.StartedAt
	}
	if !j.CompletedAt.IsZero() {
		v.CompletedAt = &j.CompletedAt
	}
	return v
}

func printJobs(w io.Writer, jobs []*job.Job, format string) error {
	if format == "json" {
		views := make([]jobView, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, newJobView(j))
		}
		return writeIndented(w, views)
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "Status", "Progress", "Faces", "Error", "Created")
	for _, j := range jobs {
		if err := table.Append(
			j.ID,
			string(j.Status),
			strconv.Itoa(j.Progress)+"%",
			strconv.Itoa(len(j.SourceFaces)),
			truncate(j.Error, 40),
			j.CreatedAt.Format(time.RFC3339),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func printJob(w io.Writer, j *job.Job, format string) error {
	v := newJobView(j)
	if format == "json" {
		return writeIndented(w, v)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")
	rows := [][]string{
		{"ID", v.ID},
		{"Status", v.Status},
		{"Progress", strconv.Itoa(v.Progress) + "%"},
		{"Input Video", v.InputVideo},
		{"Source Faces", strings.Join(v.SourceFaces, ", ")},
	}
	if v.Background != "" {
		rows = append(rows, []string{"Background", v.Background})
	}
	if v.OutputRef != "" {
		rows = append(rows, []string{"Output", v.OutputRef})
	}
	if v.Error != "" {
		rows = append(rows, []string{"Error", v.Error})
	}
	rows = append(rows, []string{"Created At", v.CreatedAt.Format(time.RFC3339)})
	if v.StartedAt != nil {
		rows = append(rows, []string{"Started At", v.StartedAt.Format(time.RFC3339)})
	}
	if v.CompletedAt != nil {
		rows = append(rows, []string{"Completed At", v.CompletedAt.Format(time.RFC3339)})
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
