package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/SalmanGits/Log-bull/internal/domain"
	"github.com/SalmanGits/Log-bull/internal/queue"
	"github.com/SalmanGits/Log-bull/pkg/api/client"
)

func (a *app) submitCommand() *cobra.Command {
	var (
		fileID    string
		localSize bool
	)
	cmd := &cobra.Command{
		Use:   "submit <path>",
		Short: "Queue a log file for ingestion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			req := client.SubmitRequest{FileID: fileID, FilePath: path}
			if localSize {
				abs, err := filepath.Abs(path)
				if err != nil {
					return err
				}
				info, err := os.Stat(abs)
				if err != nil {
					return err
				}
				size := info.Size()
				req.FilePath = abs
				req.FileSize = &size
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			res, err := c.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.printJSON(res)
			}
			fmt.Fprintf(a.out, "queued job %s for file %s (priority %d, %s)\n", res.JobID, res.FileID, res.Priority, res.State)
			return nil
		},
	}
	cmd.Flags().StringVar(&fileID, "file-id", "", "file identifier (generated by the server when empty)")
	cmd.Flags().BoolVar(&localSize, "local", false, "stat the file locally instead of on the server")
	return cmd
}

func (a *app) jobCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			job, err := c.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.printJSON(job)
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "id\t%s\n", job.ID)
			fmt.Fprintf(tw, "file\t%s (%s, %d bytes)\n", job.Data.FileID, job.Data.FilePath, job.Data.FileSize)
			fmt.Fprintf(tw, "state\t%s\n", job.State)
			fmt.Fprintf(tw, "priority\t%d\n", job.Priority)
			fmt.Fprintf(tw, "attempts\t%d/%d\n", job.AttemptsMade, job.Options.MaxAttempts)
			if job.FailedReason != "" {
				fmt.Fprintf(tw, "failed reason\t%s\n", job.FailedReason)
			}
			if len(job.Progress) > 0 {
				fmt.Fprintf(tw, "progress\t%s\n", job.Progress)
			}
			return tw.Flush()
		},
	}
}

func (a *app) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file-id>",
		Short: "Print the aggregated statistics of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			stats, err := c.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.printJSON(stats)
			}
			a.printStats(stats)
			return nil
		},
	}
}

func (a *app) queueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show job counts per state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			counts, err := c.Queue(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return a.printJSON(counts)
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			for _, s := range []queue.State{queue.StateWaiting, queue.StateActive, queue.StateDelayed, queue.StateCompleted, queue.StateFailed} {
				fmt.Fprintf(tw, "%s\t%d\n", s, counts[s])
			}
			return tw.Flush()
		},
	}
}

func (a *app) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow checkpoints of a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.WatchProgress(ctx, args[0], func(p domain.Progress) {
				if a.jsonOutput() {
					_ = a.printJSON(p)
					return
				}
				fmt.Fprintf(a.out, "%s lines=%d errors=%d warnings=%d\n",
					p.ReportedAt.Format("15:04:05"), p.Stats.TotalLines, p.Stats.ErrorCount, p.Stats.WarningCount)
			})
		},
	}
}

func (a *app) printStats(s domain.LogStats) {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "file\t%s\n", s.FileID)
	fmt.Fprintf(tw, "status\t%s\n", s.Status)
	fmt.Fprintf(tw, "lines\t%d\n", s.TotalLines)
	fmt.Fprintf(tw, "errors\t%d\n", s.ErrorCount)
	fmt.Fprintf(tw, "warnings\t%d\n", s.WarningCount)
	for _, k := range sortedKeys(s.Keywords) {
		fmt.Fprintf(tw, "keyword %s\t%d\n", k, s.Keywords[k])
	}
	for _, ip := range sortedKeys(s.IPs) {
		fmt.Fprintf(tw, "ip %s\t%d\n", ip, s.IPs[ip])
	}
	_ = tw.Flush()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}

