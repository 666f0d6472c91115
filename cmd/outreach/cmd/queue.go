package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"outreach-control/internal/cli"
	"outreach-control/internal/queue"
)

var (
	queueStatus      string
	queueInteractive bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List send jobs",
	Long: `Lists the latest snapshot of every send job. With --interactive and
a terminal, opens a browsable table instead.`,
	RunE: runQueue,
}

func init() {
	queueCmd.Flags().StringVar(&queueStatus, "status", "", "Filter by status (queued, in_progress, sent, failed, cancelled, dead_letter)")
	queueCmd.Flags().BoolVarP(&queueInteractive, "interactive", "i", false, "Interactive table view")

	rootCmd.AddCommand(queueCmd)
}

func runQueue(cmd *cobra.Command, args []string) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.cleanup()

	store, err := e.openQueue()
	if err != nil {
		return err
	}

	filter := func() []*queue.SendJob {
		jobs := store.All()
		if queueStatus == "" {
			return jobs
		}
		var out []*queue.SendJob
		for _, job := range jobs {
			if string(job.Status) == queueStatus {
				out = append(out, job)
			}
		}
		return out
	}

	jobs := filter()

	if queueInteractive {
		if e.formatter.JSON() {
			return fmt.Errorf("--interactive and --json are mutually exclusive")
		}
		if !cli.IsInteractive() {
			e.formatter.PrintInfo("stdout is not a terminal, falling back to table output")
			return e.formatter.PrintJobs(jobs)
		}
		return cli.NewQueueBrowser(jobs, filter).Run()
	}

	return e.formatter.PrintJobs(jobs)
}
