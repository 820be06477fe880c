package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/runger/storykit/internal/backend"
	"github.com/runger/storykit/internal/storyjob"
)

var jobCmd = &cobra.Command{
	Use:     "job",
	Short:   "Generate new stories",
	GroupID: groupCore,
}

var (
	jobPrompt string
	jobChild  string
	jobStyle  string
	jobPages  int
	jobWait   bool
)

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a story generation job",
	Long: `Submit a story generation job. With --wait, follow it until the book
is ready and print its id.

Examples:
  storykit job submit --prompt "a fox who learns to swim" --pages 8 --wait`,
	Args: cobra.NoArgs,
	RunE: runJobSubmit,
}

var jobWatchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job until it ends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()
		return awaitJob(cmd, a.Jobs(), args[0])
	},
}

func init() {
	jobSubmitCmd.Flags().StringVar(&jobPrompt, "prompt", "", "story prompt (required)")
	jobSubmitCmd.Flags().StringVar(&jobChild, "child", "", "child's name to feature in the story")
	jobSubmitCmd.Flags().StringVar(&jobStyle, "style", "", "illustration style")
	jobSubmitCmd.Flags().IntVar(&jobPages, "pages", 8, "number of pages")
	jobSubmitCmd.Flags().BoolVar(&jobWait, "wait", false, "follow the job until it ends")
	_ = jobSubmitCmd.MarkFlagRequired("prompt")

	jobCmd.AddCommand(jobSubmitCmd, jobWatchCmd)
	rootCmd.AddCommand(jobCmd)
}

func runJobSubmit(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	tracker := a.Jobs()
	job, err := tracker.Submit(cmd.Context(), backend.StoryJobParams{
		Prompt:    jobPrompt,
		ChildName: jobChild,
		PageCount: jobPages,
		Style:     jobStyle,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "job %s %s (%d credits reserved)\n",
		styleKey.Render(job.ID), job.Status, job.ReservedCredits)

	if !jobWait {
		return nil
	}
	return awaitJob(cmd, tracker, job.ID)
}

func awaitJob(cmd *cobra.Command, tracker *storyjob.Tracker, jobID string) error {
	out := cmd.OutOrStdout()
	bookID, err := tracker.Await(cmd.Context(), jobID, func(j backend.StoryJob) {
		printJob(out, j)
	})
	switch {
	case errors.Is(err, storyjob.ErrJobFailed), errors.Is(err, storyjob.ErrJobCanceled):
		fmt.Fprintln(out, styleErr.Render(err.Error()))
		return err
	case err != nil:
		return err
	}
	fmt.Fprintf(out, "%s book ready: %s\n", styleOK.Render("✓"), bookID)
	return nil
}

func printJob(out io.Writer, j backend.StoryJob) {
	fmt.Fprintf(out, "  %-10s %3d%%\n", j.Status, j.Progress)
}
