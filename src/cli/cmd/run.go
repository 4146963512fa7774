package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sofmeright/freightline/src/dispatch"
	"github.com/sofmeright/freightline/src/gitver"
	"github.com/sofmeright/freightline/src/output"
	"github.com/sofmeright/freightline/src/trigger"
)

var (
	runType     string
	runRef      string
	runActor    string
	runCommit   string
	runJUnitDir string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once for the current event",
	Long: `Build and publish one artifact.

The event is taken from the CI environment (GitHub Actions or GitLab CI) and
can be overridden with flags. Outside CI the checked-out HEAD is run as a
manual dispatch. Events the trigger policy does not admit exit 0.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runType, "type", "", "event type: push or manual")
	runCmd.Flags().StringVar(&runRef, "ref", "", "branch or tag ref (e.g. refs/heads/main)")
	runCmd.Flags().StringVar(&runActor, "actor", "", "who triggered the event")
	runCmd.Flags().StringVar(&runCommit, "commit", "", "commit to build (default: tip of ref)")
	runCmd.Flags().StringVar(&runJUnitDir, "junit", "", "write a JUnit report of the run into this directory")
	runCmd.Flags().StringVar(&logDir, "log-dir", ".freightline/logs", "directory for per-run build logs")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	color := output.UseColor()

	ev := eventFromEnv(os.Getenv)
	applyEventFlags(&ev)
	if ev.Ref == "" {
		src, err := gitver.ResolveSource(cfg.Build.Source, "")
		if err != nil {
			return fmt.Errorf("no ref given and none found in %s: %w", cfg.Build.Source, err)
		}
		if src.Branch == "" {
			return fmt.Errorf("HEAD is detached; pass --ref")
		}
		ev.Ref = trigger.CanonicalRef(src.Branch)
		if ev.Commit == "" {
			ev.Commit = src.Commit
		}
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	output.CIHeader(w)

	var stream io.Writer
	if verbose {
		stream = cmd.ErrOrStderr()
	}
	runner, closeSinks, err := newRunner(cmd.Context(), cfg, logger, stream)
	if err != nil {
		return err
	}
	defer closeSinks()

	d, err := dispatch.New(context.WithoutCancel(cmd.Context()), cfg.Trigger, runner, logger)
	if err != nil {
		return err
	}
	run, decision := d.Submit(ev)
	if run == nil {
		output.Skipped(w, ev.Ref, decision.Reason, color)
		return nil
	}

	// A signal stops the run at its next stage boundary; a second one gets
	// the default behavior.
	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCtx.Done():
			stop()
			logger.Warn().Str("run_id", run.ID).Msg("cancellation requested; stopping at the next stage boundary")
			run.RequestCancel()
		case <-run.Done():
		}
	}()
	output.SectionStartCollapsed(w, "freightline_run", "Pipeline run "+run.ID)
	d.Wait()
	stop()
	output.SectionEnd(w, "freightline_run")

	snap := run.Snapshot()
	output.SectionStart(w, "freightline_summary", "Summary")
	output.RunSummary(w, snap, color)
	output.SectionEnd(w, "freightline_summary")

	if runJUnitDir != "" {
		if err := output.WriteRunJUnit(runJUnitDir, snap); err != nil {
			logger.Warn().Err(err).Msg("unable to write junit report")
		}
	}

	if snap.ExitCode != 0 {
		return &ExitError{Code: snap.ExitCode}
	}
	return nil
}

// eventFromEnv reads the triggering event from GitHub Actions or GitLab CI
// variables. Outside CI it returns a manual event with no ref.
func eventFromEnv(getenv func(string) string) trigger.Event {
	switch {
	case getenv("GITHUB_ACTIONS") == "true":
		ev := trigger.Event{
			Type:   trigger.Push,
			Ref:    getenv("GITHUB_REF"),
			Actor:  getenv("GITHUB_ACTOR"),
			Commit: getenv("GITHUB_SHA"),
		}
		if getenv("GITHUB_EVENT_NAME") == "workflow_dispatch" {
			ev.Type = trigger.Manual
		}
		if ev.Ref == "" && getenv("GITHUB_REF_NAME") != "" {
			ev.Ref = trigger.CanonicalRef(getenv("GITHUB_REF_NAME"))
		}
		return ev

	case getenv("GITLAB_CI") == "true":
		ev := trigger.Event{
			Type:   trigger.Push,
			Actor:  getenv("GITLAB_USER_LOGIN"),
			Commit: getenv("CI_COMMIT_SHA"),
		}
		switch getenv("CI_PIPELINE_SOURCE") {
		case "web", "api", "trigger", "chat":
			ev.Type = trigger.Manual
		}
		switch {
		case getenv("CI_COMMIT_TAG") != "":
			ev.Ref = "refs/tags/" + getenv("CI_COMMIT_TAG")
		case getenv("CI_COMMIT_BRANCH") != "":
			ev.Ref = trigger.CanonicalRef(getenv("CI_COMMIT_BRANCH"))
		case getenv("CI_COMMIT_REF_NAME") != "":
			ev.Ref = trigger.CanonicalRef(getenv("CI_COMMIT_REF_NAME"))
		}
		return ev
	}

	return trigger.Event{Type: trigger.Manual, Actor: getenv("USER")}
}

func applyEventFlags(ev *trigger.Event) {
	if runType != "" {
		ev.Type = trigger.EventType(runType)
	}
	if runRef != "" {
		ev.Ref = trigger.CanonicalRef(runRef)
	}
	if runActor != "" {
		ev.Actor = runActor
	}
	if runCommit != "" {
		ev.Commit = runCommit
	}
}
