package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sofmeright/freightline/src/config"
	"github.com/sofmeright/freightline/src/logging"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  zerolog.Logger
)

// ExitError carries the process exit code out of a command. Err may be nil
// when the command already reported the failure itself.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

var rootCmd = &cobra.Command{
	Use:   "freightline",
	Short: "Container build-and-publish pipeline",
	Long:  "freightline turns a source push into a published container image: trigger, build, credential, publish, report.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it.
		if cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		logger = logging.New(cfg.Log, cmd.ErrOrStderr())

		switch cmd.Name() {
		case "run", "serve":
			problems, warnings := validateConfig(cfg)
			for _, w := range warnings {
				logger.Warn().Msg(w)
			}
			if len(problems) > 0 {
				return &ExitError{Code: 1, Err: fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))}
			}
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .freightline.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		var ee *ExitError
		if !errors.As(err, &ee) || ee.Err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

// ExitCode maps an error returned by Execute to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}
