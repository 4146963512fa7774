package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sofmeright/freightline/src/config"
	"github.com/sofmeright/freightline/src/output"
	"github.com/sofmeright/freightline/src/registry"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without running anything",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	color := output.UseColor()

	problems, warnings := validateConfig(cfg)

	name := cfgFile
	if name == "" {
		name = ".freightline.yml"
	}
	sec := output.NewSection(w, "Validate", 0, color)
	sec.Row("%-12s%s", "config", name)
	for _, msg := range warnings {
		output.RowStatus(sec, "warning", msg, "skipped", color)
	}
	for _, msg := range problems {
		output.RowStatus(sec, "error", msg, "failed", color)
	}
	if len(problems) == 0 {
		output.RowStatus(sec, "config", "valid", "succeeded", color)
	}
	sec.Close()

	if len(problems) > 0 {
		return &ExitError{Code: 1, Err: fmt.Errorf("%d configuration problem(s)", len(problems))}
	}
	return nil
}

// validateConfig runs the structural checks and the registry reference
// checks, returning one message per problem.
func validateConfig(c *config.Config) (problems, warnings []string) {
	warnings, err := config.Validate(c)
	if err != nil {
		problems = append(problems, strings.Split(err.Error(), "; ")...)
	}
	for _, perr := range registry.ValidatePublishConfig(c.Publish, c.Build.ArtifactName) {
		problems = append(problems, perr.Error())
	}
	if len(problems) > 0 {
		logger.Debug().Err(errors.New(strings.Join(problems, "; "))).Msg("configuration invalid")
	}
	return problems, warnings
}
