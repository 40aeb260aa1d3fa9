package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacentio/weave/store"
	"github.com/jacentio/weave/validate"
)

func newValidateCommand(rt *runtime) *cobra.Command {
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a JSON record read from stdin",
		Long: `Validate a JSON record read from stdin against a rules file and print
the violations. The exit code is 2 when any rule fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var record store.Row
			if err := json.NewDecoder(rt.in).Decode(&record); err != nil {
				return fmt.Errorf("read record: %w", err)
			}

			a, err := rt.open()
			if err != nil {
				return err
			}
			defer a.Close()

			rules, err := a.Rules(rulesPath)
			if err != nil {
				return err
			}
			result, err := a.Validator().Validate(cmd.Context(), rules, &record)
			if err != nil {
				return err
			}
			if result.Violations == nil {
				result.Violations = []validate.Violation{}
			}
			if err := rt.writeJSON(result); err != nil {
				return err
			}
			if !result.OK() {
				return &ExitError{
					Code: ExitCodeViolations,
					Err:  fmt.Errorf("%d rule(s) failed", len(result.Violations)),
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", "", "rules file (default: rules from the configuration)")
	return cmd
}
