package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/workflow"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition-file>...",
		Short: "Validate workflow definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed bool
			for _, path := range args {
				if err := validateFile(path); err != nil {
					failed = true
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			if failed {
				return apperrors.New(apperrors.CodeDefinition, "cli", "one or more definitions are invalid", nil)
			}
			return nil
		},
	}
}

func validateFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return apperrors.New(apperrors.CodeIO, "cli", "reading definition", err)
	}
	var def workflow.Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return apperrors.New(apperrors.CodeDefinition, "cli", "parsing definition", err)
	}
	return def.Validate()
}
