package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/OrlandoBitencourt/whydah/internal/loader"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Check the service configs in a local checkout",
	Long: `validate loads every <service>/config.json under dir (default ".") with the
same rules the server applies, prints what would be served or skipped and
exits non-zero when any config file is rejected.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		return validate(cmd, dir, cmd.OutOrStdout())
	},
}

type validateResult struct {
	Loaded  []string       `json:"loaded"`
	Skipped []validateSkip `json:"skipped"`
}

type validateSkip struct {
	Service string `json:"service"`
	Reason  string `json:"reason"`
	Error   string `json:"error,omitempty"`
}

func validate(cmd *cobra.Command, dir string, out io.Writer) error {
	if _, err := os.Stat(dir); err != nil {
		return err
	}

	_, report, err := loader.New(osfs.New(dir)).Load(cmd.Context())
	if err != nil {
		return err
	}

	result := validateResult{Loaded: report.Loaded, Skipped: []validateSkip{}}
	if result.Loaded == nil {
		result.Loaded = []string{}
	}
	for _, s := range report.Skipped {
		skip := validateSkip{Service: s.Service, Reason: s.Reason}
		if s.Err != nil {
			skip.Error = s.Err.Error()
		}
		result.Skipped = append(result.Skipped, skip)
	}

	if err := printJSON(out, result); err != nil {
		return err
	}

	if failed := report.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d service config(s) rejected", len(failed))
	}
	return nil
}
