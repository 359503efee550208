package validate

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/audiorm/internal/conf"
	"github.com/tphakala/audiorm/internal/errors"
)

// Command creates the command that checks the configuration and prints
// the effective tables.
func Command(settings *conf.Settings) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long:  "Load and validate the configuration, then print the effective platform tables as YAML.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Print(cmd.OutOrStdout(), settings, all)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Print every section, not only the platform tables")
	return cmd
}

// Print validates settings and writes them to w.
func Print(w io.Writer, settings *conf.Settings, all bool) error {
	if err := conf.ValidateSettings(settings); err != nil {
		return err
	}

	var doc any = map[string]any{"platform": settings.Platform}
	if all {
		doc = settings
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return errors.Newf("encode settings: %w", err).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := enc.Close(); err != nil {
		return errors.Newf("encode settings: %w", err).
			Category(errors.CategoryConfiguration).
			Build()
	}
	_, err := fmt.Fprintf(w, "# %d devices, %d usecases, %d capture profiles: ok\n",
		len(settings.Platform.Devices), len(settings.Platform.Usecases), len(settings.Platform.CaptureProfiles))
	return err
}
