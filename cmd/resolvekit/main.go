// Command resolvekit resolves Node.js-style module specifiers from the
// command line (spec §4.11, component C12): a thin cobra/viper driver
// over the resolve package, grounded on the teacher's own cmd/esbuild
// flat single-package CLI layout and on bennypowers-mappa's cobra+viper
// wiring for flag/env binding.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "resolvekit",
	Short: "Resolve Node.js-style module specifiers",
	Long: `resolvekit resolves import/require specifiers the way Node.js and
common bundlers do: relative/absolute/bare/#import specifiers, tsconfig.json
paths, package.json exports/imports and browser field, and (with
--yarn-pnp) a Yarn Plug'n'Play manifest.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("loading .env: %w", err)
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Bool("json", false, "Emit results as JSON")
	flags.String("tsconfig", "", "Explicit tsconfig.json path (default: nearest enclosing)")
	flags.StringSlice("condition", nil, "Export condition, in priority order (repeatable, default node,require)")
	flags.StringSlice("extension", nil, "Extension to try, in order (repeatable, default .js,.json,.node)")
	flags.StringSlice("main-field", nil, "package.json field read for a directory's entry point (repeatable, default main)")
	flags.StringArray("alias", nil, "key=value package alias (repeatable)")
	flags.Bool("yarn-pnp", false, "Resolve through a Yarn Plug'n'Play manifest")
	flags.Bool("no-symlinks", false, "Don't canonicalize resolved paths through symlinks")
	flags.Bool("allow-exports-in-dir", false, "Allow a directory's own package.json exports field to satisfy a directory import")
	flags.Bool("verbose", false, "Print the resolver's trace log alongside the result")

	for _, name := range []string{
		"json", "tsconfig", "condition", "extension", "main-field",
		"alias", "yarn-pnp", "no-symlinks", "allow-exports-in-dir", "verbose",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	viper.SetEnvPrefix("resolvekit")
	viper.AutomaticEnv()

	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(tsconfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
