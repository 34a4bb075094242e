package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	resolvekit "github.com/resolvekit/resolvekit"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <dir> <specifier>",
	Short: "Resolve one module specifier from a directory",
	Long: `Resolve a Node.js-style import/require specifier the way a bundler
would, applying tsconfig.json paths, package.json exports/imports and
browser field, and (with --yarn-pnp) a Yarn Plug'n'Play manifest.

With --watch, resolvekit instead reads one "<dir>\t<specifier>" pair per
line from stdin, clearing its directory cache before each line. This is a
polling convenience for a caller that already has its own file-change
notifications and wants to reuse one warm process instead of starting a
new one per lookup — it is not itself a filesystem watcher.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().Bool("watch", false, `Read "dir\tspecifier" pairs from stdin, clearing the cache before each`)
}

func optionsFromFlags() (resolvekit.Options, error) {
	opts := resolvekit.Options{
		ConditionNames:                         viper.GetStringSlice("condition"),
		Extensions:                             viper.GetStringSlice("extension"),
		MainFields:                             viper.GetStringSlice("main-field"),
		YarnPnP:                                viper.GetBool("yarn-pnp"),
		Symlinks:                               !viper.GetBool("no-symlinks"),
		AllowPackageExportsInDirectoryResolve:  viper.GetBool("allow-exports-in-dir"),
	}
	if tc := viper.GetString("tsconfig"); tc != "" {
		opts.Tsconfig.ConfigFile = tc
	}
	for _, kv := range viper.GetStringSlice("alias") {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return opts, fmt.Errorf("invalid --alias %q: expected key=value", kv)
		}
		opts.Alias = append(opts.Alias, resolvekit.AliasEntry{Key: key, Targets: []string{value}})
	}
	return opts, nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	opts, err := optionsFromFlags()
	if err != nil {
		return err
	}
	r, err := resolvekit.New(opts)
	if err != nil {
		return fmt.Errorf("constructing resolver: %w", err)
	}

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		return watchStdin(r)
	}

	if len(args) != 2 {
		return fmt.Errorf("resolve requires <dir> <specifier> (or --watch to read pairs from stdin)")
	}
	return resolveAndPrint(r, args[0], args[1])
}

func watchStdin(r *resolvekit.Resolver) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		dir, spec, ok := strings.Cut(line, "\t")
		if !ok {
			fmt.Fprintf(os.Stderr, "resolvekit: skipping malformed line %q (want \"dir\\tspecifier\")\n", line)
			continue
		}
		r.ClearCache()
		if err := resolveAndPrint(r, dir, spec); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	return scanner.Err()
}

func resolveAndPrint(r *resolvekit.Resolver, dir, specifier string) error {
	if viper.GetBool("verbose") {
		res, log, err := r.ResolveVerbose(dir, specifier)
		fmt.Fprint(os.Stderr, log.String())
		if err != nil {
			printJSONOrErr(err)
			return err
		}
		printResult(res)
		return nil
	}

	res, err := r.Resolve(dir, specifier)
	if err != nil {
		printJSONOrErr(err)
		return err
	}
	printResult(res)
	return nil
}

func printResult(res resolvekit.Resolution) {
	if viper.GetBool("json") {
		out, _ := json.Marshal(res)
		fmt.Println(string(out))
		return
	}
	if res.Ignored {
		fmt.Println("(ignored)")
		return
	}
	fmt.Println(res.Path)
}

func printJSONOrErr(err error) {
	if viper.GetBool("json") {
		out, _ := json.Marshal(struct {
			Error string `json:"error"`
		}{err.Error()})
		fmt.Println(string(out))
		return
	}
	fmt.Fprintln(os.Stderr, "resolvekit:", err)
}
