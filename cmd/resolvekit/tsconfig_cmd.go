package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	resolvekit "github.com/resolvekit/resolvekit"
)

var tsconfigCmd = &cobra.Command{
	Use:   "tsconfig <path>",
	Short: "Load and fully materialize one tsconfig.json",
	Long: `Load the tsconfig.json at path, merging its "extends" chain and
resolving its "paths" against its baseUrl, independent of any module
resolution. Useful for inspecting what a project's effective compiler
options actually are once inheritance is applied.`,
	Args: cobra.ExactArgs(1),
	RunE: runTsconfig,
}

func runTsconfig(cmd *cobra.Command, args []string) error {
	opts, err := optionsFromFlags()
	if err != nil {
		return err
	}
	r, err := resolvekit.New(opts)
	if err != nil {
		return fmt.Errorf("constructing resolver: %w", err)
	}

	tc, err := r.ResolveTsconfig(args[0])
	if err != nil {
		printJSONOrErr(err)
		return err
	}

	if viper.GetBool("json") {
		out, _ := json.Marshal(tc)
		fmt.Println(string(out))
		return nil
	}
	fmt.Printf("baseUrl:    %s\n", tc.BaseURL)
	fmt.Printf("module:     %s\n", tc.Module)
	fmt.Printf("target:     %s\n", tc.Target)
	fmt.Printf("jsx:        %s\n", tc.JSX)
	fmt.Printf("allowJs:    %v\n", tc.AllowJs)
	for key, values := range tc.Paths {
		fmt.Printf("paths:      %s -> %v\n", key, values)
	}
	for i, ref := range tc.References {
		resolved, rerr := r.ResolveTsconfigReference(tc, i)
		if rerr != nil {
			fmt.Printf("references: %s (%s)\n", ref, rerr)
			continue
		}
		fmt.Printf("references: %s -> %s\n", ref, resolved.Path)
	}
	return nil
}
