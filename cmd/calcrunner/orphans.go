package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lmhale99/iprPy-sub006/internal/library"
)

var orphansJSON bool

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List jobs moved to the library's orphan area",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.LibDirectory == "" {
			return fmt.Errorf("lib_directory is not configured")
		}
		lib, err := library.NewFS(cfg.LibDirectory)
		if err != nil {
			return err
		}
		names, err := lib.Orphans(cmd.Context())
		if err != nil {
			return err
		}
		if orphansJSON {
			b, _ := json.MarshalIndent(names, "", "  ")
			fmt.Println(string(b))
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

func init() {
	orphansCmd.Flags().BoolVar(&orphansJSON, "json", false, "JSON output")
	rootCmd.AddCommand(orphansCmd)
}
