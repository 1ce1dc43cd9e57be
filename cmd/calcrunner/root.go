package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lmhale99/iprPy-sub006/internal/config"
)

var (
	configPath string
	runDirFlag string
	libDirFlag string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "calcrunner",
	Short:         "Run queued calculations shared between workers through the filesystem.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfg != nil {
			return nil
		}
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if runDirFlag != "" {
			if c.RunDirectory, err = filepath.Abs(runDirFlag); err != nil {
				return err
			}
		}
		if libDirFlag != "" {
			if c.LibDirectory, err = filepath.Abs(libDirFlag); err != nil {
				return err
			}
		}
		cfg = c
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "calcrunner:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&runDirFlag, "run-dir", "", "Override run_directory")
	rootCmd.PersistentFlags().StringVar(&libDirFlag, "lib-dir", "", "Override lib_directory")
}
