package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/lmhale99/iprPy-sub006/internal/storage"
)

var (
	historyJob     string
	historyState   string
	historyLimit   int
	historySummary bool
	historyJSON    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show this machine's journal of attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JournalPath == "" {
			return fmt.Errorf("journal_path is not configured")
		}
		journal := storage.NewSQLiteStorage()
		if err := journal.Init(cfg.JournalPath); err != nil {
			return err
		}
		defer journal.Close()

		if historySummary {
			counts, err := journal.CountByState()
			if err != nil {
				return err
			}
			if historyJSON {
				b, _ := json.MarshalIndent(counts, "", "  ")
				fmt.Println(string(b))
				return nil
			}
			states := make([]string, 0, len(counts))
			for s := range counts {
				states = append(states, s)
			}
			sort.Strings(states)
			for _, s := range states {
				fmt.Printf("%-16s %d\n", s, counts[s])
			}
			return nil
		}

		var attempts []*storage.Attempt
		var err error
		if historyState != "" {
			attempts, err = journal.ListByState(historyState)
		} else {
			attempts, err = journal.ListAttempts(historyJob, historyLimit)
		}
		if err != nil {
			return err
		}
		if historyJSON {
			b, _ := json.MarshalIndent(attempts, "", "  ")
			fmt.Println(string(b))
			return nil
		}
		for _, a := range attempts {
			fmt.Printf("%s  %-20s  worker=%d  %-15s  %s  trace=%s  msg=%q\n",
				a.EndedAt.Local().Format(time.DateTime), a.Job, a.Worker, a.State, a.Status, a.Trace, a.Message)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyJob, "job", "", "Only attempts at this job")
	historyCmd.Flags().StringVar(&historyState, "state", "", "Only attempts ending in this state (archived|orphaned|deferred|lost|...)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Max rows")
	historyCmd.Flags().BoolVar(&historySummary, "summary", false, "Count attempts per final state")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "JSON output")
	rootCmd.AddCommand(historyCmd)
}
