package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lmhale99/iprPy-sub006/internal/job"
	"github.com/lmhale99/iprPy-sub006/internal/jobstore"
)

var listJSON bool

type queuedJob struct {
	Name    string   `json:"name"`
	Type    string   `json:"type,omitempty"`
	Parents []string `json:"parents,omitempty"`
	Status  string   `json:"status,omitempty"`
	Bids    []int64  `json:"bids,omitempty"`
	Stale   []int64  `json:"stale_bids,omitempty"`
	Problem string   `json:"problem,omitempty"`
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued jobs with their bids",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.RunDirectory == "" {
			return fmt.Errorf("run_directory is not configured")
		}
		jobs, err := jobstore.NewFS(cfg.RunDirectory)
		if err != nil {
			return err
		}
		queued, err := listQueued(cmd.Context(), jobs, time.Now(), cfg.Bid.LeaseDuration())
		if err != nil {
			return err
		}
		if listJSON {
			b, _ := json.MarshalIndent(queued, "", "  ")
			fmt.Println(string(b))
			return nil
		}
		for _, q := range queued {
			if q.Problem != "" {
				fmt.Printf("%-24s  incomplete: %s\n", q.Name, q.Problem)
				continue
			}
			fmt.Printf("%-24s  %-16s  status=%-16s  parents=%s  bids=%s  stale=%s\n",
				q.Name, q.Type, q.Status, strings.Join(q.Parents, ","), joinIDs(q.Bids), joinIDs(q.Stale))
		}
		return nil
	},
}

func listQueued(ctx context.Context, jobs jobstore.JobStore, now time.Time, lease time.Duration) ([]queuedJob, error) {
	names, err := jobs.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]queuedJob, 0, len(names))
	for _, name := range names {
		q := queuedJob{Name: name}
		bids, err := jobs.Bids(ctx, name)
		if err != nil {
			q.Problem = err.Error()
			out = append(out, q)
			continue
		}
		for _, b := range bids {
			if b.Stale(now, lease) {
				q.Stale = append(q.Stale, b.Identity)
			} else {
				q.Bids = append(q.Bids, b.Identity)
			}
		}
		files, err := jobs.Files(ctx, name)
		if err == nil {
			var j *job.Job
			j, err = job.FromFiles(name, files, func(file string) ([]byte, error) {
				return jobs.ReadFile(ctx, name, file)
			})
			if err == nil {
				q.Type = j.Description.Type
				q.Parents = j.Parents()
				q.Status = string(j.Record.Status)
			}
		}
		if err != nil {
			q.Problem = err.Error()
		}
		out = append(out, q)
	}
	return out, nil
}

func joinIDs(ids []int64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "JSON output")
	rootCmd.AddCommand(listCmd)
}
