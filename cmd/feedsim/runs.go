package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/talgya/feedsim/internal/engine"
	"github.com/talgya/feedsim/internal/interest"
	"github.com/talgya/feedsim/internal/persistence"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List stored runs or inspect one",
		Long: `Without arguments, list the runs stored in the database.
With a run ID, show its latest stats and most engaged posts.

Examples:
  feedsim runs --db data/feedsim.db
  feedsim runs --db data/feedsim.db 3f2c... --top 5
  feedsim runs --driver postgres --db postgres://... 3f2c... --agent 12`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg)
			if cfg.Storage.DSN == "" {
				return errors.New("no database configured (use --db or FEEDSIM_DSN)")
			}

			db, err := persistence.Open(persistence.Options{
				Driver:          cfg.Storage.Driver,
				DSN:             cfg.Storage.DSN,
				VectorDimension: interest.DefaultDimension,
			})
			if err != nil {
				return err
			}
			defer db.Close()

			jsonOut, _ := cmd.Flags().GetBool("json")
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				limit, _ := cmd.Flags().GetInt("limit")
				runs, err := db.Runs(limit)
				if err != nil {
					return fmt.Errorf("list runs: %w", err)
				}
				return printRuns(out, runs, jsonOut)
			}

			top, _ := cmd.Flags().GetInt("top")
			agentID, _ := cmd.Flags().GetInt64("agent")
			return showRun(out, db, args[0], top, agentID, jsonOut)
		},
	}

	cmd.Flags().String("db", "", "Database DSN")
	cmd.Flags().String("driver", "", "Storage driver: sqlite or postgres")
	cmd.Flags().Int("limit", 20, "Maximum runs to list")
	cmd.Flags().Int("top", 10, "Most engaged posts to show")
	cmd.Flags().Int64("agent", 0, "Show posts nearest this agent's interests (postgres with pgvector)")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func printRuns(out io.Writer, runs []persistence.Run, jsonOut bool) error {
	if jsonOut {
		return json.NewEncoder(out).Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs stored.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSEED\tLAST TICK")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d (%s)\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04"), r.Seed, r.LastTick, engine.SimTime(uint64(r.LastTick)))
	}
	return tw.Flush()
}

func showRun(out io.Writer, db *persistence.DB, runID string, top int, agentID int64, jsonOut bool) error {
	run, err := db.GetRun(runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	stats, err := db.LatestStats(runID)
	if err != nil {
		return fmt.Errorf("stats for run %s: %w", runID, err)
	}
	posts, err := db.TopPosts(runID, top)
	if err != nil {
		return fmt.Errorf("top posts: %w", err)
	}

	var near []persistence.PostRow
	if agentID > 0 {
		near, err = db.PostsNearAgent(runID, agentID, top)
		if err != nil {
			return fmt.Errorf("posts near agent %d: %w", agentID, err)
		}
	}

	if jsonOut {
		return json.NewEncoder(out).Encode(map[string]any{
			"run":       run,
			"stats":     stats,
			"top_posts": posts,
			"near":      near,
		})
	}

	fmt.Fprintf(out, "Run %s (seed %d), tick %d (%s)\n", run.ID, run.Seed, run.LastTick, engine.SimTime(uint64(run.LastTick)))
	fmt.Fprintf(out, "  posts %d, comments %d, errors %d\n", stats.Posts, stats.Comments, stats.TotalErrors)
	fmt.Fprintf(out, "  concentration %.3f, diversity %.3f, polarization %.3f, engagement gini %.3f\n",
		stats.MeanConcentration, stats.MeanDiversity, stats.Polarization, stats.EngagementGini)
	for _, state := range slices.Sorted(maps.Keys(stats.StateCounts)) {
		fmt.Fprintf(out, "  %-17s %d\n", state, stats.StateCounts[state])
	}

	printPosts(out, "Top posts", posts)
	if agentID > 0 {
		printPosts(out, fmt.Sprintf("Nearest to agent %d", agentID), near)
	}
	return nil
}

func printPosts(out io.Writer, title string, posts []persistence.PostRow) {
	fmt.Fprintf(out, "\n%s:\n", title)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATOR\tENGAGEMENT\tREADERS\tCOMMENTS")
	for _, p := range posts {
		fmt.Fprintf(tw, "%d\t%d\t%.0f\t%d\t%d\n", p.ID, p.CreatorID, p.Engagement, p.ReaderCount, p.CommentCount)
	}
	tw.Flush()
}
