package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/missionlog/internal/credentials"
	"github.com/kalambet/missionlog/internal/effects"
	"github.com/kalambet/missionlog/internal/progress"
	"github.com/kalambet/missionlog/internal/storage"
	"github.com/kalambet/missionlog/internal/tracker"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show level, XP, streak and the journey grid",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		cached, _ := cmd.Flags().GetBool("cached")

		if cached {
			st, err := a.tracker.LoadCached()
			if errors.Is(err, storage.ErrNotFound) {
				return errors.New("nothing cached yet, run `missionlog status` while online")
			}
			if err != nil {
				return err
			}
			printWarning("Cached data from %s", st.FetchedAt.Local().Format(time.DateTime))
			renderDashboard(cmd.OutOrStdout(), st)
			return nil
		}

		if err := a.requireLogin(); err != nil {
			return err
		}
		st, err := a.tracker.Refresh(ctx)
		if err != nil {
			return err
		}
		renderDashboard(cmd.OutOrStdout(), st)
		return nil
	}),
}

func init() {
	statusCmd.Flags().Bool("cached", false, "show the last cached snapshot without contacting the server")
}

// --- watch ---

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Refresh the summary periodically until interrupted",
	Args:  cobra.NoArgs,
	RunE: authed(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		interval, _ := cmd.Flags().GetDuration("interval")

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if ds, ok := a.tokens.(*credentials.DiskStore); ok {
			changes, err := ds.Watch(ctx)
			if err != nil {
				printWarning("Not watching credentials: %v", err)
			} else {
				go func() {
					for ch := range changes {
						if ch.Key == credentials.AccessTokenKey && ch.Removed {
							printWarning("Logged out from another process")
							cancel()
							return
						}
					}
				}()
			}
		}

		out := cmd.OutOrStdout()
		t := a.newTracker(tracker.WithObserver(func(st tracker.State) {
			if st.Stale {
				printWarning("Refresh failed: %s", describe(st.Err))
				return
			}
			fmt.Fprintf(out, "[%s] ", st.FetchedAt.Local().Format(time.TimeOnly))
			renderSummary(out, st)
		}))
		printStep("Refreshing every %s, Ctrl-C to stop", interval)
		t.Run(ctx, interval)
		return nil
	}),
}

func init() {
	watchCmd.Flags().Duration("interval", tracker.DefaultInterval, "refresh interval")
}

// --- day ---

var dayCmd = &cobra.Command{
	Use:   "day",
	Short: "Show, complete and annotate days",
}

var dayShowCmd = &cobra.Command{
	Use:   "show <day-id>",
	Short: "Show a day with its tasks and knowledge checks",
	Args:  cobra.ExactArgs(1),
	RunE: authed(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		d, err := a.progress.GetDay(ctx, id)
		if err != nil {
			return err
		}
		renderDay(cmd.OutOrStdout(), d)
		return nil
	}),
}

type dayMutation func(t *tracker.Tracker, ctx context.Context, id int, origin effects.Point) (tracker.Outcome, error)

func dayMutationCmd(use, short string, fn dayMutation) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <day-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: authed(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			out, err := fn(a.tracker, ctx, id, effects.Point{})
			if err != nil {
				return err
			}
			renderOutcome(cmd.OutOrStdout(), out)
			return nil
		}),
	}
}

var (
	dayCompleteCmd     = dayMutationCmd("complete", "Complete today's mission", (*tracker.Tracker).CompleteDay)
	dayPreCompleteCmd  = dayMutationCmd("pre-complete", "Complete tomorrow's mission early", (*tracker.Tracker).PreCompleteDay)
	dayPostCompleteCmd = dayMutationCmd("post-complete", "Complete yesterday's missed mission at reduced XP", (*tracker.Tracker).PostCompleteDay)
)

var dayRenameCmd = &cobra.Command{
	Use:   "rename <day-id> <title>",
	Short: "Change a day's title",
	Args:  cobra.MinimumNArgs(2),
	RunE: authed(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		title := strings.TrimSpace(strings.Join(args[1:], " "))
		if title == "" {
			return errors.New("title is required")
		}
		d, err := a.progress.UpdateDay(ctx, id, progress.DayPatch{Title: &title})
		if err != nil {
			return err
		}
		printSuccess("Day %d is now %q", d.DayNumber, d.Title)
		return nil
	}),
}

var dayNotesCmd = &cobra.Command{
	Use:   "notes <day-id> [notes...]",
	Short: "Replace a day's notes (no text clears them)",
	Args:  cobra.MinimumNArgs(1),
	RunE: authed(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		notes := strings.Join(args[1:], " ")
		if _, err := a.progress.UpdateDay(ctx, id, progress.DayPatch{Notes: &notes}); err != nil {
			return err
		}
		printSuccess("Notes saved")
		return nil
	}),
}

func init() {
	dayCmd.AddCommand(dayShowCmd, dayCompleteCmd, dayPreCompleteCmd, dayPostCompleteCmd, dayRenameCmd, dayNotesCmd)
}

// --- task ---

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Complete, add and remove tasks",
}

var taskToggleCmd = &cobra.Command{
	Use:   "toggle <task-id>",
	Short: "Mark a task completed (cannot be undone)",
	Args:  cobra.ExactArgs(1),
	RunE: authed(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		out, err := a.tracker.ToggleTask(ctx, id, effects.Point{})
		if err != nil {
			return err
		}
		renderOutcome(cmd.OutOrStdout(), out)
		return nil
	}),
}

var taskAddCmd = &cobra.Command{
	Use:   "add <day-id> <title>",
	Short: "Add a task to a day",
	Args:  cobra.MinimumNArgs(2),
	RunE: authed(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		dayID, err := parseID(args[0])
		if err != nil {
			return err
		}
		difficulty, _ := cmd.Flags().GetString("difficulty")
		description, _ := cmd.Flags().GetString("description")

		d := progress.Difficulty(difficulty)
		switch d {
		case progress.DifficultyEasy, progress.DifficultyMedium, progress.DifficultyHard, progress.DifficultyBoss:
		default:
			return fmt.Errorf("unknown difficulty %q (easy, medium, hard, boss)", difficulty)
		}

		task, err := a.progress.CreateTask(ctx, dayID, progress.NewTask{
			Title:       strings.Join(args[1:], " "),
			Description: description,
			Difficulty:  d,
		})
		if err != nil {
			return err
		}
		printSuccess("Added task %d %q (%d XP)", task.ID, task.Title, task.XPValue)
		return nil
	}),
}

var taskRmCmd = &cobra.Command{
	Use:   "rm <task-id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: authed(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := a.progress.DeleteTask(ctx, id); err != nil {
			return err
		}
		printSuccess("Deleted task %d", id)
		return nil
	}),
}

func init() {
	taskAddCmd.Flags().String("difficulty", string(progress.DifficultyMedium), "easy, medium, hard or boss")
	taskAddCmd.Flags().String("description", "", "task description")
	taskCmd.AddCommand(taskToggleCmd, taskAddCmd, taskRmCmd)
}

// --- knowledge checks ---

var kcCmd = &cobra.Command{
	Use:   "kc",
	Short: "Answer, add and remove knowledge checks",
}

var kcAnswerCmd = &cobra.Command{
	Use:   "answer <check-id> [notes...]",
	Short: "Record an answer to a knowledge check (no text clears it)",
	Args:  cobra.MinimumNArgs(1),
	RunE: authed(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		kc, err := a.progress.PatchKnowledgeCheck(ctx, id, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if kc.IsAnswered {
			printSuccess("Answered: %s", kc.Question)
		} else {
			printWarning("Answer cleared: %s", kc.Question)
		}
		return nil
	}),
}

var kcAddCmd = &cobra.Command{
	Use:   "add <day-id> <question>",
	Short: "Add a knowledge check to a day",
	Args:  cobra.MinimumNArgs(2),
	RunE: authed(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		dayID, err := parseID(args[0])
		if err != nil {
			return err
		}
		kc, err := a.progress.CreateKnowledgeCheck(ctx, dayID, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		printSuccess("Added knowledge check %d", kc.ID)
		return nil
	}),
}

var kcRmCmd = &cobra.Command{
	Use:   "rm <check-id>",
	Short: "Delete a knowledge check",
	Args:  cobra.ExactArgs(1),
	RunE: authed(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := a.progress.DeleteKnowledgeCheck(ctx, id); err != nil {
			return err
		}
		printSuccess("Deleted knowledge check %d", id)
		return nil
	}),
}

func init() {
	kcCmd.AddCommand(kcAnswerCmd, kcAddCmd, kcRmCmd)
}
