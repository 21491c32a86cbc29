package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/missionlog/internal/draft"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "List, write and publish journal entries",
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journal entries, newest first",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := a.blog.List(ctx, limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			printStep("No entries yet")
			return nil
		}
		buffered := bufferedDrafts(a)
		renderEntries(cmd.OutOrStdout(), entries, buffered)
		if n := len(buffered); n > 0 {
			printWarning("%d local draft(s) not yet saved to the server", n)
		}
		return nil
	}),
}

// bufferedDrafts returns the draft buffer keys holding edits that have not
// reached the server.
func bufferedDrafts(a *app) map[string]bool {
	keys, err := a.store.DraftKeys()
	if err != nil {
		slog.Warn("reading draft buffer", "error", err)
		return nil
	}
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}

var journalEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Create or update an entry (from a day template with --day)",
	Long: `Opens an entry, applies the given edits and saves it as a draft.

Without --slug, --day opens the day's existing entry, or starts from the
day's template when it has none. Edits that fail to save are kept locally and
restored the next time the same entry is opened.`,
	Args: cobra.NoArgs,
	RunE: authed(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		slug, _ := cmd.Flags().GetString("slug")
		dayID, _ := cmd.Flags().GetInt("day")
		s, err := openDraft(ctx, a, slug, dayID)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := applyEdits(cmd, s); err != nil {
			return err
		}

		publish, _ := cmd.Flags().GetBool("publish")
		if publish {
			err = s.Publish(ctx)
		} else {
			err = s.Save(ctx)
		}
		snap := s.Snapshot()
		if err != nil {
			printWarning("Edits are kept locally; run the command again to retry")
			return err
		}
		printSuccess("Saved %s (%s)", snap.Slug, snap.State)
		return nil
	}),
}

var journalPublishCmd = &cobra.Command{
	Use:   "publish [slug]",
	Short: "Publish an entry by slug, or the entry of --day",
	Args:  cobra.MaximumNArgs(1),
	RunE: authed(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		dayID, _ := cmd.Flags().GetInt("day")
		var slug string
		if len(args) == 1 {
			slug = args[0]
		}
		if slug == "" && dayID == 0 {
			return errors.New("give a slug or --day")
		}

		s, err := openDraft(ctx, a, slug, dayID)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Publish(ctx); err != nil {
			if errors.Is(err, draft.ErrPublished) {
				printStep("Already published")
				return nil
			}
			return err
		}
		printSuccess("Published %s", s.Snapshot().Slug)
		return nil
	}),
}

// openDraft opens an editing session on an entry, a day or a blank draft.
func openDraft(ctx context.Context, a *app, slug string, dayID int) (*draft.Session, error) {
	s := a.newDraft()
	if err := s.Open(ctx, draft.Target{Slug: slug, DayID: dayID}); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// applyEdits copies the flags that were set onto the session.
func applyEdits(cmd *cobra.Command, s *draft.Session) error {
	flags := cmd.Flags()

	if flags.Changed("title") {
		v, _ := flags.GetString("title")
		if err := s.SetTitle(v); err != nil {
			return err
		}
	}
	if flags.Changed("content") || flags.Changed("content-file") {
		content, err := readContent(cmd)
		if err != nil {
			return err
		}
		if err := s.SetContent(content); err != nil {
			return err
		}
	}
	if flags.Changed("mood") {
		v, _ := flags.GetString("mood")
		if err := s.SetMood(v); err != nil {
			return err
		}
	}
	if flags.Changed("github") {
		v, _ := flags.GetString("github")
		if err := s.SetGithubURL(v); err != nil {
			return err
		}
	}

	tags, _ := flags.GetStringSlice("tag")
	for _, t := range tags {
		if err := s.AddTag(t); err != nil {
			return err
		}
	}
	untags, _ := flags.GetStringSlice("untag")
	for _, t := range untags {
		if err := s.RemoveTag(t); err != nil {
			return err
		}
	}

	links, _ := flags.GetStringArray("link")
	for _, l := range links {
		title, url, ok := strings.Cut(l, "=")
		if !ok {
			return fmt.Errorf("invalid --link %q, want title=url", l)
		}
		if err := s.AddLink(title, url); err != nil {
			return err
		}
	}
	return nil
}

// readContent returns --content, or the contents of --content-file ("-" is
// stdin).
func readContent(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("content-file")
	if path == "" {
		v, _ := cmd.Flags().GetString("content")
		return v, nil
	}
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(cmd.InOrStdin())
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading content: %w", err)
	}
	return string(b), nil
}

func init() {
	journalListCmd.Flags().Int("limit", 20, "maximum number of entries to list")

	f := journalEditCmd.Flags()
	f.String("slug", "", "slug of an existing entry")
	f.Int("day", 0, "day id to link (and template from)")
	f.String("title", "", "entry title")
	f.String("content", "", "entry content (markdown)")
	f.String("content-file", "", "read content from a file, - for stdin")
	f.String("mood", "", "focused, grinding, breakthrough, tough or relaxed")
	f.String("github", "", "GitHub URL for the day's work")
	f.StringSlice("tag", nil, "add tags (repeatable or comma-separated)")
	f.StringSlice("untag", nil, "remove tags")
	f.StringArray("link", nil, "add an external link as title=url (repeatable)")
	f.Bool("publish", false, "publish after saving")
	journalEditCmd.MarkFlagsMutuallyExclusive("content", "content-file")

	journalPublishCmd.Flags().Int("day", 0, "publish the entry of this day id")

	journalCmd.AddCommand(journalListCmd, journalEditCmd, journalPublishCmd)
}
