// Package api exposes missionlog to agents as an MCP server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/missionlog/internal/draft"
	"github.com/kalambet/missionlog/internal/effects"
	"github.com/kalambet/missionlog/internal/progress"
	"github.com/kalambet/missionlog/internal/projection"
	"github.com/kalambet/missionlog/internal/storage"
	"github.com/kalambet/missionlog/internal/tracker"
	"github.com/kalambet/missionlog/internal/transport"
)

// MCPProgress reads journey state.
type MCPProgress interface {
	GetDay(ctx context.Context, id int) (progress.Day, error)
	Stats(ctx context.Context) (progress.Stats, error)
}

// MCPTracker applies mutations and refetches.
type MCPTracker interface {
	ToggleTask(ctx context.Context, taskID int, origin effects.Point) (tracker.Outcome, error)
	CompleteDay(ctx context.Context, dayID int, origin effects.Point) (tracker.Outcome, error)
	PreCompleteDay(ctx context.Context, dayID int, origin effects.Point) (tracker.Outcome, error)
	PostCompleteDay(ctx context.Context, dayID int, origin effects.Point) (tracker.Outcome, error)
}

// MCPActivity lists recorded mutations.
type MCPActivity interface {
	RecentActivity(limit int) ([]storage.Activity, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Progress MCPProgress
	Tracker  MCPTracker
	NewDraft func() *draft.Session
	Activity MCPActivity // optional; if nil, journey://activity is not registered
}

// NewMCPServer creates an MCP server with all missionlog tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"missionlog",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("missionlog: daily missions, XP and levels, and the journal of a learning journey."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_stats",
			mcp.WithDescription("Return total XP, level, streak and completion of the journey."),
		),
		mcpGetStats(deps),
	)

	s.AddTool(
		mcp.NewTool("get_day",
			mcp.WithDescription("Return one day with its tasks and knowledge checks."),
			mcp.WithNumber("day_id", mcp.Description("Day id (not the day number)"), mcp.Required()),
		),
		mcpGetDay(deps),
	)

	s.AddTool(
		mcp.NewTool("toggle_task",
			mcp.WithDescription("Mark a task as completed and report the XP gained. Completed tasks cannot be undone."),
			mcp.WithNumber("task_id", mcp.Description("Task id"), mcp.Required()),
		),
		mcpToggleTask(deps),
	)

	s.AddTool(
		mcp.NewTool("complete_day",
			mcp.WithDescription("Finalize a day. mode \"pre\" completes tomorrow early, \"post\" completes yesterday late at reduced XP."),
			mcp.WithNumber("day_id", mcp.Description("Day id"), mcp.Required()),
			mcp.WithString("mode", mcp.Description("normal (default), pre or post"), mcp.Enum("normal", "pre", "post")),
		),
		mcpCompleteDay(deps),
	)

	s.AddTool(
		mcp.NewTool("write_journal",
			mcp.WithDescription("Write a journal entry, new or existing, and optionally publish it."),
			mcp.WithString("slug", mcp.Description("Existing entry to edit")),
			mcp.WithNumber("day_id", mcp.Description("Day the entry belongs to; edits its existing entry, else starts from the day's template")),
			mcp.WithString("title", mcp.Description("Entry title")),
			mcp.WithString("content", mcp.Description("Markdown body")),
			mcp.WithString("mood", mcp.Description("focused, grinding, breakthrough, tough or relaxed")),
			mcp.WithArray("tags", mcp.Description("Tags to add")),
			mcp.WithBoolean("publish", mcp.Description("Publish after saving (default false)")),
		),
		mcpWriteJournal(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"journey://stats",
			"Journey Stats",
			mcp.WithResourceDescription("Current XP, level and streak as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	if deps.Activity != nil {
		s.AddResource(
			mcp.NewResource(
				"journey://activity",
				"Recent Activity",
				mcp.WithResourceDescription("Last 10 progress mutations made from this machine"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceActivity(deps),
		)
	}

	return s
}

type statsSummary struct {
	progress.Stats
	LevelName        string  `json:"level_name"`
	XPPercent        int     `json:"xp_percent"`
	StreakMultiplier float64 `json:"streak_multiplier"`
}

func summarizeStats(s progress.Stats) statsSummary {
	return statsSummary{
		Stats:            s,
		LevelName:        projection.LevelName(s.Level),
		XPPercent:        projection.XPPercent(s.XPInCurrent, s.XPNeeded),
		StreakMultiplier: projection.StreakMultiplier(s.Streak),
	}
}

func mcpGetStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Progress.Stats(ctx)
		if err != nil {
			return mcpError("fetching stats failed: " + describe(err)), nil
		}
		return mcpJSON(summarizeStats(stats))
	}
}

func mcpGetDay(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("day_id")
		if err != nil {
			return mcpError("day_id is required"), nil
		}
		day, err := deps.Progress.GetDay(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("fetching day %d failed: %s", id, describe(err))), nil
		}
		return mcpJSON(day)
	}
}

type mutationReply struct {
	XPGained    int      `json:"xp_gained"`
	LeveledUp   bool     `json:"leveled_up"`
	NewLevel    *int     `json:"new_level,omitempty"`
	LevelName   string   `json:"level_name,omitempty"`
	PerfectWeek *bool    `json:"perfect_week,omitempty"`
	Message     string   `json:"message,omitempty"`
	TotalXP     int      `json:"total_xp"`
	Stale       bool     `json:"stale,omitempty"`
	Effects     []string `json:"effects,omitempty"`
}

func replyFor(out tracker.Outcome) mutationReply {
	r := mutationReply{
		XPGained:    out.Result.XPGained,
		LeveledUp:   out.Result.LeveledUp,
		NewLevel:    out.Result.NewLevel,
		PerfectWeek: out.Result.PerfectWeek,
		Message:     out.Result.Message,
		TotalXP:     out.State.View.Stats.TotalXP,
		Stale:       out.State.Stale,
	}
	if r.NewLevel != nil {
		r.LevelName = projection.LevelName(*r.NewLevel)
	}
	for _, ev := range out.Events {
		switch ev.Kind {
		case effects.KindXPPop:
			r.Effects = append(r.Effects, fmt.Sprintf("+%d XP", ev.Amount))
		case effects.KindLevelUp:
			r.Effects = append(r.Effects, fmt.Sprintf("%s (level %d)", ev.Title, ev.Level))
		}
	}
	return r
}

func mcpToggleTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("task_id")
		if err != nil {
			return mcpError("task_id is required"), nil
		}
		out, err := deps.Tracker.ToggleTask(ctx, id, effects.Point{})
		if err != nil {
			return mcpError(fmt.Sprintf("toggling task %d failed: %s", id, describe(err))), nil
		}
		return mcpJSON(replyFor(out))
	}
}

func mcpCompleteDay(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("day_id")
		if err != nil {
			return mcpError("day_id is required"), nil
		}

		complete := deps.Tracker.CompleteDay
		switch mode := req.GetString("mode", "normal"); mode {
		case "normal", "":
		case "pre":
			complete = deps.Tracker.PreCompleteDay
		case "post":
			complete = deps.Tracker.PostCompleteDay
		default:
			return mcpError(fmt.Sprintf("unknown mode %q", mode)), nil
		}

		out, err := complete(ctx, id, effects.Point{})
		if err != nil {
			return mcpError(fmt.Sprintf("completing day %d failed: %s", id, describe(err))), nil
		}
		return mcpJSON(replyFor(out))
	}
}

func mcpWriteJournal(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.NewDraft == nil {
			return mcpError("journal editing not available"), nil
		}
		sess := deps.NewDraft()
		defer sess.Close()

		target := draft.Target{Slug: req.GetString("slug", ""), DayID: req.GetInt("day_id", 0)}
		if err := sess.Open(ctx, target); err != nil {
			return mcpError("opening entry failed: " + describe(err)), nil
		}

		if title := req.GetString("title", ""); title != "" {
			if err := sess.SetTitle(title); err != nil {
				return mcpError(describe(err)), nil
			}
		}
		if content := req.GetString("content", ""); content != "" {
			if err := sess.SetContent(content); err != nil {
				return mcpError(describe(err)), nil
			}
		}
		if mood := req.GetString("mood", ""); mood != "" {
			if err := sess.SetMood(mood); err != nil {
				return mcpError(describe(err)), nil
			}
		}
		for _, tag := range req.GetStringSlice("tags", nil) {
			if err := sess.AddTag(tag); err != nil {
				return mcpError(describe(err)), nil
			}
		}

		if req.GetBool("publish", false) {
			if err := sess.Publish(ctx); err != nil {
				return mcpError("publishing failed: " + describe(err)), nil
			}
		} else if err := sess.Save(ctx); err != nil {
			return mcpError("saving failed: " + describe(err)), nil
		}

		snap := sess.Snapshot()
		return mcpJSON(map[string]string{
			"slug":  snap.Slug,
			"title": snap.Draft.Title,
			"state": snap.State.String(),
		})
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Progress.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get stats: %w", err)
		}
		return jsonResource(req.Params.URI, summarizeStats(stats))
	}
}

func mcpResourceActivity(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		acts, err := deps.Activity.RecentActivity(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent activity: %w", err)
		}

		type activitySummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Kind      string `json:"kind"`
			TargetID  int    `json:"target_id"`
			XPGained  int    `json:"xp_gained"`
			LeveledUp bool   `json:"leveled_up,omitempty"`
		}
		summaries := make([]activitySummary, len(acts))
		for i, a := range acts {
			summaries[i] = activitySummary{
				ID:        a.ID,
				CreatedAt: a.CreatedAt.Format(time.RFC3339),
				Kind:      a.Kind,
				TargetID:  a.TargetID,
				XPGained:  a.XPGained,
				LeveledUp: a.LeveledUp,
			}
		}
		return jsonResource(req.Params.URI, summaries)
	}
}

// describe renders err for an agent: server messages without the status
// prefix, and a login hint when the session is gone.
func describe(err error) string {
	if errors.Is(err, transport.ErrSessionExpired) {
		return "session expired, run `missionlog login`"
	}
	var he *transport.HTTPError
	if errors.As(err, &he) {
		return fmt.Sprintf("%s (HTTP %d)", he.Message(), he.Status)
	}
	return err.Error()
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
