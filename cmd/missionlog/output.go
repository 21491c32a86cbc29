package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/kalambet/missionlog/internal/draft"
	"github.com/kalambet/missionlog/internal/transport"
)

// stderr receives status messages; stdout (cmd.OutOrStdout) gets the data.
var stderr io.Writer = os.Stderr

func colorize(attr color.Attribute, text string) string {
	if noColor {
		return text
	}
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(text)
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(color.FgGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(color.FgRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(color.FgYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(color.Bold, label+":")
	fmt.Fprintf(stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(color.FgCyan, "→ "+msg))
}

// describe turns an error into the line shown to the user.
func describe(err error) string {
	var he *transport.HTTPError
	var ne *transport.NetworkError
	var ve *draft.ValidationError
	switch {
	case errors.Is(err, transport.ErrSessionExpired):
		return "session expired, run `missionlog login`"
	case errors.As(err, &he):
		return fmt.Sprintf("%s (HTTP %d)", he.Message(), he.Status)
	case errors.As(err, &ne):
		return fmt.Sprintf("server not reachable: %v", ne.Err)
	case errors.As(err, &ve):
		return "invalid " + ve.Error()
	}
	return err.Error()
}
