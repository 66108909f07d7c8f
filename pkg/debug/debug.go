// Package debug provides category-based debug logging for chorus.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): controlled via CHORUS_DEBUG env or config
//   - Levels (HOW MUCH detail): controlled via CHORUS_LOG_LEVEL env or config
//
// Usage:
//
//	debug.Log("providers", "request", "method", "POST", "url", url)
//	if debug.Enabled("dispatch") { /* expensive formatting */ }
//
// Categories are listed in Known; "all" enables every one of them.
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
// At TRACE, full accumulated branch text is logged on every append.
const LevelTrace = slog.LevelDebug - 4

// Known lists the categories chorus components log under.
var Known = []string{
	"providers",   // backend HTTP calls and stream parsing
	"dispatch",    // rounds, branches, synthesis; TRACE shows accumulated text
	"credentials", // credential lookups and store changes, never secrets
	"catalog",     // catalog loading and hot reload
	"transport",   // HTTP, WebSocket and MCP submissions
}

// categories holds the enabled categories. It is only written by init and
// Init, before any goroutine logs.
var categories map[string]bool

func init() {
	// Initialize from environment for immediate availability.
	// Can be re-initialized later via Init() with config values.
	categories = parseCategories(os.Getenv("CHORUS_DEBUG"))
}

// Init configures the debug system and installs the default slog handler.
// Called at startup with values from config. Environment overrides config.
// format selects "json" or "text" (default) output.
func Init(configCategories, configLevel, format string) {
	cats := os.Getenv("CHORUS_DEBUG")
	if cats == "" {
		cats = configCategories
	}
	categories = parseCategories(cats)

	level := os.Getenv("CHORUS_LOG_LEVEL")
	if level == "" {
		level = configLevel
	}

	slog.SetDefault(slog.New(NewHandler(os.Stderr, format, ParseLevel(level))))

	if unknown := Unknown(); len(unknown) > 0 {
		slog.Warn("ignoring unknown debug categories", "categories", unknown, "known", Known)
	}
}

// Unknown returns the enabled categories that are neither in Known nor
// "all", sorted.
func Unknown() []string {
	var out []string
	for cat := range categories {
		if cat != "all" && !slices.Contains(Known, cat) {
			out = append(out, cat)
		}
	}
	sort.Strings(out)
	return out
}

// NewHandler builds the slog handler used by Init.
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Enabled reports whether debug output is active for category.
func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a debug message for the given category.
// If the category is not enabled, this is a no-op.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
// Only visible when CHORUS_LOG_LEVEL=TRACE.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE level is active for the given category.
func TraceIsEnabled(category string) bool {
	if !Enabled(category) {
		return false
	}
	return slog.Default().Enabled(context.Background(), LevelTrace)
}

// ParseLevel converts a level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "INFO", "":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the enabled categories, sorted. The server logs them
// at startup.
func Categories() []string {
	result := make([]string, 0, len(categories))
	for k := range categories {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Truncate shortens s to at most maxLen bytes plus "...", backing off to
// a rune boundary so queries and branch text stay valid UTF-8 in logs.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	if s == "" {
		return m
	}
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
