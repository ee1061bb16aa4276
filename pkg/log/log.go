// Package log renders replication progress for humans while mirroring every
// line into structured zerolog output.
package log

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/walteh/coursemirror/pkg/replicate"
)

// Display configuration
const (
	entryIndent = 4  // spaces to indent entity entries
	nameWidth   = 40 // base width for entity names
	kindWidth   = 10 // width for the entity kind
)

// Logger writes a console rendering of outcome records plus structured log
// lines. Safe for concurrent use; parallel course pipelines report through
// the same instance.
type Logger struct {
	zlog    zerolog.Logger
	console io.Writer
	mu      sync.Mutex
}

func New(console io.Writer, level zerolog.Level) *Logger {
	zlog := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(level)
	return &Logger{
		zlog:    zlog,
		console: console,
	}
}

// Record renders one outcome record.
func (l *Logger) Record(rec replicate.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintln(l.console, formatRecord(rec))

	ev := l.zlog.Info()
	if rec.Err != nil {
		ev = l.zlog.Error().Err(rec.Err)
	}
	ev.Str("kind", string(rec.Kind)).
		Str("action", string(rec.Action)).
		Str("name", rec.Name).
		Int64("source_id", rec.SourceID).
		Int64("dest_id", rec.DestID).
		Msg("replication outcome")
}

// Header prints the run banner.
func (l *Logger) Header(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	title := color.New(color.Bold, color.FgCyan).Sprint("coursemirror")
	fmt.Fprintf(l.console, "\n%s %s\n\n", title, color.New(color.Faint).Sprint("• "+msg))
	l.zlog.Info().Msg(msg)
}

// Summary prints the end-of-run tallies and the failures in full.
func (l *Logger) Summary(report *replicate.Report) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(l.console, "\ncategories: %s created, %s reused, %s failed\n",
		color.New(color.FgGreen).Sprintf("%d", report.Count(replicate.KindCategory, replicate.ActionCreated)+report.Count(replicate.KindCategory, replicate.ActionWouldCreate)),
		color.New(color.FgCyan).Sprintf("%d", report.Count(replicate.KindCategory, replicate.ActionSkipped)),
		color.New(color.FgRed).Sprintf("%d", report.Count(replicate.KindCategory, replicate.ActionFailed)))
	fmt.Fprintf(l.console, "courses:    %s created, %s skipped, %s excluded, %s failed\n",
		color.New(color.FgGreen).Sprintf("%d", report.Count(replicate.KindCourse, replicate.ActionCreated)+report.Count(replicate.KindCourse, replicate.ActionWouldCreate)),
		color.New(color.FgCyan).Sprintf("%d", report.Count(replicate.KindCourse, replicate.ActionSkipped)),
		color.New(color.FgYellow).Sprintf("%d", report.Count(replicate.KindCourse, replicate.ActionExcluded)),
		color.New(color.FgRed).Sprintf("%d", report.Count(replicate.KindCourse, replicate.ActionFailed)))

	for _, rec := range report.Failures() {
		fmt.Fprintf(l.console, "  %s %s (%s %d): %v\n",
			color.New(color.FgRed).Sprint("✗"),
			rec.Name, rec.Kind, rec.SourceID, rec.Err)
	}

	l.zlog.Info().
		Int("course_failures", len(report.Failures())).
		Msg("run complete")
}

func formatRecord(rec replicate.Record) string {
	var symbol rune
	var symbolColor color.Attribute
	switch rec.Action {
	case replicate.ActionCreated, replicate.ActionWouldCreate:
		symbol = '✓'
		symbolColor = color.FgGreen
	case replicate.ActionFailed:
		symbol = '✗'
		symbolColor = color.FgRed
	case replicate.ActionExcluded:
		symbol = '-'
		symbolColor = color.FgYellow
	default:
		symbol = '•'
		symbolColor = color.FgCyan
	}

	return fmt.Sprintf("%s%s %s %s %s",
		fmt.Sprintf("%*s", entryIndent, ""),
		color.New(symbolColor).Sprint(string(symbol)),
		fmt.Sprintf("%-*s", nameWidth, rec.Name),
		color.New(color.Faint).Sprint(fmt.Sprintf("%-*s", kindWidth, string(rec.Kind))),
		string(rec.Action))
}
