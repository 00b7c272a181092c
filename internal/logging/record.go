package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Record is one check/action log entry.
type Record struct {
	Timestamp  time.Time
	RuleID     int
	Script     string // basename of the script that ran
	Phase      string // "check", "action", or "throttled"
	ExitCode   int
	DurationMS int64
	Stdout     string
	Stderr     string
	TimedOut   bool
}

// Writer appends Records to a stream (the checks log or the actions log).
type Writer interface {
	WriteRecord(Record) error
}

// NewWriter returns a Writer in the given format ("plain-text" or "json")
// writing to w.
func NewWriter(format string, w io.Writer) Writer {
	if format == "json" {
		return &jsonWriter{w: w}
	}
	return &plainTextWriter{w: w}
}

type jsonWriter struct{ w io.Writer }

type jsonRecord struct {
	Timestamp  string `json:"timestamp"`
	RuleID     int    `json:"rule_id"`
	Script     string `json:"script"`
	Phase      string `json:"phase"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	TimedOut   bool   `json:"timed_out"`
}

func (jw *jsonWriter) WriteRecord(r Record) error {
	jr := jsonRecord{
		Timestamp:  r.Timestamp.Format(time.RFC3339),
		RuleID:     r.RuleID,
		Script:     r.Script,
		Phase:      r.Phase,
		ExitCode:   r.ExitCode,
		DurationMS: r.DurationMS,
		Stdout:     r.Stdout,
		Stderr:     r.Stderr,
		TimedOut:   r.TimedOut,
	}
	line, err := json.Marshal(jr)
	if err != nil {
		return fmt.Errorf("marshaling log record: %w", err)
	}
	line = append(line, '\n')
	_, err = jw.w.Write(line)
	return err
}

type plainTextWriter struct{ w io.Writer }

func (pw *plainTextWriter) WriteRecord(r Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s rule=%d script=%s phase=%s exit=%d duration_ms=%d timed_out=%t\n",
		r.Timestamp.Format(time.RFC3339), r.RuleID, r.Script, r.Phase, r.ExitCode, r.DurationMS, r.TimedOut)
	writeIndentedBlock(&b, "stdout", r.Stdout)
	writeIndentedBlock(&b, "stderr", r.Stderr)

	_, err := pw.w.Write([]byte(b.String()))
	return err
}

func writeIndentedBlock(b *strings.Builder, label, content string) {
	if content == "" {
		return
	}
	fmt.Fprintf(b, "  %s:\n", label)
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		fmt.Fprintf(b, "    %s\n", line)
	}
}
