package logging

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"
)

// maxLogSize is the trim threshold.
const maxLogSize = 10 << 20 // 10 MiB

// minTrimInterval bounds how often a trim may run, enforced across restarts
// via a sidecar marker file's mtime.
const minTrimInterval = time.Hour

// TrimmingWriter appends to a log file, trimming it to its last half at a
// record boundary once it crosses maxLogSize, provided at least
// minTrimInterval has passed since the previous trim. Replaces numbered-file
// rotation with in-place trimming, keeping a single perpetually-appended log
// rather than a rotated set.
type TrimmingWriter struct {
	mu         sync.Mutex
	path       string
	markerPath string
	format     string
	file       *os.File
}

// NewTrimmingWriter opens (creating if absent) the log file at path, which
// is written in the given format ("plain-text" or "json") for the purposes
// of locating record boundaries when trimming.
func NewTrimmingWriter(path, format string) (*TrimmingWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	return &TrimmingWriter{
		path:       path,
		markerPath: path + ".trim-marker",
		format:     format,
		file:       f,
	}, nil
}

func (tw *TrimmingWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.maybeTrim(); err != nil {
		return 0, fmt.Errorf("trimming %s: %w", tw.path, err)
	}
	return tw.file.Write(p)
}

// Close releases the underlying file handle.
func (tw *TrimmingWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.file.Close()
}

func (tw *TrimmingWriter) maybeTrim() error {
	info, err := tw.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < maxLogSize {
		return nil
	}
	if time.Since(tw.lastTrimTime()) < minTrimInterval {
		return nil
	}
	return tw.trim()
}

func (tw *TrimmingWriter) lastTrimTime() time.Time {
	info, err := os.Stat(tw.markerPath)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (tw *TrimmingWriter) trim() error {
	data, err := os.ReadFile(tw.path)
	if err != nil {
		return err
	}

	boundary := recordBoundaryAfter(data, len(data)/2, tw.format)
	kept := data[boundary:]

	tmpPath := tw.path + ".trim-tmp"
	if err := os.WriteFile(tmpPath, kept, 0o640); err != nil {
		return err
	}
	if err := tw.file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, tw.path); err != nil {
		return err
	}

	f, err := os.OpenFile(tw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	tw.file = f

	return tw.touchMarker()
}

func (tw *TrimmingWriter) touchMarker() error {
	now := time.Now()
	if err := os.WriteFile(tw.markerPath, nil, 0o640); err != nil {
		return err
	}
	return os.Chtimes(tw.markerPath, now, now)
}

// recordBoundaryAfter returns the offset of the first full-record boundary
// after start (a boundary exactly at start is skipped; start <= 0 yields 0):
// for JSON (NDJSON), the byte after the next '\n'; for
// plain-text, the start of the next header line (a line that doesn't begin
// with the indentation used for stdout/stderr blocks).
func recordBoundaryAfter(data []byte, start int, format string) int {
	if start <= 0 {
		return 0
	}
	if start >= len(data) {
		return len(data)
	}

	if format == "json" {
		idx := bytes.IndexByte(data[start:], '\n')
		if idx == -1 {
			return len(data)
		}
		return start + idx + 1
	}

	pos := start
	for {
		idx := bytes.IndexByte(data[pos:], '\n')
		if idx == -1 {
			return len(data)
		}
		lineStart := pos + idx + 1
		if lineStart >= len(data) {
			return len(data)
		}
		if data[lineStart] != ' ' && data[lineStart] != '\t' {
			return lineStart
		}
		pos = lineStart
	}
}
