// Package observability holds the slog helpers, OpenTelemetry metrics and
// spans the engine and workflows report through. Each part has a no-op
// form, and every Log helper accepts a nil logger.
package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// NewLogger writes to w as "json" or, by default, text. level is debug,
// info, warn or error; anything else is info.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// EnrichLogger tags logger with thread_id and node_id.
func EnrichLogger(logger *slog.Logger, threadID, nodeID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("thread_id", threadID), slog.String("node_id", nodeID))
}

func emit(logger *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if logger != nil {
		logger.LogAttrs(context.Background(), level, msg, attrs...)
	}
}

func errAttr(err error) slog.Attr { return slog.String("error", err.Error()) }

func durationMS(d time.Duration) slog.Attr {
	return slog.Float64("duration_ms", float64(d)/float64(time.Millisecond))
}

// StartTimer returns a function reporting the time since StartTimer ran.
func StartTimer() func() time.Duration {
	start := time.Now()
	return func() time.Duration { return time.Since(start) }
}

func LogRunStart(logger *slog.Logger, threadID, startNode string) {
	emit(logger, slog.LevelInfo, "graph run starting",
		slog.String("thread_id", threadID), slog.String("start_node", startNode))
}

func LogRunComplete(logger *slog.Logger, threadID string, elapsed time.Duration, nodeCount int) {
	emit(logger, slog.LevelInfo, "graph run completed",
		slog.String("thread_id", threadID), durationMS(elapsed), slog.Int("nodes_executed", nodeCount))
}

func LogRunError(logger *slog.Logger, threadID string, err error, elapsed time.Duration, lastNode string) {
	emit(logger, slog.LevelError, "graph run failed",
		slog.String("thread_id", threadID), errAttr(err), durationMS(elapsed), slog.String("last_node", lastNode))
}

// LogInterrupt records a pass parking; sequence is the checkpoint holding
// the parked state.
func LogInterrupt(logger *slog.Logger, threadID, pendingNode string, sequence int) {
	emit(logger, slog.LevelInfo, "graph run interrupted",
		slog.String("thread_id", threadID), slog.String("pending_node", pendingNode), slog.Int("sequence", sequence))
}

func LogResume(logger *slog.Logger, threadID, pendingNode string, sequence int) {
	emit(logger, slog.LevelInfo, "graph run resuming",
		slog.String("thread_id", threadID), slog.String("pending_node", pendingNode), slog.Int("from_sequence", sequence))
}

func LogNodeStart(logger *slog.Logger, nodeID string) {
	emit(logger, slog.LevelDebug, "node starting", slog.String("node_id", nodeID))
}

func LogNodeComplete(logger *slog.Logger, nodeID string, elapsed time.Duration) {
	emit(logger, slog.LevelDebug, "node completed", slog.String("node_id", nodeID), durationMS(elapsed))
}

func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	emit(logger, slog.LevelError, "node failed", slog.String("node_id", nodeID), errAttr(err))
}

func LogCheckpoint(logger *slog.Logger, nodeID string, sequence, sizeBytes int) {
	emit(logger, slog.LevelDebug, "checkpoint saved",
		slog.String("node_id", nodeID), slog.Int("sequence", sequence), slog.Int("size_bytes", sizeBytes))
}

func LogCheckpointError(logger *slog.Logger, nodeID, op string, err error) {
	emit(logger, slog.LevelError, "checkpoint failed",
		slog.String("node_id", nodeID), slog.String("operation", op), errAttr(err))
}

// LogEvaluation records a reviewer score. source is ok, fallback or default.
func LogEvaluation(logger *slog.Logger, score int, source string, revision int) {
	emit(logger, slog.LevelInfo, "draft evaluated",
		slog.Int("score", score), slog.String("source", source), slog.Int("revision", revision))
}
