package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithArchive adds archive_name context to logger.
func (l *Logger) WithArchive(archiveName string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("archive_name", archiveName).Logger(),
	}
}

// WithRepository adds repository_path context to logger.
func (l *Logger) WithRepository(repoPath string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("repository_path", repoPath).Logger(),
	}
}

// WithPath adds a source path and its size to logger.
func (l *Logger) WithPath(path string, size int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("path", path).
			Int64("size", size).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// ArchiveCreateStarted logs the start of a backup run.
func (l *Logger) ArchiveCreateStarted(archiveName string, sourcePaths []string) {
	l.logger.Info().
		Str("archive_name", archiveName).
		Strs("source_paths", sourcePaths).
		Msg("archive create started")
}

// ItemProcessed logs a single filesystem item being chunked and stored.
func (l *Logger) ItemProcessed(archiveName, path string, size int64, chunkCount int, newChunks int) {
	l.logger.Debug().
		Str("archive_name", archiveName).
		Str("path", path).
		Int64("size", size).
		Int("chunk_count", chunkCount).
		Int("new_chunks", newChunks).
		Msg("item processed")
}

// ArchiveCreateProgress logs periodic progress during a backup run.
func (l *Logger) ArchiveCreateProgress(archiveName string, filesDone, filesTotal int, bytesWritten int64, elapsed time.Duration) {
	progress := 0.0
	if filesTotal > 0 {
		progress = float64(filesDone) / float64(filesTotal) * 100.0
	}

	l.logger.Info().
		Str("archive_name", archiveName).
		Int("files_done", filesDone).
		Int("files_total", filesTotal).
		Float64("progress_percent", progress).
		Int64("bytes_written", bytesWritten).
		Float64("elapsed_seconds", elapsed.Seconds()).
		Msg("archive create progress")
}

// ArchiveCreateCompleted logs the end of a successful backup run.
func (l *Logger) ArchiveCreateCompleted(archiveName string, originalSize, compressedSize, dedupSize int64, duration time.Duration) {
	l.logger.Info().
		Str("archive_name", archiveName).
		Int64("original_size", originalSize).
		Int64("compressed_size", compressedSize).
		Int64("deduplicated_size", dedupSize).
		Float64("duration_seconds", duration.Seconds()).
		Msg("archive create completed")
}

// ChunkDecryptFailed logs a chunk authentication failure during restore or check.
func (l *Logger) ChunkDecryptFailed(chunkID string, errorMsg string) {
	l.logger.Error().
		Str("chunk_id", chunkID).
		Str("error_message", errorMsg).
		Msg("chunk authentication failed")
}

// RepositoryOpened logs a repository being opened.
func (l *Logger) RepositoryOpened(repoPath string, segmentCount int) {
	l.logger.Info().
		Str("repository_path", repoPath).
		Int("segment_count", segmentCount).
		Msg("repository opened")
}

// RemoteConnectionEstablished logs a successful connection to a remote repository server.
func (l *Logger) RemoteConnectionEstablished(remoteAddr string, connectionID string) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Str("connection_id", connectionID).
		Msg("remote repository connection established")
}

// RemoteConnectionFailed logs a failed connection attempt to a remote repository server.
func (l *Logger) RemoteConnectionFailed(remoteAddr string, err error) {
	l.logger.Error().
		Str("remote_addr", remoteAddr).
		Err(err).
		Msg("remote repository connection failed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
