// Package session implements the append-only per-session message
// transcript (C1): newline-delimited JSON records plus a sidecar file for
// compaction boundaries. The log never rewrites or compacts history; it
// only appends.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kestrelrun/agentcore/internal/observability"
	"github.com/kestrelrun/agentcore/internal/tracing"
	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// entryRecord is the on-disk shape of one transcript line.
type entryRecord struct {
	EntryID    string          `json:"entryId"`
	SessionKey string          `json:"sessionKey"`
	Message    message.Message `json:"message"`
}

// compactionRecord is the on-disk shape of one compaction-boundary line,
// stored in a sidecar file next to the main transcript.
type compactionRecord struct {
	Summary          string    `json:"summary"`
	FirstKeptEntryID string    `json:"firstKeptEntryId"`
	TokensBefore     int       `json:"tokensBefore"`
	Timestamp        time.Time `json:"timestamp"`
}

// Store persists session transcripts using one JSONL file per session key,
// plus a `.compaction.jsonl` sidecar for compaction boundaries.
type Store struct {
	sessionsDir string
	writeLocks  map[string]*sync.Mutex
	locksMu     sync.RWMutex
}

// New creates a Store rooted at sessionsDir, creating it if necessary.
func New(sessionsDir string) (*Store, error) {
	observability.EnsureRegistered()

	if sessionsDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		sessionsDir = filepath.Join(homeDir, ".agentcore", "sessions")
	}

	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	s := &Store{
		sessionsDir: sessionsDir,
		writeLocks:  make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", sessionsDir).Msg("Session store initialized")
	s.updateActiveSessionsMetric()

	return s, nil
}

func (s *Store) validateSessionKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(sessionKey, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(sessionKey, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (s *Store) transcriptPath(sessionKey string) string {
	return filepath.Join(s.sessionsDir, sessionKey+".jsonl")
}

func (s *Store) compactionPath(sessionKey string) string {
	return filepath.Join(s.sessionsDir, sessionKey+".compaction.jsonl")
}

func (s *Store) updateActiveSessionsMetric() {
	sessions, err := s.List(context.Background())
	if err != nil {
		return
	}
	observability.SetActiveSessions(len(sessions))
}

func (s *Store) getWriteLock(sessionKey string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[sessionKey]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	s.writeLocks[sessionKey] = lock
	return lock
}

func (s *Store) releaseWriteLock(sessionKey string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.writeLocks, sessionKey)
}

// Append durably appends msg to the session's transcript, assigning and
// returning it with an EntryID. Durable-before-return: the write is
// fsync'd before Append returns.
func (s *Store) Append(ctx context.Context, sessionKey string, msg message.Message) (message.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(ctx, "agentcore.session", "session.append",
		attribute.String("session_key", sessionKey), attribute.String("role", string(msg.Role)))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_key", sessionKey).Logger()
	start := time.Now()
	defer func() { observability.RecordSessionSave(time.Since(start)) }()

	if err := s.validateSessionKey(sessionKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return message.Message{}, err
	}
	if len(msg.Content) == 0 {
		return message.Message{}, fmt.Errorf("message content cannot be empty")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	lock := s.getWriteLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	path := s.transcriptPath(sessionKey)

	// Count existing entries to assign the next entry id; a per-session
	// lock guards this read-then-append against concurrent writers.
	nextIdx, err := countLines(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return message.Message{}, err
	}
	msg.EntryID = fmt.Sprintf("m%08d", nextIdx)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return message.Message{}, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	rec := entryRecord{EntryID: msg.EntryID, SessionKey: sessionKey, Message: msg}
	data, err := json.Marshal(rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return message.Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return message.Message{}, fmt.Errorf("failed to write message: %w", err)
	}
	if err := file.Sync(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return message.Message{}, fmt.Errorf("failed to sync file: %w", err)
	}

	logger.Debug().Str("entry_id", msg.EntryID).Str("role", string(msg.Role)).Msg("message appended")
	return msg, nil
}

func countLines(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	n := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		n++
	}
	return n, scanner.Err()
}

// AppendCompaction records a compaction boundary: the first entry id kept
// after the compaction, the summary text, and the pre-compaction token
// estimate.
func (s *Store) AppendCompaction(ctx context.Context, sessionKey, summary, firstKeptEntryID string, tokensBefore int) error {
	if err := s.validateSessionKey(sessionKey); err != nil {
		return err
	}

	lock := s.getWriteLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	rec := compactionRecord{
		Summary:          summary,
		FirstKeptEntryID: firstKeptEntryID,
		TokensBefore:     tokensBefore,
		Timestamp:        time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal compaction record: %w", err)
	}

	file, err := os.OpenFile(s.compactionPath(sessionKey), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open compaction sidecar: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write compaction record: %w", err)
	}
	return file.Sync()
}

func (s *Store) latestCompaction(sessionKey string) (*compactionRecord, error) {
	path := s.compactionPath(sessionKey)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var last *compactionRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec compactionRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		r := rec
		last = &r
	}
	return last, scanner.Err()
}

// Load reads the whole transcript for sessionKey. If a compaction boundary
// exists, the messages before FirstKeptEntryID are dropped and the
// recorded summary is materialized as a synthetic leading user message —
// it is never itself stored as an ordinary transcript entry.
func (s *Store) Load(ctx context.Context, sessionKey string) ([]message.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionKey(ctx, sessionKey)
	ctx, span := tracing.StartSpan(ctx, "agentcore.session", "session.load",
		attribute.String("session_key", sessionKey))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_key", sessionKey).Logger()
	start := time.Now()
	defer func() { observability.RecordSessionLoad(time.Since(start)) }()

	if err := s.validateSessionKey(sessionKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	entries, err := s.loadEntries(sessionKey, &logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	comp, err := s.latestCompaction(sessionKey)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read compaction sidecar, ignoring")
		comp = nil
	}

	var out []message.Message
	if comp != nil {
		out = append(out, message.PlainText(message.RoleUser, comp.Summary))
		kept := false
		for _, e := range entries {
			if !kept {
				if e.EntryID < comp.FirstKeptEntryID {
					continue
				}
				kept = true
			}
			out = append(out, e.Message)
		}
	} else {
		for _, e := range entries {
			out = append(out, e.Message)
		}
	}

	logger.Debug().Int("messages", len(out)).Msg("session loaded")
	return out, nil
}

func (s *Store) loadEntries(sessionKey string, logger *zerolog.Logger) ([]entryRecord, error) {
	path := s.transcriptPath(sessionKey)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	var entries []entryRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec entryRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("failed to parse line, skipping")
			continue
		}
		if rec.Message.Role == "" || len(rec.Message.Content) == 0 {
			logger.Warn().Int("line", lineNum).Msg("invalid entry, skipping")
			continue
		}
		entries = append(entries, rec)
	}
	return entries, scanner.Err()
}

// List returns every known session key.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".compaction.jsonl") {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, ".jsonl"))
	}
	return sessions, nil
}

// Clear deletes a session's transcript and any compaction sidecar.
func (s *Store) Clear(ctx context.Context, sessionKey string) error {
	if err := s.validateSessionKey(sessionKey); err != nil {
		return err
	}

	lock := s.getWriteLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.transcriptPath(sessionKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	if err := os.Remove(s.compactionPath(sessionKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete compaction sidecar: %w", err)
	}

	s.releaseWriteLock(sessionKey)
	s.updateActiveSessionsMetric()
	log.Info().Str("session_key", sessionKey).Msg("session cleared")
	return nil
}

// ResolveMessageEntryID finds the entry id of the transcript entry whose
// message matches msg by role, timestamp and joined text. It is used by
// the compactor to translate "the last message before the drop set" into
// a durable firstKeptEntryId reference for the compaction record.
func (s *Store) ResolveMessageEntryID(ctx context.Context, sessionKey string, msg message.Message) (string, bool) {
	entries, err := s.loadEntries(sessionKey, &zeroLoggerNop)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.Message.Role == msg.Role && e.Message.Timestamp.Equal(msg.Timestamp) && e.Message.JoinText() == msg.JoinText() {
			return e.EntryID, true
		}
	}
	return "", false
}

var zeroLoggerNop = zerolog.Nop()

// RepairSession rewrites a session's transcript keeping only lines that
// parsed and validated, via an atomic temp-file rename.
func (s *Store) RepairSession(sessionKey string) error {
	if err := s.validateSessionKey(sessionKey); err != nil {
		return err
	}

	entries, err := s.loadEntries(sessionKey, &zeroLoggerNop)
	if err != nil {
		return err
	}

	lock := s.getWriteLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	path := s.transcriptPath(sessionKey)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	log.Info().Str("session_key", sessionKey).Int("entries", len(entries)).Msg("session repaired")
	return nil
}

// ReplaceSession atomically rewrites a session's transcript with msgs,
// re-numbering entry ids from scratch. Used by retention pruning; it does
// not touch the compaction sidecar.
func (s *Store) ReplaceSession(sessionKey string, msgs []message.Message) error {
	if err := s.validateSessionKey(sessionKey); err != nil {
		return err
	}

	lock := s.getWriteLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	path := s.transcriptPath(sessionKey)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for i, msg := range msgs {
		msg.EntryID = fmt.Sprintf("m%08d", i)
		rec := entryRecord{EntryID: msg.EntryID, SessionKey: sessionKey, Message: msg}
		data, err := json.Marshal(rec)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// GetSessionInfo returns metadata about a session.
func (s *Store) GetSessionInfo(sessionKey string) (map[string]interface{}, error) {
	if err := s.validateSessionKey(sessionKey); err != nil {
		return nil, err
	}

	path := s.transcriptPath(sessionKey)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session does not exist")
		}
		return nil, fmt.Errorf("failed to stat session file: %w", err)
	}

	entries, err := s.loadEntries(sessionKey, &zeroLoggerNop)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"sessionKey":   sessionKey,
		"size":         info.Size(),
		"lastModified": info.ModTime(),
		"messageCount": len(entries),
	}, nil
}

// Close releases in-memory write locks. It does not touch on-disk state.
func (s *Store) Close() error {
	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()
	log.Info().Msg("session store closed")
	return nil
}
