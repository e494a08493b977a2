package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, string) {
	tempDir := t.TempDir()
	s, err := New(tempDir)
	require.NoError(t, err)
	return s, tempDir
}

func TestStore_ValidateSessionKey(t *testing.T) {
	s, _ := setupTestStore(t)
	defer s.Close()

	tests := []struct {
		name      string
		key       string
		shouldErr bool
	}{
		{"valid key", "agent:main:main", false},
		{"empty key", "", true},
		{"path traversal", "../etc/passwd", true},
		{"forward slash", "test/session", true},
		{"backslash", "test\\session", true},
		{"null byte", "test\x00session", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.validateSessionKey(tt.key)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStore_AppendAssignsEntryID(t *testing.T) {
	s, _ := setupTestStore(t)
	defer s.Close()
	ctx := context.Background()

	msg := message.PlainText(message.RoleUser, "hello")
	saved, err := s.Append(ctx, "agent:main:main", msg)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.EntryID)

	path := s.transcriptPath("agent:main:main")
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestStore_LoadRoundTrip(t *testing.T) {
	s, _ := setupTestStore(t)
	defer s.Close()
	ctx := context.Background()
	key := "agent:main:main"

	in := []message.Message{
		message.PlainText(message.RoleUser, "message 1"),
		message.PlainText(message.RoleAssistant, "message 2"),
		message.PlainText(message.RoleUser, "message 3"),
	}
	for _, m := range in {
		_, err := s.Append(ctx, key, m)
		require.NoError(t, err)
	}

	out, err := s.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, m := range out {
		assert.Equal(t, in[i].Role, m.Role)
		assert.Equal(t, in[i].JoinText(), m.JoinText())
	}
}

func TestStore_LoadNonExistentSession(t *testing.T) {
	s, _ := setupTestStore(t)
	defer s.Close()

	msgs, err := s.Load(context.Background(), "agent:main:nope")
	assert.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestStore_LoadMaterializesCompactionSummary(t *testing.T) {
	s, _ := setupTestStore(t)
	defer s.Close()
	ctx := context.Background()
	key := "agent:main:main"

	var lastID string
	for i := 0; i < 5; i++ {
		saved, err := s.Append(ctx, key, message.PlainText(message.RoleUser, "msg"))
		require.NoError(t, err)
		lastID = saved.EntryID
	}
	require.NoError(t, s.AppendCompaction(ctx, key, "SUMMARY", lastID, 1000))
	// One more message appended after the boundary.
	_, err := s.Append(ctx, key, message.PlainText(message.RoleAssistant, "after"))
	require.NoError(t, err)

	out, err := s.Load(ctx, key)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "SUMMARY", out[0].JoinText())
	assert.Equal(t, "after", out[1].JoinText())
}

func TestStore_ClearRemovesTranscriptAndSidecar(t *testing.T) {
	s, _ := setupTestStore(t)
	defer s.Close()
	ctx := context.Background()
	key := "test-session"

	_, err := s.Append(ctx, key, message.PlainText(message.RoleUser, "hi"))
	require.NoError(t, err)
	require.NoError(t, s.AppendCompaction(ctx, key, "s", "m00000000", 0))

	require.NoError(t, s.Clear(ctx, key))

	_, err = os.Stat(s.transcriptPath(key))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.compactionPath(key))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_List(t *testing.T) {
	s, _ := setupTestStore(t)
	defer s.Close()
	ctx := context.Background()

	keys := []string{"session1", "session2", "session3"}
	for _, k := range keys {
		_, err := s.Append(ctx, k, message.PlainText(message.RoleUser, "hi"))
		require.NoError(t, err)
	}

	list, err := s.List(ctx)
	assert.NoError(t, err)
	assert.ElementsMatch(t, keys, list)
}

func TestStore_RepairSessionDropsInvalidLines(t *testing.T) {
	s, tempDir := setupTestStore(t)
	defer s.Close()

	sessionPath := filepath.Join(tempDir, "test-session.jsonl")
	content := `{"entryId":"m00000000","sessionKey":"test-session","message":{"role":"user","content":[{"type":"text","text":"Valid 1"}],"timestamp":"2024-01-01T00:00:00Z"}}
invalid json line
{"entryId":"m00000001","sessionKey":"test-session","message":{"role":"assistant","content":[{"type":"text","text":"Valid 2"}],"timestamp":"2024-01-01T00:00:01Z"}}
{"invalid":"entry"}
`
	require.NoError(t, os.WriteFile(sessionPath, []byte(content), 0600))

	require.NoError(t, s.RepairSession("test-session"))

	entries, err := s.Load(context.Background(), "test-session")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStore_GetSessionInfo(t *testing.T) {
	s, _ := setupTestStore(t)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, "test-session", message.PlainText(message.RoleUser, "msg"))
		require.NoError(t, err)
	}

	info, err := s.GetSessionInfo("test-session")
	require.NoError(t, err)
	assert.Equal(t, "test-session", info["sessionKey"])
	assert.Equal(t, 5, info["messageCount"])
	assert.Greater(t, info["size"].(int64), int64(0))
}

func TestStore_ConcurrentAppendsPreserveCount(t *testing.T) {
	s, _ := setupTestStore(t)
	defer s.Close()
	ctx := context.Background()

	const numGoroutines = 10
	const messagesPerGoroutine = 10

	done := make(chan bool, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			for j := 0; j < messagesPerGoroutine; j++ {
				_, err := s.Append(ctx, "concurrent-session", message.PlainText(message.RoleUser, "msg"))
				assert.NoError(t, err)
			}
			done <- true
		}()
	}
	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	entries, err := s.Load(ctx, "concurrent-session")
	require.NoError(t, err)
	assert.Equal(t, numGoroutines*messagesPerGoroutine, len(entries))
}

func TestStore_ResolveMessageEntryID(t *testing.T) {
	s, _ := setupTestStore(t)
	defer s.Close()
	ctx := context.Background()

	msg := message.PlainText(message.RoleUser, "find me")
	saved, err := s.Append(ctx, "test-session", msg)
	require.NoError(t, err)

	id, ok := s.ResolveMessageEntryID(ctx, "test-session", saved)
	assert.True(t, ok)
	assert.Equal(t, saved.EntryID, id)
}
