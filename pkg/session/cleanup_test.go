package session

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCleanup(t *testing.T) {
	tempDir := t.TempDir()
	manager, err := New(tempDir)
	require.NoError(t, err)

	cleanup := NewCleanup(manager, 7*24*time.Hour)
	assert.NotNil(t, cleanup)
	assert.Equal(t, manager, cleanup.manager)
	assert.Equal(t, 7*24*time.Hour, cleanup.cleanupAge)
}

func TestNewCleanup_DefaultAge(t *testing.T) {
	tempDir := t.TempDir()
	manager, err := New(tempDir)
	require.NoError(t, err)

	cleanup := NewCleanup(manager, 0)
	assert.Equal(t, DefaultCleanupAge, cleanup.cleanupAge)
}

func TestCleanupStartStop(t *testing.T) {
	tempDir := t.TempDir()
	manager, err := New(tempDir)
	require.NoError(t, err)

	cleanup := NewCleanup(manager, 7*24*time.Hour)

	err = cleanup.Start()
	assert.NoError(t, err)
	assert.True(t, cleanup.IsRunning())

	time.Sleep(100 * time.Millisecond)

	err = cleanup.Start()
	assert.Error(t, err)

	err = cleanup.Stop()
	assert.NoError(t, err)
	assert.False(t, cleanup.IsRunning())

	err = cleanup.Stop()
	assert.Error(t, err)
}

func TestCleanupOldSessions(t *testing.T) {
	tempDir := t.TempDir()
	manager, err := New(tempDir)
	require.NoError(t, err)
	ctx := context.Background()

	cleanup := NewCleanup(manager, 100*time.Millisecond)

	sessionKey := "archived_old-session"
	_, err = manager.Append(ctx, sessionKey, message.PlainText(message.RoleUser, "Test"))
	require.NoError(t, err)

	sessionPath := filepath.Join(tempDir, sessionKey+".jsonl")
	oldTime := time.Now().Add(-1 * time.Hour)
	err = os.Chtimes(sessionPath, oldTime, oldTime)
	require.NoError(t, err)

	err = cleanup.CleanupNow()
	assert.NoError(t, err)

	sessions, err := manager.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, sessions, sessionKey)
}

func TestCleanupOnlyArchivedSessions(t *testing.T) {
	tempDir := t.TempDir()
	manager, err := New(tempDir)
	require.NoError(t, err)
	ctx := context.Background()

	cleanup := NewCleanup(manager, 100*time.Millisecond)

	regularKey := "regular-session"
	_, err = manager.Append(ctx, regularKey, message.PlainText(message.RoleUser, "hi"))
	require.NoError(t, err)

	archivedKey := "archived_old-session"
	_, err = manager.Append(ctx, archivedKey, message.PlainText(message.RoleUser, "hi"))
	require.NoError(t, err)

	regularPath := filepath.Join(tempDir, regularKey+".jsonl")
	archivedPath := filepath.Join(tempDir, archivedKey+".jsonl")
	oldTime := time.Now().Add(-1 * time.Hour)

	err = os.Chtimes(regularPath, oldTime, oldTime)
	require.NoError(t, err)
	err = os.Chtimes(archivedPath, oldTime, oldTime)
	require.NoError(t, err)

	err = cleanup.CleanupNow()
	assert.NoError(t, err)

	sessions, err := manager.List(ctx)
	require.NoError(t, err)

	assert.Contains(t, sessions, regularKey)
	assert.NotContains(t, sessions, archivedKey)
}

func TestSetCleanupAge(t *testing.T) {
	tempDir := t.TempDir()
	manager, err := New(tempDir)
	require.NoError(t, err)

	cleanup := NewCleanup(manager, 7*24*time.Hour)
	assert.Equal(t, 7*24*time.Hour, cleanup.GetCleanupAge())

	cleanup.SetCleanupAge(14 * 24 * time.Hour)
	assert.Equal(t, 14*24*time.Hour, cleanup.GetCleanupAge())
}

func TestGetCleanupStats(t *testing.T) {
	tempDir := t.TempDir()
	manager, err := New(tempDir)
	require.NoError(t, err)
	ctx := context.Background()

	cleanup := NewCleanup(manager, 7*24*time.Hour)

	_, err = manager.Append(ctx, "session1", message.PlainText(message.RoleUser, "hi"))
	require.NoError(t, err)
	_, err = manager.Append(ctx, "archived_session2", message.PlainText(message.RoleUser, "hi"))
	require.NoError(t, err)
	_, err = manager.Append(ctx, "archived_session3", message.PlainText(message.RoleUser, "hi"))
	require.NoError(t, err)

	stats, err := cleanup.GetCleanupStats()
	assert.NoError(t, err)
	assert.Equal(t, 3, stats["total_sessions"])
	assert.Equal(t, 2, stats["archived_sessions"])
	assert.False(t, stats["running"].(bool))
}

func TestCleanupPrunesLargeSessions(t *testing.T) {
	tempDir := t.TempDir()
	manager, err := New(tempDir)
	require.NoError(t, err)
	ctx := context.Background()

	cleanup := NewCleanup(manager, 7*24*time.Hour)
	cleanup.SetMaxEntries(500)

	sessionKey := "session-prune"
	for i := 0; i < 1000; i++ {
		_, err = manager.Append(ctx, sessionKey, message.PlainText(message.RoleUser, "msg-"+strconv.Itoa(i)))
		require.NoError(t, err)
	}

	err = cleanup.CleanupNow()
	require.NoError(t, err)

	entries, err := manager.Load(ctx, sessionKey)
	require.NoError(t, err)
	require.Len(t, entries, 500)
	assert.Equal(t, "msg-500", entries[0].JoinText())
	assert.Equal(t, "msg-999", entries[len(entries)-1].JoinText())
}
