package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	s := openTestStore(t)
	// Second call must not error or duplicate schema.
	require.NoError(t, s.EnsureSchema(context.Background()))

	require.NoError(t, s.Append(context.Background(), "s1", Message{Role: "user", Content: "hi"}))
	msgs, err := s.Recent(context.Background(), "s1", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestAppendAndRecent_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	userMsg := "what are the top brands?\nline two with unicode: héllo 世界"
	assistantMsg := "- **Brand A**\n- **Brand B**"

	require.NoError(t, s.Append(ctx, "s1",
		Message{Role: "user", Content: userMsg},
		Message{Role: "assistant", Content: assistantMsg},
	))

	msgs, err := s.Recent(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, userMsg, msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, assistantMsg, msgs[1].Content)
}

func TestRecent_LimitKeepsNewestInOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three", "four"} {
		require.NoError(t, s.Append(ctx, "s1", Message{Role: "user", Content: content}))
	}

	msgs, err := s.Recent(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", msgs[0].Content)
	assert.Equal(t, "four", msgs[1].Content)
}

func TestRecent_SessionsAreIndependent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "a", Message{Role: "user", Content: "for a"}))
	require.NoError(t, s.Append(ctx, "b", Message{Role: "user", Content: "for b"}))

	msgs, err := s.Recent(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "for a", msgs[0].Content)
}

func TestRecent_UnknownSessionIsEmpty(t *testing.T) {
	s := openTestStore(t)
	msgs, err := s.Recent(context.Background(), "never-seen", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRecent_ZeroLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "s1", Message{Role: "user", Content: "hi"}))

	msgs, err := s.Recent(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
