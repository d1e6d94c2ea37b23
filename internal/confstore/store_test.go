package confstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"llamad/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get("tiny")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	in := types.LaunchConfig{
		ModelPath:      "/models/tiny.gguf",
		DraftModelPath: "draft.gguf",
		CustomArgs:     "-ngl 99 --flash-attn",
		Env:            map[string]string{"CUDA_VISIBLE_DEVICES": "0"},
		CtxSize:        8192,
	}
	require.NoError(t, s.Put("tiny", in))
	out, ok, err := s.Get("tiny")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, in, out)
}

func TestPutReplaces(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("tiny", types.LaunchConfig{ModelPath: "/a.gguf", DraftModelPath: "/d.gguf"}))
	// simulates the draft auto-recovery write: same id, draft cleared
	require.NoError(t, s.Put("tiny", types.LaunchConfig{ModelPath: "/a.gguf"}))
	out, ok, err := s.Get("tiny")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, out.DraftModelPath)
}

func TestDeleteAndList(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("b", types.LaunchConfig{ModelPath: "/b.gguf"}))
	require.NoError(t, s.Put("a", types.LaunchConfig{ModelPath: "/a.gguf"}))
	ids, err := s.List()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)
	require.NoError(t, s.Delete("a"))
	ids, err = s.List()
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids)
}
