package archive

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type mapStore struct {
	mu       sync.Mutex
	files    map[string][]byte
	writeErr error
}

func newMapStore() *mapStore {
	return &mapStore{files: make(map[string][]byte)}
}

func (s *mapStore) Exists(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[path]
	return ok, nil
}

func (s *mapStore) Write(_ context.Context, path string, data []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = append([]byte(nil), data...)
	return nil
}

func TestMirrorStoreWritesBoth(t *testing.T) {
	t.Parallel()

	primary, secondary := newMapStore(), newMapStore()
	m := MirrorStore{Primary: primary, Secondary: secondary}

	require.NoError(t, m.Write(context.Background(), "out/a.html", []byte("OK")))
	require.Equal(t, []byte("OK"), primary.files["out/a.html"])
	require.Equal(t, []byte("OK"), secondary.files["out/a.html"])

	secondary.files = map[string][]byte{}
	ok, err := m.Exists(context.Background(), "out/a.html")
	require.NoError(t, err)
	require.True(t, ok, "existence follows the primary store")
}

func TestMirrorStoreSecondaryFailure(t *testing.T) {
	t.Parallel()

	secondary := newMapStore()
	secondary.writeErr = errors.New("bucket unavailable")
	m := MirrorStore{Primary: newMapStore(), Secondary: secondary}

	err := m.Write(context.Background(), "out/a.html", []byte("OK"))
	require.ErrorContains(t, err, "mirror write")
}

func TestMirrorStoreWithoutSecondary(t *testing.T) {
	t.Parallel()

	primary := newMapStore()
	m := MirrorStore{Primary: primary}
	require.NoError(t, m.Write(context.Background(), "a", []byte("x")))
	require.Len(t, primary.files, 1)
}
