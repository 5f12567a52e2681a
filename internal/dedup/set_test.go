package dedup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterPreservesOrderAndSkipsSeen(t *testing.T) {
	t.Parallel()

	s := NewSet(map[string]struct{}{"b": {}, "d": {}})
	fresh, done, dupes := s.Filter([]string{"a", "b", "c", "d", "e"})
	require.Equal(t, []string{"a", "c", "e"}, fresh)
	require.Equal(t, 2, done)
	require.Zero(t, dupes)
	require.Equal(t, 2, s.Len())
}

func TestFilterCountsInputDuplicatesSeparately(t *testing.T) {
	t.Parallel()

	s := NewSet(map[string]struct{}{"d": {}})
	fresh, done, dupes := s.Filter([]string{"a", "b", "a", "d", "b", "d", "c"})
	require.Equal(t, []string{"a", "b", "c"}, fresh)
	require.Equal(t, 2, done)
	require.Equal(t, 2, dupes)
}

func TestFilterSecondPassIsEmpty(t *testing.T) {
	t.Parallel()

	s := NewSet(nil)
	s.Filter([]string{"a", "b"})
	fresh, done, dupes := s.Filter([]string{"a", "b"})
	require.Empty(t, fresh)
	require.Zero(t, done)
	require.Equal(t, 2, dupes)
}

func TestNewSetCopiesInput(t *testing.T) {
	t.Parallel()

	seed := map[string]struct{}{"a": {}}
	s := NewSet(seed)
	seed["b"] = struct{}{}
	require.Equal(t, 1, s.Len())
	fresh, _, _ := s.Filter([]string{"b"})
	require.Equal(t, []string{"b"}, fresh)
}
