package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_Validate(t *testing.T) {
	s := NewSet(1, 2, 3)

	require.NoError(t, s.Validate(1, 2))
	require.NoError(t, s.Validate())

	err := s.Validate(1, 4)
	require.Error(t, err)

	var missing *MissingPermissionError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, Key(4), missing.Key)
}

func TestSet_ValidateOnNilSet(t *testing.T) {
	var s *Set
	assert.False(t, s.Has(1))
	assert.Error(t, s.Validate(1))
	assert.NoError(t, s.Validate())
}

func TestSet_Dedup(t *testing.T) {
	s := NewSet(1, 1, 2)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []Key{1, 2}, s.Keys())
}

func TestEmptySet(t *testing.T) {
	assert.Equal(t, 0, Empty.Len())
	assert.NoError(t, Empty.Validate())
	assert.Error(t, Empty.Validate(1))
}
