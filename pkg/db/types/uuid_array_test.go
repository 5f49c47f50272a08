package dbtypes

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestUUIDArrayScanAndValue(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	var arr UUIDArray
	require.NoError(t, arr.Scan(`{"`+a.String()+`",`+b.String()+`}`))
	require.Equal(t, UUIDArray{a, b}, arr)

	value, err := arr.Value()
	require.NoError(t, err)
	require.Equal(t, `{"`+a.String()+`","`+b.String()+`"}`, value)

	var back UUIDArray
	require.NoError(t, back.Scan([]byte(value.(string))))
	require.Equal(t, arr, back)

	require.NoError(t, arr.Scan(nil))
	require.Empty(t, arr)

	empty, err := UUIDArray{}.Value()
	require.NoError(t, err)
	require.Equal(t, "{}", empty)
}

func TestUUIDArrayScanRejectsGarbage(t *testing.T) {
	var arr UUIDArray
	require.Error(t, arr.Scan("{not-a-uuid}"))
	require.Error(t, arr.Scan("not an array"))
	require.Error(t, arr.Scan(42))
}

func TestUUIDArrayContains(t *testing.T) {
	a := uuid.New()
	arr := UUIDArray{a}
	require.True(t, arr.Contains(a))
	require.False(t, arr.Contains(uuid.New()))
	require.False(t, UUIDArray(nil).Contains(a))
}
