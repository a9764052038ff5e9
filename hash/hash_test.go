package hash

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGUIDText(t *testing.T) {
	require := require.New(t)

	g := FakeGUID(1)
	require.False(g.IsZero())
	require.Equal(g, FakeGUID(1))
	require.NotEqual(g, FakeGUID(2))

	b, err := json.Marshal(g)
	require.NoError(err)
	var back GUID
	require.NoError(json.Unmarshal(b, &back))
	require.Equal(g, back)

	require.Equal(g, HexToGUID(g.Hex()))
	require.True(Zero.IsZero())
}

func TestGUIDSetBytes(t *testing.T) {
	require := require.New(t)

	short := BytesToGUID([]byte{1, 2})
	require.Equal(byte(1), short[14])
	require.Equal(byte(2), short[15])

	long := make([]byte, GUIDLength+4)
	long[len(long)-1] = 7
	require.Equal(byte(7), BytesToGUID(long)[15])

	require.True(GUIDs{short}.Contains(short))
	require.False(GUIDs{short}.Contains(Zero))
}
