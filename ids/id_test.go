// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDRoundTrip(t *testing.T) {
	require := require.New(t)

	id := GenerateTestID()

	parsed, err := ToID(id[:])
	require.NoError(err)
	require.Equal(id, parsed)

	fromStr, err := FromString(id.String())
	require.NoError(err)
	require.Equal(id, fromStr)
}

func TestToIDBadLength(t *testing.T) {
	tests := []struct {
		name  string
		bytes []byte
	}{
		{name: "nil", bytes: nil},
		{name: "short", bytes: make([]byte, IDLen-1)},
		{name: "long", bytes: make([]byte, IDLen+1)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ToID(test.bytes)
			require.ErrorIs(t, err, ErrBadIDLength)
		})
	}
}

func TestIDHash64Stable(t *testing.T) {
	require := require.New(t)

	id := GenerateTestID()
	require.Equal(id.Hash64(), id.Hash64())

	other := GenerateTestID()
	require.NotEqual(id.Hash64(), other.Hash64())
}

func TestIDMarshalText(t *testing.T) {
	require := require.New(t)

	id := GenerateTestID()
	text, err := id.MarshalText()
	require.NoError(err)

	var parsed ID
	require.NoError(parsed.UnmarshalText(text))
	require.Equal(id, parsed)
}
