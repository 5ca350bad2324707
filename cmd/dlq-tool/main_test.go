package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePartitionOffset(t *testing.T) {
	partition, offset, err := parsePartitionOffset("2:1045")
	require.NoError(t, err)
	assert.Equal(t, int32(2), partition)
	assert.Equal(t, int64(1045), offset)

	for _, bad := range []string{"", "3", "a:1", "1:b", "-1:4", "1:-4", "1:2:3"} {
		_, _, err := parsePartitionOffset(bad)
		assert.Error(t, err, bad)
	}
}
