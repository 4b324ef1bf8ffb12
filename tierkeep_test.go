package tierkeep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvictionPolicy(t *testing.T) {
	tests := []struct {
		input     string
		expected  EvictionPolicy
		expectErr bool
	}{
		{input: "lru", expected: EvictionLRU},
		{input: "lfu", expected: EvictionLFU},
		{input: "ttl", expected: EvictionTTL},
		{input: "adaptive", expected: EvictionAdaptive},
		{input: "fifo", expectErr: true},
		{input: "", expectErr: true},
		{input: "LRU", expectErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			policy, err := ParseEvictionPolicy(tc.input)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, policy)
		})
	}
}
