package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioCommand(t *testing.T) {
	tests := []struct {
		name        string
		capacity    int
		blockSize   int
		wantErr     bool
		wantContain []string
	}{
		{
			name:        "reference sizing",
			capacity:    8192,
			blockSize:   224,
			wantContain: []string{"capacity 8192, block size 224", "8192 ok/8192 none", "release past end", "8192"},
		},
		{
			name:        "small pool",
			capacity:    100,
			blockSize:   32,
			wantContain: []string{"100 ok/100 none", "allocate after misuse"},
		},
		{
			name:      "invalid block size",
			capacity:  100,
			blockSize: 100,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			capacity = tt.capacity
			blockSize = tt.blockSize

			output, err := captureOutput(t, runScenario)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			for _, want := range tt.wantContain {
				assert.Contains(t, output, want)
			}
			assert.NotContains(t, output, "FAIL")
		})
	}
}

func TestScenarioCommand_JSON(t *testing.T) {
	resetFlags()
	jsonOut = true

	output, err := captureOutput(t, runScenario)
	require.NoError(t, err)

	var res scenarioResult
	decodeJSON(t, output, &res)
	assert.True(t, res.Passed)
	assert.Equal(t, 8192, res.Capacity)
	assert.Equal(t, 8192, res.Stats.Live)
	assert.Equal(t, 37, res.Stats.FullBlocks)
	assert.Equal(t, uint64(1), res.Stats.Misuses)

	var actions []string
	for _, s := range res.Steps {
		assert.True(t, s.Passed, "%s: want %s got %s", s.Action, s.Want, s.Got)
		actions = append(actions, s.Action)
	}
	assert.Contains(t, actions, "release past end")
	assert.Equal(t, "verify", actions[len(actions)-1])
}

func TestReuseOffsets(t *testing.T) {
	assert.Equal(t, []int{0, 1234, 8190}, reuseOffsets(8192))
	assert.Equal(t, []int{0, 98}, reuseOffsets(100))
	assert.Equal(t, []int{0}, reuseOffsets(2))
	assert.Equal(t, []int{0}, reuseOffsets(1))
}
