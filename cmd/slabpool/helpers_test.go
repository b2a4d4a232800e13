package main

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/hupe1980/slabpool"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag variable to its default.
func resetFlags() {
	verbose = false
	quiet = false
	jsonOut = false
	capacity = slabpool.DefaultCapacity
	blockSize = slabpool.DefaultBlockSize
	logLevel = "error"

	churnWorkers = 4
	churnParallel = 0
	churnOps = 2000
	churnSeed = 1
	churnAllocRatio = 0.6
	churnMemoryLimit = 0

	snapshotOut = ""
	snapshotFill = 1000
	snapshotFreeEvery = 0
	snapshotRecordSize = 64
	snapshotCompression = "lz4"
	snapshotSeed = 1
	snapshotIOLimit = 0
	snapshotHeap = false

	inspectHeap = false
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan []byte)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.Bytes()
	}()

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout
	out := <-done
	r.Close()

	return string(out), fnErr
}

// decodeJSON unmarshals command output into v.
func decodeJSON(t *testing.T, output string, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(output), v), "output: %s", output)
}
