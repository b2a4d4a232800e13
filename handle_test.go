package slabpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandle(t *testing.T) {
	h := Handle(10)
	assert.Equal(t, Handle(1244), h.Add(1234))
	assert.Equal(t, Handle(9), h.Add(-1))
	assert.Equal(t, 10, h.Index())
	assert.Equal(t, "10", h.String())
	assert.Equal(t, "invalid", InvalidHandle.String())
	assert.Equal(t, InvalidHandle, Handle(0).Add(-1))
}
