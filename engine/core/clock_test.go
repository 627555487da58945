package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewClock()
	c.now = func() time.Time { return now }

	c.Update()
	assert.Zero(t, c.Elapsed(), "not started")

	c.Start()
	now = now.Add(1500 * time.Millisecond)
	assert.Zero(t, c.Elapsed(), "not updated yet")
	c.Update()
	assert.InDelta(t, 1.5, c.Elapsed(), 1e-9)

	c.Stop()
	now = now.Add(time.Second)
	c.Update()
	assert.InDelta(t, 1.5, c.Elapsed(), 1e-9)

	c.Start()
	assert.Zero(t, c.Elapsed())
}
