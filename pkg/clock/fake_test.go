// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-frostsigner.
//
// go-frostsigner is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func TestFakeClock_AdvanceFiresDueCallbacks(t *testing.T) {
	c := NewFake(epoch)
	var fired []string

	c.AfterFunc(50*time.Millisecond, func() { fired = append(fired, "b") })
	c.AfterFunc(10*time.Millisecond, func() { fired = append(fired, "a") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "late") })

	c.Advance(60 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, epoch.Add(60*time.Millisecond), c.Now())

	c.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "late"}, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeClock_Stop(t *testing.T) {
	c := NewFake(epoch)
	called := false
	timer := c.AfterFunc(time.Millisecond, func() { called = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Second)
	assert.False(t, called)
}

func TestFakeClock_StopAfterFire(t *testing.T) {
	c := NewFake(epoch)
	timer := c.AfterFunc(time.Millisecond, func() {})
	c.Advance(time.Millisecond)
	assert.False(t, timer.Stop())
}

func TestFakeClock_NonPositiveRunsInline(t *testing.T) {
	c := NewFake(epoch)
	called := false
	timer := c.AfterFunc(0, func() { called = true })
	assert.True(t, called)
	assert.False(t, timer.Stop())
}

func TestFakeClock_CallbackSchedulesWithinWindow(t *testing.T) {
	c := NewFake(epoch)
	count := 0
	c.AfterFunc(10*time.Millisecond, func() {
		count++
		c.AfterFunc(10*time.Millisecond, func() { count++ })
	})

	c.Advance(5 * time.Millisecond)
	assert.Equal(t, 0, count)
	c.Advance(10 * time.Millisecond)
	assert.Equal(t, 1, count)
	c.Advance(10 * time.Millisecond)
	assert.Equal(t, 2, count)
}
