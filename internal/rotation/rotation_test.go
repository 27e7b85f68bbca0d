/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package rotation

import (
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/RorschachE0/AjiPilot/internal/logger"
)

// Property: every drawn interval lies in [min, max), for arbitrary
// windows and seeds.
// 属性：对任意窗口和种子，抽取的间隔都落在 [min, max) 内。
func TestProperty_DrawIntervalWithinWindow(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		minHours := rapid.IntRange(1, 48).Draw(t, "minHours")
		spanHours := rapid.IntRange(1, 48).Draw(t, "spanHours")
		seed := rapid.Int64().Draw(t, "seed")

		min := time.Duration(minHours) * time.Hour
		max := min + time.Duration(spanHours)*time.Hour

		s := New(min, max, func() {}, logger.NewNop())
		s.SetRand(rand.New(rand.NewSource(seed)))

		for i := 0; i < 20; i++ {
			d := s.DrawInterval()
			if d < min || d >= max {
				t.Fatalf("interval %v outside [%v, %v)", d, min, max)
			}
		}
	})
}

// TestNextFireTime verifies the scheduled time tracks the drawn
// interval from the injected clock
// TestNextFireTime 验证计划时间跟随注入时钟和抽取的间隔
func TestNextFireTime(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	s := New(12*time.Hour, 24*time.Hour, func() {}, logger.NewNop())
	s.SetClock(func() time.Time { return now })
	s.SetRand(rand.New(rand.NewSource(1)))

	assert.True(t, s.NextFireTime().IsZero(), "not running yet")

	s.Start()
	defer s.Stop()

	next := s.NextFireTime()
	require.False(t, next.IsZero())
	assert.False(t, next.Before(now.Add(12*time.Hour)), "fires no earlier than min")
	assert.True(t, next.Before(now.Add(24*time.Hour)), "fires before max")
}

// TestReset verifies a reset redraws the pending interval
// TestReset 验证重置会重新抽取待触发间隔
func TestReset(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	s := New(12*time.Hour, 24*time.Hour, func() {}, logger.NewNop())
	s.SetClock(func() time.Time { return now })
	s.Start()
	defer s.Stop()

	// Time passes, then the connection re-activates
	// 时间流逝，随后连接重新激活
	now = now.Add(6 * time.Hour)
	s.Reset()

	next := s.NextFireTime()
	assert.False(t, next.Before(now.Add(12*time.Hour)), "reset restarts the cycle from now")
	assert.True(t, next.Before(now.Add(24*time.Hour)))
}

// TestStop verifies a stopped scheduler neither fires nor reports a
// pending time
// TestStop 验证停止后的调度器既不触发也不报告待触发时间
func TestStop(t *testing.T) {
	var fired atomic.Int64
	s := New(5*time.Millisecond, 10*time.Millisecond, func() { fired.Add(1) }, logger.NewNop())
	s.Start()
	s.Stop()

	assert.True(t, s.NextFireTime().IsZero())
	count := fired.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, count, fired.Load(), "no fires after Stop")
}

// TestFireRearms verifies the timer rearms after each expiry
// TestFireRearms 验证定时器在每次到期后重新武装
func TestFireRearms(t *testing.T) {
	var fired atomic.Int64
	s := New(time.Millisecond, 2*time.Millisecond, func() { fired.Add(1) }, logger.NewNop())
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return fired.Load() >= 3 },
		time.Second, time.Millisecond, "should fire repeatedly")
}
