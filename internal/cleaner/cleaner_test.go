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

package cleaner

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RorschachE0/AjiPilot/internal/logger"
	"github.com/RorschachE0/AjiPilot/internal/procdir"
)

func newTestCleaner(dir procdir.Directory) *Cleaner {
	return New(dir, "ajiasu", logger.NewNop(), Options{
		Settle:   time.Millisecond,
		Deadline: 100 * time.Millisecond,
	})
}

func connectProc(pid int, ticks uint64, diesOnTerm bool) procdir.FakeProc {
	return procdir.FakeProc{
		PID:        pid,
		Argv:       []string{"/usr/local/bin/ajiasu", "connect", "Tokyo #1"},
		StartTicks: ticks,
		DiesOnTerm: diesOnTerm,
	}
}

// TestMatches verifies the argv-token match criterion
// TestMatches 验证按 argv 令牌的匹配条件
func TestMatches(t *testing.T) {
	c := newTestCleaner(procdir.NewFake())

	testCases := []struct {
		name string
		argv []string
		want bool
	}{
		{"connect invocation", []string{"/usr/bin/ajiasu", "connect", "Tokyo #1"}, true},
		{"bare basename", []string{"ajiasu", "connect", "Osaka #2"}, true},
		{"list invocation", []string{"/usr/bin/ajiasu", "list"}, false},
		{"no args", []string{"/usr/bin/ajiasu"}, false},
		{"editor mentioning the name", []string{"vim", "ajiasu connect notes.txt"}, false},
		{"shell with name in argument", []string{"bash", "-c", "ajiasu connect x"}, false},
		{"different binary", []string{"/usr/bin/othervpn", "connect", "Tokyo #1"}, false},
		{"empty argv", nil, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Matches(procdir.Entry{PID: 1, Argv: tc.argv})
			assert.Equal(t, tc.want, got)
		})
	}
}

// TestKillAll_ThreeStrays verifies a purge of several strays leaves
// the process table clean
// TestKillAll_ThreeStrays 验证清除多个游离进程后进程表干净
func TestKillAll_ThreeStrays(t *testing.T) {
	fake := procdir.NewFake()
	fake.Add(connectProc(101, 10, true))
	fake.Add(connectProc(102, 20, true))
	fake.Add(connectProc(103, 30, true))
	fake.Add(procdir.FakeProc{PID: 200, Argv: []string{"/bin/sleep", "60"}, DiesOnTerm: true})

	c := newTestCleaner(fake)
	n, err := c.KillAll()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, pid := range []int{101, 102, 103} {
		assert.False(t, fake.Alive(pid), "pid %d should be gone", pid)
	}
	// Bystanders untouched / 无关进程不受影响
	assert.True(t, fake.Alive(200))
}

// TestKillAll_EscalatesToKill verifies a SIGTERM-ignoring process is
// finished with SIGKILL
// TestKillAll_EscalatesToKill 验证忽略 SIGTERM 的进程被 SIGKILL 终结
func TestKillAll_EscalatesToKill(t *testing.T) {
	fake := procdir.NewFake()
	fake.Add(connectProc(301, 10, false))

	c := newTestCleaner(fake)
	_, err := c.KillAll()
	require.NoError(t, err)

	assert.False(t, fake.Alive(301))

	var sawTerm, sawKill bool
	for _, s := range fake.Signals() {
		if s.Signal == syscall.SIGTERM {
			sawTerm = true
		}
		if s.Signal == syscall.SIGKILL {
			sawKill = true
		}
	}
	assert.True(t, sawTerm, "SIGTERM should come first")
	assert.True(t, sawKill, "SIGKILL should follow")
}

// TestKillAll_Empty verifies a no-op purge
// TestKillAll_Empty 验证空清除
func TestKillAll_Empty(t *testing.T) {
	c := newTestCleaner(procdir.NewFake())
	n, err := c.KillAll()
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestEnforceSingle_KeepsPreferred verifies the registered pid wins
// TestEnforceSingle_KeepsPreferred 验证注册的 pid 胜出
func TestEnforceSingle_KeepsPreferred(t *testing.T) {
	fake := procdir.NewFake()
	fake.Add(connectProc(401, 10, true))
	fake.Add(connectProc(402, 99, true)) // newer but not preferred / 更新但非首选

	c := newTestCleaner(fake)
	kept, killed, err := c.EnforceSingle(401)
	require.NoError(t, err)

	assert.Equal(t, 401, kept)
	assert.Equal(t, []int{402}, killed)
	assert.True(t, fake.Alive(401))
	assert.False(t, fake.Alive(402))
}

// TestEnforceSingle_KeepsNewest verifies start-time arbitration when
// no preference is given
// TestEnforceSingle_KeepsNewest 验证无首选时按启动时间裁决
func TestEnforceSingle_KeepsNewest(t *testing.T) {
	fake := procdir.NewFake()
	fake.Add(connectProc(501, 10, true))
	fake.Add(connectProc(502, 50, true))
	fake.Add(connectProc(503, 30, true))

	c := newTestCleaner(fake)
	kept, killed, err := c.EnforceSingle(0)
	require.NoError(t, err)

	assert.Equal(t, 502, kept)
	assert.ElementsMatch(t, []int{501, 503}, killed)
	assert.True(t, fake.Alive(502))
}

// TestEnforceSingle_SingleOrNone verifies the trivial cases touch
// nothing
// TestEnforceSingle_SingleOrNone 验证平凡情况不做任何操作
func TestEnforceSingle_SingleOrNone(t *testing.T) {
	fake := procdir.NewFake()
	c := newTestCleaner(fake)

	kept, killed, err := c.EnforceSingle(0)
	require.NoError(t, err)
	assert.Zero(t, kept)
	assert.Empty(t, killed)

	fake.Add(connectProc(601, 10, true))
	kept, killed, err = c.EnforceSingle(0)
	require.NoError(t, err)
	assert.Equal(t, 601, kept)
	assert.Empty(t, killed)
	assert.True(t, fake.Alive(601))
}
