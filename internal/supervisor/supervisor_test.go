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

package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RorschachE0/AjiPilot/internal/cleaner"
	"github.com/RorschachE0/AjiPilot/internal/client"
	"github.com/RorschachE0/AjiPilot/internal/config"
	"github.com/RorschachE0/AjiPilot/internal/logger"
	"github.com/RorschachE0/AjiPilot/internal/procdir"
	"github.com/RorschachE0/AjiPilot/internal/registry"
	"github.com/RorschachE0/AjiPilot/internal/selector"
)

// spawnCall records one launch request for assertions
// spawnCall 记录一次派生请求，供断言使用
type spawnCall struct {
	Label    string
	Protocol string
}

// fakeLauncher simulates the external client against a procdir.Fake.
// The first FailFirstN spawns produce processes that die immediately.
// fakeLauncher 基于 procdir.Fake 模拟外部客户端。前 FailFirstN 次派生
// 的进程会立即死亡。
type fakeLauncher struct {
	mu sync.Mutex

	dir        *procdir.Fake
	nextPID    int
	spawnErr   error
	failFirstN int

	calls       []spawnCall
	disconnects int
}

func newFakeLauncher(dir *procdir.Fake) *fakeLauncher {
	return &fakeLauncher{dir: dir, nextPID: 1000}
}

func (f *fakeLauncher) Spawn(ctx context.Context, label, protocol string) (*client.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, spawnCall{Label: label, Protocol: protocol})
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}

	pid := f.nextPID
	f.nextPID++
	done := make(chan error, 1)

	if len(f.calls) <= f.failFirstN {
		// Dead on arrival: never enters the process table
		// 出生即死：从不进入进程表
		close(done)
		return &client.Handle{PID: pid, PGID: pid, Done: done}, nil
	}

	f.dir.Add(procdir.FakeProc{
		PID:        pid,
		Argv:       []string{"/usr/local/bin/ajiasu", "connect", label},
		StartTicks: uint64(pid),
		DiesOnTerm: true,
	})
	return &client.Handle{PID: pid, PGID: pid, Done: done}, nil
}

func (f *fakeLauncher) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeLauncher) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeLauncher) lastCall() spawnCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

// harness bundles a supervisor with all its fakes
// harness 汇集监督器及其所有假实现
type harness struct {
	sup *Supervisor
	fl  *fakeLauncher
	dir *procdir.Fake
	sel *selector.Selector
	reg *registry.Registry
}

func newHarness(t *testing.T, mutate func(*config.SuperviseConfig)) *harness {
	t.Helper()

	cfg := config.SuperviseConfig{
		HealthInterval:   2 * time.Millisecond,
		FailThreshold:    2,
		EstablishTimeout: 20 * time.Millisecond,
		GracePeriod:      50 * time.Millisecond,
		MaxRetries:       5,
		BackoffDelays:    []time.Duration{time.Millisecond},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	dir := procdir.NewFake()
	fl := newFakeLauncher(dir)
	log := logger.NewNop()
	sel := selector.New("")
	sel.UpdateListing(client.Listing{Nodes: []client.Node{
		{ID: "a", Status: "ok", City: "Tokyo", Num: 1, Label: "Tokyo #1"},
		{ID: "b", Status: "ok", City: "Tokyo", Num: 2, Label: "Tokyo #2"},
		{ID: "c", Status: "ok", City: "Seoul", Num: 3, Label: "Seoul #3"},
	}})
	reg := registry.New()
	cln := cleaner.New(dir, "ajiasu", log, cleaner.Options{
		Settle:   time.Millisecond,
		Deadline: 100 * time.Millisecond,
	})

	sup := New(cfg, selector.ProtocolLwip, Deps{
		Launcher: fl,
		Dir:      dir,
		Registry: reg,
		Selector: sel,
		Cleaner:  cln,
		Log:      log,
	})
	sup.SetPollInterval(2 * time.Millisecond)

	t.Cleanup(func() { sup.Shutdown(context.Background()) })
	return &harness{sup: sup, fl: fl, dir: dir, sel: sel, reg: reg}
}

// TestConnect_Establishes verifies the happy path into the active state
// TestConnect_Establishes 验证进入活跃状态的正常路径
func TestConnect_Establishes(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.sup.Connect(context.Background(), "Tokyo #1", ""))

	snap := h.sup.Status()
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, "Tokyo #1", snap.NodeLabel)
	assert.Equal(t, selector.ProtocolLwip, snap.Protocol)
	assert.NotZero(t, snap.PID)
	assert.True(t, snap.Connected())
	assert.True(t, h.dir.Alive(snap.PID))

	owner, ok := h.reg.Owner()
	require.True(t, ok)
	assert.Equal(t, snap.PID, owner.PID)
}

// TestConnect_PicksNodeWhenUnspecified verifies selector delegation
// TestConnect_PicksNodeWhenUnspecified 验证委托选择器挑选节点
func TestConnect_PicksNodeWhenUnspecified(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.sup.Connect(context.Background(), "", "tcp"))

	snap := h.sup.Status()
	assert.Equal(t, StateActive, snap.State)
	assert.NotEmpty(t, snap.NodeLabel)
	assert.Equal(t, "tcp", snap.Protocol)
}

// TestConnect_UnknownLabel verifies label validation against the cache
// TestConnect_UnknownLabel 验证针对缓存的标签校验
func TestConnect_UnknownLabel(t *testing.T) {
	h := newHarness(t, nil)

	err := h.sup.Connect(context.Background(), "Mars #1", "")
	assert.ErrorIs(t, err, ErrUnknownNode)
	assert.Equal(t, StateIdle, h.sup.Status().State)
	assert.Zero(t, h.fl.spawnCount())
}

// TestConnect_InvalidProtocol verifies protocol validation
// TestConnect_InvalidProtocol 验证协议校验
func TestConnect_InvalidProtocol(t *testing.T) {
	h := newHarness(t, nil)

	err := h.sup.Connect(context.Background(), "Tokyo #1", "quic")
	assert.Error(t, err)
	assert.Zero(t, h.fl.spawnCount())
}

// TestConnect_SpawnFailureIsTerminal verifies a missing binary ends
// the episode without retries
// TestConnect_SpawnFailureIsTerminal 验证二进制缺失时回合直接结束，
// 不做重试
func TestConnect_SpawnFailureIsTerminal(t *testing.T) {
	h := newHarness(t, nil)
	h.fl.spawnErr = errors.New("exec: no such file")

	err := h.sup.Connect(context.Background(), "Tokyo #1", "")
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.Equal(t, 1, h.fl.spawnCount(), "no retry on spawn failure")

	snap := h.sup.Status()
	assert.Equal(t, StateFailed, snap.State)
	assert.NotEmpty(t, snap.LastError)
}

// TestConnect_RetriesAcrossProtocols verifies failed attempts walk the
// protocol preference order before succeeding
// TestConnect_RetriesAcrossProtocols 验证失败的尝试按协议优先顺序
// 前进直到成功
func TestConnect_RetriesAcrossProtocols(t *testing.T) {
	h := newHarness(t, nil)
	h.fl.failFirstN = 2

	require.NoError(t, h.sup.Connect(context.Background(), "Tokyo #1", ""))

	require.Equal(t, 3, h.fl.spawnCount())
	assert.Equal(t, "lwip", h.fl.calls[0].Protocol)
	assert.Equal(t, "tcp", h.fl.calls[1].Protocol)
	assert.Equal(t, "udp", h.fl.calls[2].Protocol)

	snap := h.sup.Status()
	assert.Equal(t, StateActive, snap.State)
	assert.Equal(t, "udp", snap.Protocol)
	assert.Equal(t, 3, snap.Attempts)
}

// TestConnect_RetriesExhausted verifies the attempt budget is a hard
// bound and ends in the failed state
// TestConnect_RetriesExhausted 验证尝试预算是硬性上限，最终进入失败
// 状态
func TestConnect_RetriesExhausted(t *testing.T) {
	h := newHarness(t, nil)
	h.fl.failFirstN = 100

	err := h.sup.Connect(context.Background(), "Tokyo #1", "")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 5, h.fl.spawnCount(), "exactly the retry budget")

	snap := h.sup.Status()
	assert.Equal(t, StateFailed, snap.State)
	assert.Zero(t, snap.PID)
	assert.Zero(t, h.reg.Len(), "no record survives a failed episode")
}

// TestConnect_CancelledDuringBackoff verifies an abandoned connect
// releases the slot instead of leaving it stuck in the connecting
// state
// TestConnect_CancelledDuringBackoff 验证被放弃的连接释放槽位，而非
// 停留在连接中状态
func TestConnect_CancelledDuringBackoff(t *testing.T) {
	h := newHarness(t, func(c *config.SuperviseConfig) {
		c.BackoffDelays = []time.Duration{time.Hour}
	})
	h.fl.failFirstN = 1

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()

	err := h.sup.Connect(ctx, "Tokyo #1", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, h.sup.Status().State)
	assert.Zero(t, h.sup.Status().PID)

	// The slot must accept a fresh connect right away
	// 槽位必须立即接受新的连接
	require.NoError(t, h.sup.Connect(context.Background(), "Tokyo #1", ""))
	assert.Equal(t, StateActive, h.sup.Status().State)
}

// TestConnect_PurgesStraysBeforeSpawn verifies the pre-connect purge
// runs before any spawn, even one that fails outright
// TestConnect_PurgesStraysBeforeSpawn 验证连接前清除先于任何派生，
// 即使派生本身直接失败
func TestConnect_PurgesStraysBeforeSpawn(t *testing.T) {
	h := newHarness(t, nil)
	h.fl.spawnErr = errors.New("exec: no such file")
	h.dir.Add(procdir.FakeProc{PID: 6001, Argv: []string{"ajiasu", "connect", "Osaka #1"}, DiesOnTerm: true})

	err := h.sup.Connect(context.Background(), "Tokyo #1", "")
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.False(t, h.dir.Alive(6001), "stray must be gone before the spawn attempt")
}

// TestConnect_ReplacesExistingConnection verifies a second connect
// tears down the first owner
// TestConnect_ReplacesExistingConnection 验证第二次连接会拆除第一个
// 持有进程
func TestConnect_ReplacesExistingConnection(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.sup.Connect(context.Background(), "Tokyo #1", ""))
	firstPID := h.sup.Status().PID

	require.NoError(t, h.sup.Connect(context.Background(), "Seoul #3", ""))
	snap := h.sup.Status()

	assert.Equal(t, "Seoul #3", snap.NodeLabel)
	assert.NotEqual(t, firstPID, snap.PID)
	assert.False(t, h.dir.Alive(firstPID), "previous owner must be dead")
	assert.Equal(t, 1, h.reg.Len())
}

// TestDisconnect_Idempotent verifies disconnect works from any state
// and twice in a row
// TestDisconnect_Idempotent 验证断开在任何状态下以及连续两次调用都
// 有效
func TestDisconnect_Idempotent(t *testing.T) {
	h := newHarness(t, nil)

	// Disconnect with nothing connected / 未连接时断开
	require.NoError(t, h.sup.Disconnect(context.Background()))
	assert.Equal(t, StateIdle, h.sup.Status().State)

	require.NoError(t, h.sup.Connect(context.Background(), "Tokyo #1", ""))
	pid := h.sup.Status().PID

	require.NoError(t, h.sup.Disconnect(context.Background()))
	snap := h.sup.Status()
	assert.Equal(t, StateIdle, snap.State)
	assert.Zero(t, snap.PID)
	assert.False(t, h.dir.Alive(pid))
	assert.Zero(t, h.reg.Len())

	// Second disconnect is a quiet no-op / 第二次断开是安静的空操作
	require.NoError(t, h.sup.Disconnect(context.Background()))
	assert.Equal(t, StateIdle, h.sup.Status().State)
}

// TestHealthLoop_ReconnectsAfterDeath verifies crash detection drives
// an automatic reconnection back to the active state
// TestHealthLoop_ReconnectsAfterDeath 验证崩溃检测驱动自动重连回到
// 活跃状态
func TestHealthLoop_ReconnectsAfterDeath(t *testing.T) {
	h := newHarness(t, nil)
	h.sup.Start()

	require.NoError(t, h.sup.Connect(context.Background(), "Tokyo #1", ""))
	firstPID := h.sup.Status().PID

	// The client dies behind the supervisor's back
	// 客户端在监督器背后死亡
	h.dir.Remove(firstPID)

	assert.Eventually(t, func() bool {
		snap := h.sup.Status()
		return snap.State == StateActive && snap.PID != firstPID
	}, 2*time.Second, time.Millisecond, "should reconnect with a fresh process")

	assert.Equal(t, "Tokyo #1", h.sup.Status().NodeLabel, "reconnects to the same node")
}

// TestHealthLoop_ReconnectsWithinOneInterval verifies a confirmed-dead
// process triggers reconnection on the very next health check, not
// after the consecutive-failure threshold
// TestHealthLoop_ReconnectsWithinOneInterval 验证确认死亡的进程在下一
// 次健康检查立即触发重连，而非等满连续失败阈值
func TestHealthLoop_ReconnectsWithinOneInterval(t *testing.T) {
	h := newHarness(t, func(c *config.SuperviseConfig) {
		// High enough that the threshold path could never finish in
		// this test's window
		// 阈值高到在本测试窗口内不可能走完
		c.FailThreshold = 1000
	})
	h.sup.Start()

	require.NoError(t, h.sup.Connect(context.Background(), "Tokyo #1", ""))
	firstPID := h.sup.Status().PID

	h.dir.Remove(firstPID)

	assert.Eventually(t, func() bool {
		snap := h.sup.Status()
		return snap.State == StateActive && snap.PID != firstPID
	}, time.Second, time.Millisecond, "a dead process must be replaced immediately")
}

// TestHealthLoop_RecycledPidDegradesFirst verifies an alive pid that
// lost the connect command line counts toward the failure threshold
// instead of triggering an instant kill, and that the unrelated
// process wearing the pid survives the rebuild
// TestHealthLoop_RecycledPidDegradesFirst 验证存活但不再带 connect
// 命令行的 pid 先计入失败阈值而非立即击杀，且占用该 pid 的无关进程
// 在重建中幸存
func TestHealthLoop_RecycledPidDegradesFirst(t *testing.T) {
	h := newHarness(t, func(c *config.SuperviseConfig) {
		c.FailThreshold = 50
	})

	require.NoError(t, h.sup.Connect(context.Background(), "Tokyo #1", ""))
	pid := h.sup.Status().PID

	// The client exits and the kernel hands its pid to a stranger;
	// the health loop starts watching only after the swap
	// 客户端退出，内核把它的 pid 交给了陌生进程；健康循环在交换完成
	// 后才开始观测
	h.dir.Remove(pid)
	h.dir.Add(procdir.FakeProc{PID: pid, Argv: []string{"/usr/bin/sleep", "600"}})
	h.sup.Start()

	assert.Eventually(t, func() bool {
		return h.sup.Status().State == StateDegraded
	}, time.Second, time.Millisecond, "suspicion must degrade before rebuilding")

	assert.Eventually(t, func() bool {
		snap := h.sup.Status()
		return snap.State == StateActive && snap.PID != pid
	}, 2*time.Second, time.Millisecond, "threshold spent, connection rebuilt")

	assert.True(t, h.dir.Alive(pid), "the stranger holding the old pid must not be killed")
}

// TestRotate_SwitchesNode verifies rotation excludes the current node
// for the episode
// TestRotate_SwitchesNode 验证轮换在回合内排除当前节点
func TestRotate_SwitchesNode(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.sup.Connect(context.Background(), "Tokyo #1", ""))
	require.NoError(t, h.sup.Rotate(context.Background()))

	snap := h.sup.Status()
	assert.Equal(t, StateActive, snap.State)
	assert.NotEqual(t, "Tokyo #1", snap.NodeLabel, "must land on a different node")
}

// TestRotate_SkippedUnlessActive verifies rotation is a no-op in every
// non-active state
// TestRotate_SkippedUnlessActive 验证非活跃状态下轮换是空操作
func TestRotate_SkippedUnlessActive(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.sup.Rotate(context.Background()))
	assert.Equal(t, StateIdle, h.sup.Status().State)
	assert.Zero(t, h.fl.spawnCount())
}

// TestForceCleanup_PurgesEverything verifies strays and the owner both
// go and the slot resets
// TestForceCleanup_PurgesEverything 验证游离进程和持有进程都被清除，
// 槽位重置
func TestForceCleanup_PurgesEverything(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.sup.Connect(context.Background(), "Tokyo #1", ""))
	ownPID := h.sup.Status().PID

	// Strays from a previous daemon life / 上一个守护进程留下的游离进程
	h.dir.Add(procdir.FakeProc{PID: 7001, Argv: []string{"ajiasu", "connect", "Osaka #1"}, DiesOnTerm: true})
	h.dir.Add(procdir.FakeProc{PID: 7002, Argv: []string{"ajiasu", "connect", "Osaka #2"}, DiesOnTerm: true})

	n, err := h.sup.ForceCleanup()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.False(t, h.dir.Alive(ownPID))
	assert.False(t, h.dir.Alive(7001))
	assert.False(t, h.dir.Alive(7002))
	assert.Equal(t, StateIdle, h.sup.Status().State)
	assert.Zero(t, h.reg.Len())
}

// TestConnect_ConcurrentAttemptRejected verifies the single-episode
// rule
// TestConnect_ConcurrentAttemptRejected 验证单回合规则
func TestConnect_ConcurrentAttemptRejected(t *testing.T) {
	h := newHarness(t, func(c *config.SuperviseConfig) {
		c.EstablishTimeout = 200 * time.Millisecond
	})

	errCh := make(chan error, 1)
	go func() { errCh <- h.sup.Connect(context.Background(), "Tokyo #1", "") }()

	// Wait until the first episode is confirming / 等待第一个回合进入确认阶段
	require.Eventually(t, func() bool {
		return h.sup.Status().State == StateConnecting && h.fl.spawnCount() > 0
	}, time.Second, time.Millisecond)

	err := h.sup.Connect(context.Background(), "Seoul #3", "")
	assert.ErrorIs(t, err, ErrAlreadyConnecting)

	require.NoError(t, <-errCh)
	assert.Equal(t, "Tokyo #1", h.sup.Status().NodeLabel)
}

// TestShutdown_RefusesNewWork verifies the terminal state
// TestShutdown_RefusesNewWork 验证终态
func TestShutdown_RefusesNewWork(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.sup.Connect(context.Background(), "Tokyo #1", ""))
	pid := h.sup.Status().PID

	h.sup.Shutdown(context.Background())

	assert.Equal(t, StateShuttingDown, h.sup.Status().State)
	assert.False(t, h.dir.Alive(pid), "owned process torn down on shutdown")

	assert.ErrorIs(t, h.sup.Connect(context.Background(), "Tokyo #1", ""), ErrShuttingDown)
	assert.ErrorIs(t, h.sup.Rotate(context.Background()), ErrShuttingDown)

	// Shutdown twice is safe / 重复关闭安全
	h.sup.Shutdown(context.Background())
}
