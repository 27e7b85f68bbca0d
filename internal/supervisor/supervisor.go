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

// Package supervisor owns the single connection slot. It drives the
// connect/confirm/health-check/reconnect lifecycle of the external
// client process, serializing all slot transitions behind one mutex
// while blocking work (spawning, grace waits) runs with the lock
// released. An episode token prevents superseded attempts from
// committing: whoever bumps the epoch owns the slot.
// supervisor 包持有唯一的连接槽位。它驱动外部客户端进程的连接/确认/
// 健康检查/重连生命周期，所有槽位状态转换由一把互斥锁串行化，而阻塞
// 工作（派生、宽限等待）在释放锁的情况下执行。回合令牌防止被取代的
// 尝试提交结果：谁递增了 epoch，谁就拥有槽位。
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/RorschachE0/AjiPilot/internal/client"
	"github.com/RorschachE0/AjiPilot/internal/cleaner"
	"github.com/RorschachE0/AjiPilot/internal/config"
	"github.com/RorschachE0/AjiPilot/internal/procdir"
	"github.com/RorschachE0/AjiPilot/internal/registry"
	"github.com/RorschachE0/AjiPilot/internal/selector"
)

// State is the connection slot state
// State 是连接槽位的状态
type State string

const (
	StateIdle         State = "IDLE"
	StateConnecting   State = "CONNECTING"
	StateActive       State = "ACTIVE"
	StateDegraded     State = "DEGRADED"
	StateReconnecting State = "RECONNECTING"
	StateFailed       State = "FAILED"
	StateShuttingDown State = "SHUTTING_DOWN"
)

// Sentinel errors surfaced to callers
// 暴露给调用方的哨兵错误
var (
	// ErrSpawnFailed: the binary is missing or exec failed. Retrying
	// cannot help, so the episode ends immediately.
	// ErrSpawnFailed：二进制缺失或 exec 失败。重试无济于事，回合
	// 立即结束。
	ErrSpawnFailed = errors.New("failed to spawn client process")

	// ErrAlreadyConnecting: a connect or reconnect episode is running
	// ErrAlreadyConnecting：已有连接或重连回合在进行
	ErrAlreadyConnecting = errors.New("connection attempt already in progress")

	// ErrRetriesExhausted: the episode used up its attempt budget
	// ErrRetriesExhausted：回合的尝试次数已用尽
	ErrRetriesExhausted = errors.New("reconnection retries exhausted")

	// ErrShuttingDown: the daemon is stopping
	// ErrShuttingDown：守护进程正在停止
	ErrShuttingDown = errors.New("supervisor is shutting down")

	// ErrUnknownNode: the requested label is not in the node listing
	// ErrUnknownNode：请求的标签不在节点列表中
	ErrUnknownNode = errors.New("unknown node label")

	// ErrNoNodes: nothing selectable and no default configured
	// ErrNoNodes：没有可选节点且未配置默认值
	ErrNoNodes = errors.New("no node available to connect")
)

// Launcher spawns and disconnects the external client. client.Runner
// is the production implementation; tests inject a fake.
// Launcher 派生和断开外部客户端。client.Runner 是生产实现；测试中
// 注入假实现。
type Launcher interface {
	Spawn(ctx context.Context, nodeLabel, protocol string) (*client.Handle, error)
	Disconnect(ctx context.Context) error
}

// Snapshot is an immutable view of the slot for status readers
// Snapshot 是供状态读取方使用的槽位不可变视图
type Snapshot struct {
	State            State     `json:"state"`
	PID              int       `json:"pid,omitempty"`
	Protocol         string    `json:"protocol,omitempty"`
	NodeLabel        string    `json:"node_label,omitempty"`
	Since            time.Time `json:"since"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	Attempts         int       `json:"attempts"`
	LastError        string    `json:"last_error,omitempty"`
}

// Connected reports whether the slot holds a live connection
// Connected 报告槽位是否持有存活的连接
func (s Snapshot) Connected() bool {
	return s.State == StateActive || s.State == StateDegraded
}

// Deps bundles the supervisor's collaborators
// Deps 汇集监督器的协作组件
type Deps struct {
	Launcher Launcher
	Dir      procdir.Directory
	Registry *registry.Registry
	Selector *selector.Selector
	Cleaner  *cleaner.Cleaner

	// KickReaper requests an immediate zombie collection; may be nil
	// KickReaper 请求立即回收僵尸进程；可为 nil
	KickReaper func()

	// OnActive fires after every activation (rotation reset, probe
	// cache invalidation); may be nil
	// OnActive 在每次激活后触发（轮换重置、探测缓存失效）；可为 nil
	OnActive func()

	Log *zap.SugaredLogger
}

// Supervisor drives the single connection slot
// Supervisor 驱动唯一的连接槽位
type Supervisor struct {
	cfg             config.SuperviseConfig
	defaultProtocol string
	deps            Deps
	log             *zap.SugaredLogger

	// pollInterval paces establishment confirmation; configurable so
	// tests run fast
	// pollInterval 控制建立确认的轮询节奏；可配置以便测试快速运行
	pollInterval time.Duration

	mu           sync.Mutex
	state        State
	since        time.Time
	epoch        uint64
	ownerID      string
	ownerPID     int
	protocol     string
	nodeLabel    string
	fails        int
	attempts     int
	lastErr      string
	shuttingDown bool
	handleDone   <-chan error

	snap atomic.Pointer[Snapshot]

	healthDone chan struct{}
	wg         sync.WaitGroup
	started    bool
}

// New creates a Supervisor in the idle state
// New 创建处于空闲状态的 Supervisor
func New(cfg config.SuperviseConfig, defaultProtocol string, deps Deps) *Supervisor {
	s := &Supervisor{
		cfg:             cfg,
		defaultProtocol: defaultProtocol,
		deps:            deps,
		log:             deps.Log,
		pollInterval:    500 * time.Millisecond,
		state:           StateIdle,
		since:           time.Now(),
		healthDone:      make(chan struct{}),
	}
	s.publishLocked()
	return s
}

// SetPollInterval adjusts the confirmation poll pacing, for tests
// SetPollInterval 调整确认轮询节奏，供测试使用
func (s *Supervisor) SetPollInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollInterval = d
}

// Start launches the health-check loop
// Start 启动健康检查循环
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.wg.Add(1)
	go s.healthLoop()
	s.log.Infof("[Supervisor] Health loop started, interval=%v threshold=%d",
		s.cfg.HealthInterval, s.cfg.FailThreshold)
}

// Status returns the latest published snapshot
// Status 返回最新发布的快照
func (s *Supervisor) Status() Snapshot {
	return *s.snap.Load()
}

// Connect establishes a connection to the given node with the given
// protocol. Empty label lets the selector choose; empty protocol uses
// the configured default. Any existing connection is torn down first.
// The call blocks until the connection is confirmed or the episode
// fails.
// Connect 使用给定协议连接给定节点。标签为空时由选择器挑选；协议为空
// 时使用配置的默认值。已有连接会先被拆除。调用阻塞直到连接确认或
// 回合失败。
func (s *Supervisor) Connect(ctx context.Context, nodeLabel, protocol string) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	if s.state == StateConnecting || s.state == StateReconnecting {
		s.mu.Unlock()
		return ErrAlreadyConnecting
	}
	if protocol == "" {
		protocol = s.defaultProtocol
	}
	if !selector.ValidProtocol(protocol) {
		s.mu.Unlock()
		return fmt.Errorf("unsupported protocol %q", protocol)
	}
	if nodeLabel != "" && !s.deps.Selector.HasLabel(nodeLabel) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownNode, nodeLabel)
	}

	s.epoch++
	epoch := s.epoch
	s.attempts = 0
	s.lastErr = ""
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	s.teardownOwner()

	return s.runEpisode(ctx, epoch, nodeLabel, protocol)
}

// Disconnect tears down the current connection and purges every stray
// connect process. Safe to call in any state; a second call is a no-op
// that still reports success.
// Disconnect 拆除当前连接并清除所有游离的连接进程。任何状态下调用都
// 安全；重复调用是空操作，但仍报告成功。
func (s *Supervisor) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.epoch++ // supersede any in-flight episode / 取代进行中的回合
	hadOwner := s.ownerPID != 0
	if !s.shuttingDown {
		s.setStateLocked(StateIdle)
	}
	s.ownerID, s.ownerPID, s.protocol, s.nodeLabel = "", 0, "", ""
	s.handleDone = nil
	s.fails = 0
	s.publishLocked()
	s.mu.Unlock()

	if hadOwner {
		// Give the client a chance to tear down its tunnel cleanly
		// before signalling
		// 先让客户端有机会干净地拆除隧道，再发送信号
		if err := s.deps.Launcher.Disconnect(ctx); err != nil {
			s.log.Warnf("[Supervisor] Client disconnect failed, falling back to signals: %v", err)
		}
	}

	if _, err := s.deps.Cleaner.KillAll(); err != nil {
		s.log.Warnf("[Supervisor] Signature purge failed: %v", err)
	}
	s.dropAllRecords()
	s.kickReaper()
	return nil
}

// Rotate forces a switch to a different node. Only an active
// connection rotates; in any other state the request is skipped and
// the next cycle is left to the scheduler.
// Rotate 强制切换到另一个节点。只有活跃连接才会轮换；其他状态下跳过
// 请求，把下一个周期留给调度器。
func (s *Supervisor) Rotate(ctx context.Context) error {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	if s.state != StateActive {
		st := s.state
		s.mu.Unlock()
		s.log.Infof("[Supervisor] Rotation skipped, state=%s", st)
		return nil
	}
	current := s.nodeLabel
	protocol := s.protocol
	s.epoch++
	epoch := s.epoch
	s.attempts = 0
	s.setStateLocked(StateReconnecting)
	s.mu.Unlock()

	// The rotated-away-from node sits out this one episode
	// 被换下的节点在本回合内被排除
	s.deps.Selector.ExcludeNode(current)
	s.log.Infof("[Supervisor] Rotating away from %q", current)

	s.teardownOwner()
	return s.runEpisode(ctx, epoch, "", protocol)
}

// ForceCleanup purges every matching connect process, including the
// owned one, and resets the slot to idle. Returns how many processes
// were targeted.
// ForceCleanup 清除所有匹配的连接进程（包括持有的那个），并将槽位
// 重置为空闲。返回目标进程数量。
func (s *Supervisor) ForceCleanup() (int, error) {
	s.mu.Lock()
	s.epoch++
	if !s.shuttingDown {
		s.setStateLocked(StateIdle)
	}
	s.ownerID, s.ownerPID, s.protocol, s.nodeLabel = "", 0, "", ""
	s.handleDone = nil
	s.fails = 0
	s.publishLocked()
	s.mu.Unlock()

	n, err := s.deps.Cleaner.KillAll()
	s.dropAllRecords()
	s.kickReaper()
	return n, err
}

// Shutdown stops the health loop and tears everything down. The slot
// stays in the shutting-down state; no further connects are accepted.
// Shutdown 停止健康循环并拆除一切。槽位停留在关闭状态，不再接受
// 新的连接请求。
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.shuttingDown = true
	s.epoch++
	s.setStateLocked(StateShuttingDown)
	started := s.started
	s.mu.Unlock()

	if started {
		close(s.healthDone)
		s.wg.Wait()
	}

	if err := s.deps.Launcher.Disconnect(ctx); err != nil {
		s.log.Debugf("[Supervisor] Client disconnect during shutdown: %v", err)
	}
	if _, err := s.deps.Cleaner.KillAll(); err != nil {
		s.log.Warnf("[Supervisor] Purge during shutdown failed: %v", err)
	}
	s.dropAllRecords()
	s.kickReaper()
	s.log.Infof("[Supervisor] Shut down")
}

// runEpisode tries to establish a connection within the attempt
// budget, walking the protocol preference order on each failure. Only
// the episode whose token is still current may commit the result.
// runEpisode 在尝试预算内建立连接，每次失败后沿协议优先顺序前进。
// 只有令牌仍然有效的回合才能提交结果。
func (s *Supervisor) runEpisode(ctx context.Context, epoch uint64, nodeLabel, startProtocol string) error {
	// Purge first: anything matching the connect signature at this
	// point is an unregistered stray and must not coexist with the
	// process about to be spawned
	// 先清除：此刻匹配连接签名的进程都是未注册的游离进程，不得与
	// 即将派生的进程共存
	if n, err := s.deps.Cleaner.KillAll(); err != nil {
		s.log.Warnf("[Supervisor] Pre-connect purge failed: %v", err)
	} else if n > 0 {
		s.log.Infof("[Supervisor] Pre-connect purge removed %d stray process(es)", n)
		s.kickReaper()
	}

	label := nodeLabel
	if label == "" {
		picked, ok := s.deps.Selector.PickNode()
		if !ok {
			s.failEpisode(epoch, ErrNoNodes.Error())
			return ErrNoNodes
		}
		label = picked
	}

	tried := make(map[string]bool)
	protocol := startProtocol

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			if !s.sleepBackoff(ctx, attempt) {
				s.cancelEpisode(epoch, "connect cancelled during backoff")
				return ctx.Err()
			}
		}
		if !s.epochCurrent(epoch) {
			return nil
		}

		p, ok := selector.NextProtocol(protocol, tried)
		if !ok {
			// Every protocol tried; wrap around and start over
			// 所有协议都已尝试；环绕后重新开始
			tried = make(map[string]bool)
			p, _ = selector.NextProtocol(startProtocol, tried)
		}
		tried[p] = true

		s.noteAttempt(attempt)
		s.log.Infof("[Supervisor] Attempt %d/%d: node=%q protocol=%s", attempt, s.cfg.MaxRetries, label, p)

		handle, err := s.deps.Launcher.Spawn(ctx, label, p)
		if err != nil {
			// A spawn failure is not retryable: the binary will not
			// appear between attempts
			// 派生失败不可重试：二进制不会在两次尝试之间凭空出现
			werr := fmt.Errorf("%w: %v", ErrSpawnFailed, err)
			s.failEpisode(epoch, werr.Error())
			return werr
		}

		rec := s.deps.Registry.Register(handle.PID, handle.PGID, p, label)
		s.kickReaper()

		// Anything else matching the signature loses to this spawn
		// 其他匹配签名的进程一律让位于本次派生
		if _, _, err := s.deps.Cleaner.EnforceSingle(handle.PID); err != nil {
			s.log.Warnf("[Supervisor] Single-instance enforcement failed: %v", err)
		}

		if s.confirmEstablished(ctx, handle) {
			if s.commit(epoch, rec.ID, handle, p, label) {
				return nil
			}
			// Superseded while confirming: this process must not
			// survive as an orphan
			// 确认期间被取代：该进程不能作为孤儿存活
			s.deps.Registry.Disown(rec.ID)
			s.deps.Cleaner.KillPIDs([]int{handle.PID})
			s.deps.Registry.Drop(rec.ID)
			s.kickReaper()
			return nil
		}

		// Attempt failed: make sure the corpse is gone before the
		// next protocol
		// 尝试失败：在换下一个协议前确保进程尸体已清除
		s.deps.Cleaner.KillPIDs([]int{handle.PID})
		s.deps.Registry.Drop(rec.ID)
		s.kickReaper()

		if ctx.Err() != nil {
			s.cancelEpisode(epoch, "connect cancelled while confirming")
			return ctx.Err()
		}

		s.noteError(fmt.Sprintf("connect attempt %d with %s died before confirmation", attempt, p))
		protocol = p
	}

	s.failEpisode(epoch, ErrRetriesExhausted.Error())
	return ErrRetriesExhausted
}

// confirmEstablished waits out the establishment window, polling
// process liveness. True means the process survived the whole window.
// confirmEstablished 等待建立窗口结束，轮询进程存活。返回 true 表示
// 进程在整个窗口内存活。
func (s *Supervisor) confirmEstablished(ctx context.Context, h *client.Handle) bool {
	deadline := time.After(s.cfg.EstablishTimeout)
	ticker := time.NewTicker(s.currentPollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-h.Done:
			return false
		case <-deadline:
			return s.deps.Dir.Alive(h.PID)
		case <-ticker.C:
			if !s.deps.Dir.Alive(h.PID) {
				return false
			}
		}
	}
}

// commit publishes a confirmed connection if the episode still owns
// the slot
// commit 在回合仍拥有槽位时发布已确认的连接
func (s *Supervisor) commit(epoch uint64, recID string, h *client.Handle, protocol, label string) bool {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return false
	}
	s.ownerID = recID
	s.ownerPID = h.PID
	s.protocol = protocol
	s.nodeLabel = label
	s.handleDone = h.Done
	s.fails = 0
	s.lastErr = ""
	s.setStateLocked(StateActive)
	s.mu.Unlock()

	s.deps.Selector.MarkUsed(label)
	s.deps.Selector.ClearExclusions()
	if s.deps.OnActive != nil {
		s.deps.OnActive()
	}
	s.log.Infof("[Supervisor] Connection active: pid=%d node=%q protocol=%s", h.PID, label, protocol)
	return true
}

// healthLoop watches the owned process: a confirmed death reconnects
// on the next tick, a suspicious pid after the consecutive-failure
// threshold
// healthLoop 监视持有的进程：确认死亡在下一个周期重连，可疑 pid 在
// 连续失败达到阈值后重连
func (s *Supervisor) healthLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.healthDone:
			return
		case <-ticker.C:
			s.checkHealth()
		}
	}
}

// checkHealth performs one health observation. A confirmed-dead
// process reconnects immediately; a suspicious-but-alive one counts
// toward the consecutive-failure threshold first.
// checkHealth 执行一次健康观测。确认死亡的进程立即重连；存活但可疑
// 的进程先计入连续失败阈值。
func (s *Supervisor) checkHealth() {
	s.mu.Lock()
	if s.state != StateActive && s.state != StateDegraded {
		s.mu.Unlock()
		return
	}
	pid := s.ownerPID
	done := s.handleDone
	epoch := s.epoch
	s.mu.Unlock()

	gone := !s.deps.Dir.Alive(pid)
	if !gone && done != nil {
		select {
		case <-done:
			// Waited on: the pid may already be recycled
			// 已被 wait：该 pid 可能已被复用
			gone = true
		default:
		}
	}

	// An alive pid that no longer carries the connect command line is
	// suspicious, not proof of loss: a cmdline read can fail
	// transiently, and the pid may have been recycled mid-scan
	// pid 存活但命令行不再是 connect 属于可疑而非确凿丢失：cmdline
	// 读取可能瞬时失败，pid 也可能在扫描途中被复用
	suspicious := !gone && !s.ownerSignatureIntact(pid)

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	if !gone && !suspicious {
		if s.fails > 0 || s.state == StateDegraded {
			s.log.Infof("[Supervisor] Health recovered after %d failure(s)", s.fails)
		}
		s.fails = 0
		s.setStateLocked(StateActive)
		s.mu.Unlock()
		return
	}

	if suspicious {
		s.fails++
		fails := s.fails
		if fails < s.cfg.FailThreshold {
			s.setStateLocked(StateDegraded)
			s.mu.Unlock()
			s.log.Warnf("[Supervisor] Health check failed (%d/%d)", fails, s.cfg.FailThreshold)
			return
		}
	}

	// Confirmed gone, or the threshold is spent: reconnect now, to the
	// same node with the same protocol first
	// 确认消亡或阈值用尽：立即重连，优先同一节点和原协议
	label := s.nodeLabel
	protocol := s.protocol
	s.epoch++
	newEpoch := s.epoch
	s.attempts = 0
	s.fails = 0
	s.setStateLocked(StateReconnecting)
	s.mu.Unlock()

	s.log.Warnf("[Supervisor] Connection lost (pid=%d), reconnecting to %q", pid, label)
	s.teardownOwner()

	if err := s.runEpisode(context.Background(), newEpoch, label, protocol); err != nil {
		s.log.Errorf("[Supervisor] Reconnection failed: %v", err)
	}
}

// ownerSignatureIntact reports whether the pid still carries our
// connect command line. Errors reading the table are not evidence of
// loss.
// ownerSignatureIntact 报告该 pid 是否仍带有我们的 connect 命令行。
// 读取进程表失败不作为丢失的证据。
func (s *Supervisor) ownerSignatureIntact(pid int) bool {
	entries, err := s.deps.Dir.List()
	if err != nil {
		return true
	}
	for _, e := range entries {
		if e.PID == pid {
			return s.deps.Cleaner.Matches(e)
		}
	}
	return false
}

// teardownOwner disowns and kills the current owner process, if any
// teardownOwner 剥夺并杀死当前持有的进程（如有）
func (s *Supervisor) teardownOwner() {
	s.mu.Lock()
	ownerID := s.ownerID
	ownerPID := s.ownerPID
	s.ownerID, s.ownerPID = "", 0
	s.handleDone = nil
	s.mu.Unlock()

	if ownerPID == 0 {
		return
	}
	if ownerID != "" {
		s.deps.Registry.Disown(ownerID)
	}
	// Kill only while the pid still carries the connect signature: a
	// recycled pid belongs to someone else
	// 仅在 pid 仍带 connect 特征时击杀：被复用的 pid 属于别人
	if s.ownerSignatureIntact(ownerPID) {
		s.deps.Cleaner.KillPIDs([]int{ownerPID})
	}
	if ownerID != "" {
		s.deps.Registry.Drop(ownerID)
	}
	s.kickReaper()
}

// cancelEpisode resets the slot to idle when the caller abandons the
// episode. Without this, a cancelled connect would leave the slot
// published as connecting with nothing in flight, and every later
// connect would bounce off the in-progress check.
// cancelEpisode 在调用方放弃回合时将槽位重置为空闲。否则被取消的
// 连接会让槽位停留在连接中状态而实际无事可做，后续连接全部被
// 进行中检查拒绝。
func (s *Supervisor) cancelEpisode(epoch uint64, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	s.lastErr = msg
	s.ownerID, s.ownerPID, s.protocol, s.nodeLabel = "", 0, "", ""
	s.handleDone = nil
	s.setStateLocked(StateIdle)
}

// failEpisode records a terminal episode failure if still current
// failEpisode 在回合仍有效时记录终态失败
func (s *Supervisor) failEpisode(epoch uint64, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	s.lastErr = msg
	s.ownerID, s.ownerPID, s.protocol, s.nodeLabel = "", 0, "", ""
	s.handleDone = nil
	s.setStateLocked(StateFailed)
}

// sleepBackoff waits the backoff delay for the attempt; false when the
// context was cancelled
// sleepBackoff 等待该次尝试的退避延迟；上下文被取消时返回 false
func (s *Supervisor) sleepBackoff(ctx context.Context, attempt int) bool {
	delays := s.cfg.BackoffDelays
	if len(delays) == 0 {
		return true
	}
	idx := attempt - 2
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	if idx < 0 {
		idx = 0
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delays[idx]):
		return true
	}
}

// epochCurrent reports whether the episode token is still valid
// epochCurrent 报告回合令牌是否仍然有效
func (s *Supervisor) epochCurrent(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return epoch == s.epoch
}

// noteAttempt publishes the attempt counter
// noteAttempt 发布尝试计数
func (s *Supervisor) noteAttempt(attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = attempt
	s.publishLocked()
}

// noteError publishes a non-terminal error message
// noteError 发布非终态的错误信息
func (s *Supervisor) noteError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = msg
	s.publishLocked()
}

// setStateLocked transitions the state and republishes; caller holds mu
// setStateLocked 转换状态并重新发布快照；调用方持有 mu
func (s *Supervisor) setStateLocked(st State) {
	if s.state != st {
		s.state = st
		s.since = time.Now()
	}
	s.publishLocked()
}

// publishLocked stores a fresh immutable snapshot; caller holds mu
// publishLocked 保存新的不可变快照；调用方持有 mu
func (s *Supervisor) publishLocked() {
	s.snap.Store(&Snapshot{
		State:            s.state,
		PID:              s.ownerPID,
		Protocol:         s.protocol,
		NodeLabel:        s.nodeLabel,
		Since:            s.since,
		ConsecutiveFails: s.fails,
		Attempts:         s.attempts,
		LastError:        s.lastErr,
	})
}

// currentPollInterval reads the poll pacing under the lock
// currentPollInterval 在锁内读取轮询节奏
func (s *Supervisor) currentPollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollInterval
}

// dropAllRecords clears the registry
// dropAllRecords 清空注册表
func (s *Supervisor) dropAllRecords() {
	if owner, ok := s.deps.Registry.Owner(); ok {
		s.deps.Registry.Disown(owner.ID)
		s.deps.Registry.Drop(owner.ID)
	}
	for _, rec := range s.deps.Registry.Orphans() {
		s.deps.Registry.Drop(rec.ID)
	}
}

// kickReaper requests prompt zombie collection
// kickReaper 请求及时回收僵尸进程
func (s *Supervisor) kickReaper() {
	if s.deps.KickReaper != nil {
		s.deps.KickReaper()
	}
}
