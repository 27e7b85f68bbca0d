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

// Package cleaner purges stray connect processes from the host. Any
// process whose command line matches the client's connect signature
// and that is not the registered owner is killed, never adopted: an
// adopted process would carry unknown protocol and node state.
// cleaner 包清除主机上的游离连接进程。命令行匹配客户端 connect 签名
// 且不是注册持有者的进程一律被杀死，绝不接管：被接管的进程会带有
// 未知的协议和节点状态。
package cleaner

import (
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/RorschachE0/AjiPilot/internal/procdir"
)

// Default kill pacing. The settle delay gives a group a moment to act
// on SIGTERM before the first liveness check; the deadline bounds the
// whole escalation.
// 默认的杀进程节奏。settle 给进程组在首次存活检查前响应 SIGTERM 的
// 时间；deadline 限制整个升级过程的时长。
const (
	DefaultSettle   = 250 * time.Millisecond
	DefaultDeadline = 5 * time.Second
)

// Options tunes the kill escalation pacing
// Options 调整杀进程升级的节奏
type Options struct {
	Settle   time.Duration
	Deadline time.Duration
}

// Cleaner finds and kills stray connect processes
// Cleaner 查找并杀死游离的连接进程
type Cleaner struct {
	dir        procdir.Directory
	binaryName string
	settle     time.Duration
	deadline   time.Duration
	log        *zap.SugaredLogger
}

// New creates a Cleaner matching processes of the given binary name
// New 创建匹配给定二进制名的 Cleaner
func New(dir procdir.Directory, binaryName string, log *zap.SugaredLogger, opts Options) *Cleaner {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	return &Cleaner{
		dir:        dir,
		binaryName: binaryName,
		settle:     opts.Settle,
		deadline:   opts.Deadline,
		log:        log,
	}
}

// Matches reports whether the entry is a connect invocation of the
// client binary: executable basename equals the binary name and the
// first argument is "connect". Matching on argv tokens rather than a
// substring avoids killing editors or shells whose command line merely
// mentions the binary.
// Matches 报告该条目是否为客户端的 connect 调用：可执行文件 basename
// 等于二进制名且第一个参数为 "connect"。按 argv 令牌匹配而非子串，
// 避免误杀命令行中仅提及该名字的编辑器或 shell。
func (c *Cleaner) Matches(e procdir.Entry) bool {
	if len(e.Argv) < 2 {
		return false
	}
	return filepath.Base(e.Argv[0]) == c.binaryName && e.Argv[1] == "connect"
}

// CollectPIDs scans the process table for matching connects
// CollectPIDs 扫描进程表收集匹配的连接进程
func (c *Cleaner) CollectPIDs() ([]int, error) {
	entries, err := c.dir.List()
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, e := range entries {
		if c.Matches(e) {
			pids = append(pids, e.PID)
		}
	}
	sort.Ints(pids)
	return pids, nil
}

// KillAll purges every matching connect process and returns how many
// were targeted. A second sweep catches processes that appeared while
// the first batch was being killed.
// KillAll 清除所有匹配的连接进程并返回目标数量。第二次扫描捕获在
// 第一批被杀期间出现的进程。
func (c *Cleaner) KillAll() (int, error) {
	pids, err := c.CollectPIDs()
	if err != nil {
		return 0, err
	}
	if len(pids) == 0 {
		return 0, nil
	}

	c.log.Infof("[Cleaner] Purging %d stray connect process(es): %v", len(pids), pids)
	c.KillPIDs(pids)

	// Second sweep for stragglers / 第二次扫描处理漏网进程
	if again, err := c.CollectPIDs(); err == nil && len(again) > 0 {
		c.log.Warnf("[Cleaner] %d connect process(es) survived first sweep: %v", len(again), again)
		c.KillPIDs(again)
	}

	return len(pids), nil
}

// KillPIDs terminates the given processes: group SIGTERM first, a short
// settle, then a bounded confirm loop that escalates to group SIGKILL.
// KillPIDs 终止给定进程：先向进程组发 SIGTERM，短暂等待，然后在有限
// 时间内循环确认并升级为进程组 SIGKILL。
func (c *Cleaner) KillPIDs(pids []int) {
	if len(pids) == 0 {
		return
	}

	for _, pid := range pids {
		c.signalGroupOrPid(pid, syscall.SIGTERM)
	}
	time.Sleep(c.settle)

	deadline := time.Now().Add(c.deadline)
	remaining := pids
	for len(remaining) > 0 && time.Now().Before(deadline) {
		var alive []int
		for _, pid := range remaining {
			if !c.dir.Alive(pid) {
				continue
			}
			c.signalGroupOrPid(pid, syscall.SIGKILL)
			alive = append(alive, pid)
		}
		remaining = alive
		if len(remaining) > 0 {
			time.Sleep(c.settle)
		}
	}

	if len(remaining) > 0 {
		c.log.Errorf("[Cleaner] Process(es) still alive after SIGKILL: %v", remaining)
	}
}

// EnforceSingle guarantees at most one matching connect survives. The
// preferred pid wins when it is among the matches; otherwise the
// newest process by kernel start time is kept. Returns the kept pid
// (0 when none) and the pids that were killed.
// EnforceSingle 保证最多只有一个匹配的连接存活。preferred pid 在匹配
// 集合中时胜出，否则保留内核启动时间最新的进程。返回保留的 pid
// （无则为 0）和被杀的 pid 列表。
func (c *Cleaner) EnforceSingle(preferredPID int) (int, []int, error) {
	pids, err := c.CollectPIDs()
	if err != nil {
		return 0, nil, err
	}
	if len(pids) <= 1 {
		kept := 0
		if len(pids) == 1 {
			kept = pids[0]
		}
		return kept, nil, nil
	}

	kept := 0
	if preferredPID > 0 {
		for _, pid := range pids {
			if pid == preferredPID {
				kept = pid
				break
			}
		}
	}
	if kept == 0 {
		kept = c.newest(pids)
	}

	var victims []int
	for _, pid := range pids {
		if pid != kept {
			victims = append(victims, pid)
		}
	}

	c.log.Warnf("[Cleaner] Multiple connect processes found, keeping pid=%d, killing %v", kept, victims)
	c.KillPIDs(victims)
	return kept, victims, nil
}

// newest returns the pid with the greatest kernel start time; ties and
// unreadable stats fall back to the largest pid
// newest 返回内核启动时间最大的 pid；无法读取时回退到最大的 pid
func (c *Cleaner) newest(pids []int) int {
	best := pids[0]
	var bestTicks uint64
	for _, pid := range pids {
		ticks, err := c.dir.StartTicks(pid)
		if err != nil {
			continue
		}
		if ticks > bestTicks || (ticks == bestTicks && pid > best) {
			best, bestTicks = pid, ticks
		}
	}
	return best
}

// signalGroupOrPid targets the process group first; connects are group
// leaders, but a fallback to the single pid covers re-parented strays
// signalGroupOrPid 优先向进程组发信号；connect 进程是组长，但对单个
// pid 的回退覆盖了被重新收养的游离进程
func (c *Cleaner) signalGroupOrPid(pid int, sig syscall.Signal) {
	if err := c.dir.SignalGroup(pid, sig); err != nil {
		if err := c.dir.Signal(pid, sig); err != nil && err != syscall.ESRCH {
			c.log.Debugf("[Cleaner] Signal %v to pid %d failed: %v", sig, pid, err)
		}
	}
}
