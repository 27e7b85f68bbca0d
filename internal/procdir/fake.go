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

package procdir

import (
	"sort"
	"sync"
	"syscall"
)

// FakeProc is one simulated process inside a Fake directory
// FakeProc 是 Fake 目录中的一个模拟进程
type FakeProc struct {
	PID        int
	PGID       int
	Argv       []string
	StartTicks uint64

	// DiesOnTerm controls whether SIGTERM removes the process; when
	// false only SIGKILL does, simulating a stuck client
	// DiesOnTerm 控制 SIGTERM 是否移除该进程；为 false 时只有
	// SIGKILL 有效，模拟卡死的客户端
	DiesOnTerm bool
}

// SentSignal records one signal delivery for assertions
// SentSignal 记录一次信号投递，供断言使用
type SentSignal struct {
	PID     int // negative when sent to a group / 发送给进程组时为负
	Signal  syscall.Signal
	ToGroup bool
}

// Fake is an in-memory Directory for tests. All methods are safe for
// concurrent use.
// Fake 是用于测试的内存 Directory 实现。所有方法并发安全。
type Fake struct {
	mu      sync.Mutex
	procs   map[int]*FakeProc
	signals []SentSignal
}

// NewFake creates an empty fake process table
// NewFake 创建一个空的假进程表
func NewFake() *Fake {
	return &Fake{procs: make(map[int]*FakeProc)}
}

// Add inserts a simulated process
// Add 插入一个模拟进程
func (f *Fake) Add(p FakeProc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.PGID == 0 {
		p.PGID = p.PID
	}
	cp := p
	f.procs[p.PID] = &cp
}

// Remove deletes a process as if it exited on its own
// Remove 删除一个进程，如同它自行退出
func (f *Fake) Remove(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.procs, pid)
}

// Signals returns a copy of every signal delivered so far
// Signals 返回至今投递的所有信号的副本
func (f *Fake) Signals() []SentSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentSignal, len(f.signals))
	copy(out, f.signals)
	return out
}

// List returns the simulated process table sorted by pid
// List 返回按 pid 排序的模拟进程表
func (f *Fake) List() ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := make([]Entry, 0, len(f.procs))
	for _, p := range f.procs {
		argv := make([]string, len(p.Argv))
		copy(argv, p.Argv)
		entries = append(entries, Entry{PID: p.PID, Argv: argv})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].PID < entries[j].PID })
	return entries, nil
}

// Alive reports whether the simulated process still exists
// Alive 报告模拟进程是否仍然存在
func (f *Fake) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.procs[pid]
	return ok
}

// Signal delivers a signal to one simulated process
// Signal 向一个模拟进程投递信号
func (f *Fake) Signal(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, SentSignal{PID: pid, Signal: sig})
	p, ok := f.procs[pid]
	if !ok {
		return syscall.ESRCH
	}
	f.applyLocked(p, sig)
	return nil
}

// SignalGroup delivers a signal to every member of a simulated group
// SignalGroup 向模拟进程组的每个成员投递信号
func (f *Fake) SignalGroup(pgid int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, SentSignal{PID: -pgid, Signal: sig, ToGroup: true})
	found := false
	for _, p := range f.procs {
		if p.PGID == pgid {
			found = true
			f.applyLocked(p, sig)
		}
	}
	if !found {
		return syscall.ESRCH
	}
	return nil
}

// StartTicks returns the simulated start time
// StartTicks 返回模拟的启动时间
func (f *Fake) StartTicks(pid int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.procs[pid]
	if !ok {
		return 0, syscall.ESRCH
	}
	return p.StartTicks, nil
}

// applyLocked mutates the table for a delivered signal; caller holds mu
// applyLocked 根据投递的信号修改进程表；调用方持有 mu
func (f *Fake) applyLocked(p *FakeProc, sig syscall.Signal) {
	switch sig {
	case syscall.SIGKILL:
		delete(f.procs, p.PID)
	case syscall.SIGTERM:
		if p.DiesOnTerm {
			delete(f.procs, p.PID)
		}
	}
}

var _ Directory = (*Fake)(nil)
var _ Directory = (*ProcFS)(nil)
