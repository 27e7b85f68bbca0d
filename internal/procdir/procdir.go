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

// Package procdir abstracts the host process table. All other packages
// observe and signal processes through the Directory interface, never
// through /proc or kill(2) directly, so tests can substitute a fake.
// procdir 包抽象主机进程表。其他包只通过 Directory 接口观察和发送信号，
// 不直接访问 /proc 或调用 kill(2)，以便测试注入假实现。
package procdir

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Entry is one process observed in the process table
// Entry 表示进程表中观察到的一个进程
type Entry struct {
	// PID is the process ID / 进程 ID
	PID int

	// Argv is the command line split on NUL bytes; empty for kernel
	// threads and processes we cannot read
	// Argv 是按 NUL 分割的命令行；内核线程或不可读进程为空
	Argv []string
}

// Directory provides read and signal access to the host process table
// Directory 提供对主机进程表的读取和信号发送能力
type Directory interface {
	// List returns a snapshot of all visible processes
	// List 返回所有可见进程的快照
	List() ([]Entry, error)

	// Alive reports whether the process exists (signal 0 probe)
	// Alive 报告进程是否存在（信号 0 探测）
	Alive(pid int) bool

	// Signal sends a signal to a single process
	// Signal 向单个进程发送信号
	Signal(pid int, sig syscall.Signal) error

	// SignalGroup sends a signal to a whole process group
	// SignalGroup 向整个进程组发送信号
	SignalGroup(pgid int, sig syscall.Signal) error

	// StartTicks returns the kernel start time of the process in clock
	// ticks since boot; used to order processes by age
	// StartTicks 返回进程自系统启动以来的内核启动时间（时钟滴答数），
	// 用于按进程年龄排序
	StartTicks(pid int) (uint64, error)
}

// ProcFS is the /proc-backed Directory used in production
// ProcFS 是生产环境使用的基于 /proc 的 Directory 实现
type ProcFS struct {
	// Root is the proc mount point, normally "/proc"
	// Root 是 proc 挂载点，通常为 "/proc"
	Root string
}

// NewProcFS creates a Directory backed by the live /proc filesystem
// NewProcFS 创建基于实际 /proc 文件系统的 Directory
func NewProcFS() *ProcFS {
	return &ProcFS{Root: "/proc"}
}

// List scans the proc root for numeric entries and reads each cmdline.
// Processes that vanish mid-scan are skipped silently.
// List 扫描 proc 根目录下的数字条目并读取各自的 cmdline。
// 扫描过程中消失的进程被静默跳过。
func (d *ProcFS) List() ([]Entry, error) {
	dirents, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", d.Root, err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		pid, err := strconv.Atoi(de.Name())
		if err != nil || pid <= 0 {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(d.Root, de.Name(), "cmdline"))
		if err != nil {
			// Process exited between ReadDir and ReadFile
			// 进程在 ReadDir 和 ReadFile 之间退出
			continue
		}

		entries = append(entries, Entry{PID: pid, Argv: splitCmdline(raw)})
	}

	return entries, nil
}

// Alive checks process existence with a null signal. EPERM means the
// process exists but belongs to another user, which still counts as
// alive.
// Alive 使用空信号检查进程是否存在。EPERM 表示进程存在但属于其他
// 用户，同样视为存活。
func (d *ProcFS) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// Signal sends a signal to a single process
// Signal 向单个进程发送信号
func (d *ProcFS) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	return syscall.Kill(pid, sig)
}

// SignalGroup sends a signal to the whole process group
// SignalGroup 向整个进程组发送信号
func (d *ProcFS) SignalGroup(pgid int, sig syscall.Signal) error {
	if pgid <= 0 {
		return fmt.Errorf("invalid pgid: %d", pgid)
	}
	return syscall.Kill(-pgid, sig)
}

// StartTicks parses field 22 of /proc/<pid>/stat. The comm field may
// contain spaces and parentheses, so parsing starts after the last ')'.
// StartTicks 解析 /proc/<pid>/stat 的第 22 个字段。comm 字段可能包含
// 空格和括号，因此从最后一个 ')' 之后开始解析。
func (d *ProcFS) StartTicks(pid int) (uint64, error) {
	raw, err := os.ReadFile(filepath.Join(d.Root, strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, fmt.Errorf("failed to read stat for pid %d: %w", pid, err)
	}

	idx := bytes.LastIndexByte(raw, ')')
	if idx < 0 {
		return 0, fmt.Errorf("malformed stat for pid %d", pid)
	}

	fields := strings.Fields(string(raw[idx+1:]))
	// Field 3 of the full stat line is the first after comm; starttime
	// is field 22, so index 19 in the post-comm slice.
	// stat 行的第 3 个字段是 comm 之后的第一个；starttime 是第 22 个
	// 字段，即 comm 之后切片的下标 19。
	if len(fields) < 20 {
		return 0, fmt.Errorf("short stat for pid %d", pid)
	}

	ticks, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad starttime for pid %d: %w", pid, err)
	}
	return ticks, nil
}

// splitCmdline splits a NUL-separated cmdline into argv tokens
// splitCmdline 将 NUL 分隔的 cmdline 切分为 argv 令牌
func splitCmdline(raw []byte) []string {
	raw = bytes.TrimRight(raw, "\x00")
	if len(raw) == 0 {
		return nil
	}
	parts := bytes.Split(raw, []byte{0})
	argv := make([]string, 0, len(parts))
	for _, p := range parts {
		argv = append(argv, string(p))
	}
	return argv
}
