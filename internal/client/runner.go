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

// Package client invokes the external VPN client binary. It owns the
// three subcommands the daemon uses: `connect` (long-running, spawned
// as a process-group leader with the protocol written to stdin),
// `list` (node discovery) and `disconnect` (clean teardown).
// client 包负责调用外部 VPN 客户端二进制。守护进程使用其三个子命令：
// connect（长驻运行，作为进程组长派生，协议写入 stdin）、list（节点
// 发现）和 disconnect（干净断开）。
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/RorschachE0/AjiPilot/internal/config"
)

// BinaryEnvVar overrides binary discovery when set
// BinaryEnvVar 设置后覆盖二进制文件的查找
const BinaryEnvVar = "AJIPILOT_KEEPER_BINARY"

// ErrBinaryNotFound indicates the client binary could not be located
// ErrBinaryNotFound 表示无法定位客户端二进制文件
var ErrBinaryNotFound = errors.New("client binary not found")

// Handle represents one running `connect` process
// Handle 表示一个运行中的 connect 进程
type Handle struct {
	// PID and PGID of the connect process; the process is spawned as
	// its own group leader so PGID == PID
	// connect 进程的 PID 和 PGID；进程作为组长派生，故 PGID == PID
	PID  int
	PGID int

	// Done is closed after the process has been waited on; it carries
	// at most one exit error
	// Done 在进程被 wait 后关闭，最多携带一个退出错误
	Done <-chan error
}

// Runner invokes the external client binary
// Runner 负责调用外部客户端二进制
type Runner struct {
	cfg config.KeeperConfig
	log *zap.SugaredLogger
}

// NewRunner creates a Runner
// NewRunner 创建 Runner
func NewRunner(cfg config.KeeperConfig, log *zap.SugaredLogger) *Runner {
	return &Runner{cfg: cfg, log: log}
}

// Locate finds the client binary. Resolution order: override env var,
// configured explicit path, configured base directory, then PATH.
// Locate 查找客户端二进制。解析顺序：环境变量覆盖、配置的显式路径、
// 配置的基础目录、最后是 PATH。
func (r *Runner) Locate() (string, error) {
	if p := os.Getenv(BinaryEnvVar); p != "" {
		if isExecutable(p) {
			return p, nil
		}
		return "", fmt.Errorf("%w: %s from %s is not executable", ErrBinaryNotFound, p, BinaryEnvVar)
	}

	if r.cfg.BinaryPath != "" && isExecutable(r.cfg.BinaryPath) {
		return r.cfg.BinaryPath, nil
	}

	if r.cfg.BaseDir != "" {
		p := filepath.Join(r.cfg.BaseDir, r.cfg.BinaryName)
		if isExecutable(p) {
			return p, nil
		}
	}

	if p, err := exec.LookPath(r.cfg.BinaryName); err == nil {
		return p, nil
	}

	return "", fmt.Errorf("%w: %q not in configured paths or PATH", ErrBinaryNotFound, r.cfg.BinaryName)
}

// Spawn starts `<binary> connect "<label>"` as a process-group leader.
// The client prompts for a protocol on startup, so the chosen protocol
// is written to its stdin. Stdout and stderr are discarded; the client
// logs through its own channels.
// Spawn 以进程组长身份启动 `<binary> connect "<label>"`。客户端启动时
// 会在 stdin 上询问协议，因此将所选协议写入其 stdin。stdout 和 stderr
// 被丢弃，客户端有自己的日志渠道。
func (r *Runner) Spawn(ctx context.Context, nodeLabel, protocol string) (*Handle, error) {
	bin, err := r.Locate()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(bin, "connect", nodeLabel)
	if r.cfg.BaseDir != "" {
		cmd.Dir = r.cfg.BaseDir
	}
	cmd.Stdin = strings.NewReader(protocol + "\n")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	setProcGroupAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s connect: %w", r.cfg.BinaryName, err)
	}

	pid := cmd.Process.Pid
	r.log.Infof("[Client] Spawned connect pid=%d node=%q protocol=%s", pid, nodeLabel, protocol)

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
		close(done)
	}()

	return &Handle{PID: pid, PGID: pid, Done: done}, nil
}

// List runs the `list` subcommand and parses its output. The listing
// is both the node inventory and the account summary.
// List 运行 list 子命令并解析其输出。结果同时包含节点清单和账户信息。
func (r *Runner) List(ctx context.Context) (Listing, error) {
	bin, err := r.Locate()
	if err != nil {
		return Listing{}, err
	}

	timeout := r.cfg.ListTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, "list")
	if r.cfg.BaseDir != "" {
		cmd.Dir = r.cfg.BaseDir
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		return Listing{}, fmt.Errorf("%s list failed: %w (output: %s)",
			r.cfg.BinaryName, err, truncate(string(out), 512))
	}

	listing := ParseListing(string(out))
	r.log.Debugf("[Client] Listed %d nodes", len(listing.Nodes))
	return listing, nil
}

// Disconnect runs the client's own `disconnect` subcommand. A non-zero
// exit is reported but is not fatal; callers fall back to signalling.
// Disconnect 运行客户端自带的 disconnect 子命令。非零退出码会被上报
// 但不致命，调用方回退到信号方式。
func (r *Runner) Disconnect(ctx context.Context) error {
	bin, err := r.Locate()
	if err != nil {
		return err
	}

	timeout := r.cfg.DisconnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, "disconnect")
	if r.cfg.BaseDir != "" {
		cmd.Dir = r.cfg.BaseDir
	}

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s disconnect failed: %w (output: %s)",
			r.cfg.BinaryName, err, truncate(string(out), 512))
	}
	return nil
}

// isExecutable checks that the path is a regular file with an execute bit
// isExecutable 检查路径是否为带执行位的普通文件
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}

// truncate limits command output embedded in error messages
// truncate 限制嵌入错误消息的命令输出长度
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
