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

// Package reaper collects exited child processes so they never linger
// as zombies. The external client forks helpers that die at their own
// pace; the daemon is their parent and must wait on them.
// reaper 包回收已退出的子进程，避免它们残留为僵尸。外部客户端派生的
// 辅助进程会各自退出；守护进程是它们的父进程，必须对其 wait。
package reaper

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reaper drains exited children on an interval and on demand
// Reaper 按周期和按需回收已退出的子进程
type Reaper struct {
	interval time.Duration
	log      *zap.SugaredLogger

	// collect drains all immediately-waitable children and returns how
	// many were reaped; replaceable in tests
	// collect 回收所有可立即 wait 的子进程并返回数量；测试中可替换
	collect func() int

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New creates a Reaper with the given cycle interval
// New 创建指定周期的 Reaper
func New(interval time.Duration, log *zap.SugaredLogger) *Reaper {
	return &Reaper{
		interval: interval,
		log:      log,
		collect:  drainExited,
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the reap loop
// Start 启动回收循环
func (r *Reaper) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true

	r.wg.Add(1)
	go r.loop()
	r.log.Infof("[Reaper] Started, interval=%v", r.interval)
}

// Stop terminates the reap loop and waits for it to exit
// Stop 终止回收循环并等待其退出
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()
	r.log.Infof("[Reaper] Stopped")
}

// Kick requests an immediate reap cycle without waiting for the tick.
// Called after every spawn and kill so corpses are collected promptly.
// Kick 请求立即执行一次回收，不等待定时器。在每次派生和杀进程后调用，
// 使尸体被及时回收。
func (r *Reaper) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
		// A cycle is already pending / 已有待处理的回收请求
	}
}

// loop runs reap cycles until stopped
// loop 运行回收循环直到停止
func (r *Reaper) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			// Final drain on shutdown / 关闭时最后回收一次
			r.reapOnce()
			return
		case <-ticker.C:
			r.reapOnce()
		case <-r.kick:
			r.reapOnce()
		}
	}
}

// reapOnce drains and logs one cycle
// reapOnce 执行并记录一次回收
func (r *Reaper) reapOnce() {
	if n := r.collect(); n > 0 {
		r.log.Infof("[Reaper] Collected %d exited child process(es)", n)
	}
}
