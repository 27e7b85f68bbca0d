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

// Package rotation schedules periodic forced node switches. Each cycle
// waits a uniformly random interval so the switch time is not
// predictable, then invokes the rotate callback. Whether a rotation
// actually happens is the callback's decision; the scheduler always
// redraws and rearms.
// rotation 包调度周期性的强制节点切换。每个周期等待一个均匀随机的
// 间隔，使切换时间不可预测，然后调用轮换回调。是否真正轮换由回调
// 决定；调度器总是重新抽取间隔并重新武装定时器。
package rotation

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler arms a one-shot rotation timer with a random interval
// Scheduler 以随机间隔武装一次性轮换定时器
type Scheduler struct {
	min, max time.Duration
	onFire   func()
	log      *zap.SugaredLogger

	now  func() time.Time
	rand *rand.Rand

	mu      sync.Mutex
	timer   *time.Timer
	nextAt  time.Time
	running bool
}

// New creates a Scheduler drawing intervals from [min, max). onFire is
// called from the timer goroutine on every expiry.
// New 创建从 [min, max) 抽取间隔的 Scheduler。onFire 在每次定时器到期
// 时从定时器 goroutine 调用。
func New(min, max time.Duration, onFire func(), log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		min:    min,
		max:    max,
		onFire: onFire,
		log:    log,
		now:    time.Now,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetClock replaces the time source, for tests
// SetClock 替换时间源，供测试使用
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetRand replaces the random source, for tests
// SetRand 替换随机源，供测试使用
func (s *Scheduler) SetRand(r *rand.Rand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rand = r
}

// Start arms the first timer
// Start 武装第一个定时器
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.armLocked()
}

// Stop disarms the timer
// Stop 解除定时器
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.log.Infof("[Rotation] Stopped")
}

// Reset discards the pending timer and draws a fresh interval; called
// whenever a connection activates so the cycle starts from that moment
// Reset 丢弃待触发的定时器并抽取新的间隔；在连接激活时调用，使周期
// 从该时刻重新开始
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.armLocked()
}

// NextFireTime returns when the pending rotation is due (zero when not
// running)
// NextFireTime 返回待触发轮换的时间（未运行时为零值）
func (s *Scheduler) NextFireTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	return s.nextAt
}

// DrawInterval returns one uniformly random interval in [min, max)
// DrawInterval 返回 [min, max) 内的一个均匀随机间隔
func (s *Scheduler) DrawInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawLocked()
}

// drawLocked draws an interval; caller holds mu
// drawLocked 抽取间隔；调用方持有 mu
func (s *Scheduler) drawLocked() time.Duration {
	span := int64(s.max - s.min)
	if span <= 0 {
		return s.min
	}
	return s.min + time.Duration(s.rand.Int63n(span))
}

// armLocked draws an interval and arms the timer; caller holds mu
// armLocked 抽取间隔并武装定时器；调用方持有 mu
func (s *Scheduler) armLocked() {
	interval := s.drawLocked()
	s.nextAt = s.now().Add(interval)
	s.log.Infof("[Rotation] Next rotation in %v (at %s)", interval.Round(time.Second), s.nextAt.Format(time.RFC3339))

	s.timer = time.AfterFunc(interval, func() {
		s.onFire()

		// Rearm unconditionally; a rotation skipped because the
		// connection is not active still schedules the next one.
		// 无条件重新武装；因连接未激活而跳过的轮换同样调度下一次。
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.running {
			s.armLocked()
		}
	})
}
