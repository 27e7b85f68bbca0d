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

// Package selector holds the connection policy: which protocol to try
// next and which node to connect to. It also caches the latest node
// listing so connect requests can be validated without re-running the
// external client.
// selector 包保存连接策略：下一个尝试的协议和要连接的节点。它同时
// 缓存最新的节点列表，使连接请求无需重新运行外部客户端即可校验。
package selector

import (
	"sync"
	"time"

	"github.com/RorschachE0/AjiPilot/internal/client"
)

// Supported protocols in preference order. lwip is the tunnel mode the
// client defaults to; proxy is the last resort.
// 支持的协议，按优先顺序排列。lwip 是客户端默认的隧道模式，proxy 是
// 最后的选择。
const (
	ProtocolLwip  = "lwip"
	ProtocolTCP   = "tcp"
	ProtocolUDP   = "udp"
	ProtocolProxy = "proxy"
)

// PreferenceOrder is the fixed protocol ranking
// PreferenceOrder 是固定的协议优先级排序
var PreferenceOrder = []string{ProtocolLwip, ProtocolTCP, ProtocolUDP, ProtocolProxy}

// ValidProtocol reports whether p names a supported protocol
// ValidProtocol 报告 p 是否为支持的协议
func ValidProtocol(p string) bool {
	for _, q := range PreferenceOrder {
		if p == q {
			return true
		}
	}
	return false
}

// NextProtocol returns the first protocol, starting at `start` and
// wrapping through the preference order, that is not in `tried`. The
// second return is false when every protocol has been tried.
// NextProtocol 从 start 开始按优先顺序环绕查找第一个不在 tried 中的
// 协议。所有协议都已尝试过时第二个返回值为 false。
func NextProtocol(start string, tried map[string]bool) (string, bool) {
	offset := 0
	for i, p := range PreferenceOrder {
		if p == start {
			offset = i
			break
		}
	}
	for i := 0; i < len(PreferenceOrder); i++ {
		p := PreferenceOrder[(offset+i)%len(PreferenceOrder)]
		if !tried[p] {
			return p, true
		}
	}
	return "", false
}

// Selector caches the node listing and picks nodes least-recently-used
// first. Exclusions are episode-scoped: a rotation excludes the node
// being rotated away from until the next activation.
// Selector 缓存节点列表并按最久未使用优先挑选节点。排除是按回合的：
// 轮换排除被换下的节点，直到下一次激活为止。
type Selector struct {
	mu sync.Mutex

	listing  client.Listing
	listedAt time.Time

	lastUsed map[string]time.Time
	excluded map[string]bool

	defaultLabel string
	now          func() time.Time
}

// New creates a Selector. defaultLabel may be empty.
// New 创建 Selector。defaultLabel 可以为空。
func New(defaultLabel string) *Selector {
	return &Selector{
		lastUsed:     make(map[string]time.Time),
		excluded:     make(map[string]bool),
		defaultLabel: defaultLabel,
		now:          time.Now,
	}
}

// SetClock replaces the time source, for tests
// SetClock 替换时间源，供测试使用
func (s *Selector) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// UpdateListing stores a fresh node listing
// UpdateListing 保存最新的节点列表
func (s *Selector) UpdateListing(l client.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listing = l
	s.listedAt = s.now()
}

// Listing returns the cached listing and when it was taken
// Listing 返回缓存的列表及其获取时间
func (s *Selector) Listing() (client.Listing, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listing, s.listedAt
}

// HasLabel reports whether the cached listing contains the label.
// An empty cache accepts any label; validation is best-effort.
// HasLabel 报告缓存列表是否包含该标签。缓存为空时接受任意标签，
// 校验是尽力而为的。
func (s *Selector) HasLabel(label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listing.Nodes) == 0 {
		return true
	}
	_, ok := s.listing.FindLabel(label)
	return ok
}

// PickNode chooses the least-recently-used available node that is not
// excluded, falling back to any non-excluded node, then to the default
// label. Returns false when nothing is selectable.
// PickNode 选择最久未使用且未被排除的可用节点，依次回退到任意未排除
// 节点、默认标签。没有可选项时返回 false。
func (s *Selector) PickNode() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if label, ok := s.pickLocked(true); ok {
		return label, true
	}
	if label, ok := s.pickLocked(false); ok {
		return label, true
	}
	if s.defaultLabel != "" && !s.excluded[s.defaultLabel] {
		return s.defaultLabel, true
	}
	return "", false
}

// pickLocked scans for the LRU candidate; availableOnly restricts to
// nodes whose status flag is set. Caller holds mu.
// pickLocked 扫描最久未使用的候选；availableOnly 限定状态可用的节点。
// 调用方持有 mu。
func (s *Selector) pickLocked(availableOnly bool) (string, bool) {
	var (
		best     string
		bestTime time.Time
		found    bool
	)
	for _, n := range s.listing.Nodes {
		if s.excluded[n.Label] {
			continue
		}
		if availableOnly && !n.Available() {
			continue
		}
		used := s.lastUsed[n.Label]
		if !found || used.Before(bestTime) {
			best, bestTime, found = n.Label, used, true
		}
	}
	return best, found
}

// MarkUsed records that the node was just connected to
// MarkUsed 记录该节点刚被连接
func (s *Selector) MarkUsed(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed[label] = s.now()
}

// ExcludeNode removes a node from consideration for the current episode
// ExcludeNode 在当前回合内将节点排除
func (s *Selector) ExcludeNode(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if label != "" {
		s.excluded[label] = true
	}
}

// ClearExclusions ends the episode-scoped exclusions; called when the
// connection reaches the active state
// ClearExclusions 清除回合内的排除；在连接进入活跃状态时调用
func (s *Selector) ClearExclusions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.excluded = make(map[string]bool)
}
