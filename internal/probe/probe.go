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

// Package probe looks up the host's external IP address through public
// echo endpoints. Results are advisory: they are shown to operators
// and never influence supervision decisions.
// probe 包通过公共回显端点查询主机的外网 IP。结果仅供参考：展示给
// 运维人员，绝不影响监督决策。
package probe

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RorschachE0/AjiPilot/internal/config"
)

// Unknown is returned when every endpoint fails
// Unknown 在所有端点均失败时返回
const Unknown = "unknown"

// maxBody bounds the response read; an IP is a few dozen bytes
// maxBody 限制响应读取量；IP 只有几十个字节
const maxBody = 256

// Probe is a TTL-cached external IP lookup
// Probe 是带 TTL 缓存的外网 IP 查询器
type Probe struct {
	endpoints []string
	ttl       time.Duration
	client    *http.Client
	log       *zap.SugaredLogger
	now       func() time.Time

	mu       sync.Mutex
	cached   string
	cachedAt time.Time
}

// New creates a Probe from config
// New 根据配置创建 Probe
func New(cfg config.ProbeConfig, log *zap.SugaredLogger) *Probe {
	return &Probe{
		endpoints: cfg.Endpoints,
		ttl:       cfg.CacheTTL,
		client:    &http.Client{Timeout: cfg.Timeout},
		log:       log,
		now:       time.Now,
	}
}

// SetClock replaces the time source, for tests
// SetClock 替换时间源，供测试使用
func (p *Probe) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// ExternalIP returns the cached IP while fresh, otherwise queries the
// endpoint chain in order. Every failure path yields Unknown; a failed
// probe is cached too, so a flapping network is not hammered.
// ExternalIP 在缓存未过期时返回缓存的 IP，否则按顺序查询端点链。
// 所有失败路径都返回 Unknown；失败结果同样被缓存，避免网络抖动时
// 频繁请求。
func (p *Probe) ExternalIP(ctx context.Context) string {
	p.mu.Lock()
	if p.cached != "" && p.now().Sub(p.cachedAt) < p.ttl {
		ip := p.cached
		p.mu.Unlock()
		return ip
	}
	p.mu.Unlock()

	ip := p.query(ctx)

	p.mu.Lock()
	p.cached = ip
	p.cachedAt = p.now()
	p.mu.Unlock()
	return ip
}

// Invalidate drops the cache so the next lookup queries afresh; called
// after connection transitions, when the external IP has likely changed
// Invalidate 丢弃缓存使下次查询重新发起；在连接状态变化后调用，
// 此时外网 IP 很可能已改变
func (p *Probe) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = ""
	p.cachedAt = time.Time{}
}

// query walks the endpoint chain until one returns a parseable IP
// query 遍历端点链直到某个端点返回可解析的 IP
func (p *Probe) query(ctx context.Context) string {
	for _, url := range p.endpoints {
		ip, err := p.fetch(ctx, url)
		if err != nil {
			p.log.Debugf("[Probe] %s failed: %v", url, err)
			continue
		}
		if ip != "" {
			return ip
		}
	}
	p.log.Warnf("[Probe] All %d endpoint(s) failed, external IP unknown", len(p.endpoints))
	return Unknown
}

// fetch performs one GET and validates the body as an IP address
// fetch 执行一次 GET 并校验响应体为 IP 地址
func (p *Probe) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", err
	}

	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", nil
	}
	return ip, nil
}
