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

// Package registry tracks processes this daemon has spawned. The
// registry holds bookkeeping only; nothing here touches the process
// table. State is in-memory and rebuilt from the process table at
// startup, so there is no persistence.
// registry 包跟踪本守护进程派生的进程。注册表只做记录，不触碰进程表。
// 状态保存在内存中，启动时从进程表重建，因此没有持久化。
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record describes one spawned connect process
// Record 描述一个已派生的连接进程
type Record struct {
	// ID uniquely identifies the record / 记录的唯一标识
	ID string

	// PID and PGID of the spawned process / 派生进程的 PID 和 PGID
	PID  int
	PGID int

	// Protocol used for this connect / 本次连接使用的协议
	Protocol string

	// NodeLabel is the "<city> #<num>" target / 目标节点标签
	NodeLabel string

	// SpawnedAt is when the process was started / 进程启动时间
	SpawnedAt time.Time

	// Owned marks the record as holding the connection slot. Records
	// that lose ownership become orphans and must be killed, never
	// adopted.
	// Owned 标记该记录持有连接槽位。失去所有权的记录成为孤儿，
	// 必须被杀死而不是被接管。
	Owned bool
}

// Registry is a concurrency-safe set of Records
// Registry 是并发安全的记录集合
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
}

// New creates an empty registry
// New 创建空注册表
func New() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Register adds a record for a freshly spawned process and returns it
// Register 为新派生的进程添加记录并返回
func (r *Registry) Register(pid, pgid int, protocol, nodeLabel string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &Record{
		ID:        uuid.New().String(),
		PID:       pid,
		PGID:      pgid,
		Protocol:  protocol,
		NodeLabel: nodeLabel,
		SpawnedAt: time.Now(),
		Owned:     true,
	}
	r.records[rec.ID] = rec
	return rec
}

// Get returns a copy of the record by ID
// Get 按 ID 返回记录的副本
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Owner returns a copy of the record currently owning the slot
// Owner 返回当前持有槽位的记录的副本
func (r *Registry) Owner() (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Owned {
			return *rec, true
		}
	}
	return Record{}, false
}

// Disown strips ownership from a record, turning it into an orphan
// Disown 剥夺记录的所有权，使其成为孤儿
func (r *Registry) Disown(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.Owned = false
	}
}

// Drop removes a record once its process is confirmed gone
// Drop 在确认进程已消亡后移除记录
func (r *Registry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
}

// Orphans returns copies of all records without ownership
// Orphans 返回所有无主记录的副本
func (r *Registry) Orphans() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if !rec.Owned {
			out = append(out, *rec)
		}
	}
	return out
}

// Len returns the number of records
// Len 返回记录数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
