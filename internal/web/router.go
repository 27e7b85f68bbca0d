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

// Package web exposes the operator panel and JSON API. Handlers only
// parse requests and render snapshots; every decision lives in the
// supervisor and its collaborators.
// web 包提供运维面板和 JSON API。处理器只解析请求并渲染快照；所有
// 决策都在监督器及其协作组件中。
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/RorschachE0/AjiPilot/internal/client"
	"github.com/RorschachE0/AjiPilot/internal/probe"
	"github.com/RorschachE0/AjiPilot/internal/rotation"
	"github.com/RorschachE0/AjiPilot/internal/selector"
	"github.com/RorschachE0/AjiPilot/internal/supervisor"
)

// Server wires the gin engine to the daemon
// Server 将 gin 引擎接入守护进程
type Server struct {
	sup   *supervisor.Supervisor
	list  func(ctx context.Context) (client.Listing, error)
	sel   *selector.Selector
	probe *probe.Probe
	rot   *rotation.Scheduler
	log   *zap.SugaredLogger
}

// NewServer creates the HTTP layer. lister runs the client's `list`
// subcommand; rot may be nil when rotation is disabled.
// NewServer 创建 HTTP 层。lister 运行客户端的 list 子命令；轮换禁用
// 时 rot 可为 nil。
func NewServer(
	sup *supervisor.Supervisor,
	lister func(ctx context.Context) (client.Listing, error),
	sel *selector.Selector,
	p *probe.Probe,
	rot *rotation.Scheduler,
	log *zap.SugaredLogger,
) *Server {
	return &Server{sup: sup, list: lister, sel: sel, probe: p, rot: rot, log: log}
}

// Router builds the gin engine with all routes registered
// Router 构建注册了全部路由的 gin 引擎
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", s.handlePanel)
	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/nodes", s.handleNodes)
		api.GET("/external_ip", s.handleExternalIP)
		api.POST("/connect", s.handleConnect)
		api.POST("/disconnect", s.handleDisconnect)
		api.POST("/cleanup", s.handleCleanup)
		api.POST("/rotate", s.handleRotate)
	}

	return r
}

// handleHealth is the liveness endpoint for the daemon itself
// handleHealth 是守护进程自身的存活端点
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Format(time.RFC3339)})
}

// handleStatus renders the slot snapshot plus the rotation schedule
// handleStatus 渲染槽位快照和轮换计划
func (s *Server) handleStatus(c *gin.Context) {
	snap := s.sup.Status()
	resp := gin.H{
		"state":             snap.State,
		"connected":         snap.Connected(),
		"pid":               snap.PID,
		"protocol":          snap.Protocol,
		"node_label":        snap.NodeLabel,
		"since":             snap.Since.Format(time.RFC3339),
		"consecutive_fails": snap.ConsecutiveFails,
		"attempts":          snap.Attempts,
	}
	if snap.LastError != "" {
		resp["last_error"] = snap.LastError
	}
	if s.rot != nil {
		if next := s.rot.NextFireTime(); !next.IsZero() {
			resp["next_rotation"] = next.Format(time.RFC3339)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleNodes refreshes the node cache through the external client
// handleNodes 通过外部客户端刷新节点缓存
func (s *Server) handleNodes(c *gin.Context) {
	listing, err := s.list(c.Request.Context())
	if err != nil {
		s.log.Errorf("[Web] Node listing failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	s.sel.UpdateListing(listing)
	c.JSON(http.StatusOK, gin.H{
		"nodes":   listing.Nodes,
		"account": listing.Account,
	})
}

// handleExternalIP reports the probed external address; "unknown" is a
// valid answer, not an error
// handleExternalIP 报告探测到的外网地址；"unknown" 是有效答案而非错误
func (s *Server) handleExternalIP(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"external_ip": s.probe.ExternalIP(c.Request.Context())})
}

// connectRequest is the POST /api/connect body; both fields optional
// connectRequest 是 POST /api/connect 的请求体；两个字段均可选
type connectRequest struct {
	Label    string `json:"label"`
	Protocol string `json:"protocol"`
}

// handleConnect starts a connection episode and blocks until it
// resolves
// handleConnect 启动连接回合并阻塞直到有结果
func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	err := s.sup.Connect(c.Request.Context(), req.Label, req.Protocol)
	if err != nil {
		c.JSON(connectStatusCode(err), gin.H{"error": err.Error(), "status": s.sup.Status()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.sup.Status()})
}

// connectStatusCode maps supervisor errors onto HTTP codes
// connectStatusCode 将监督器错误映射为 HTTP 状态码
func connectStatusCode(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrAlreadyConnecting):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, supervisor.ErrUnknownNode), errors.Is(err, supervisor.ErrNoNodes):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleDisconnect tears the connection down; always succeeds
// handleDisconnect 拆除连接；总是成功
func (s *Server) handleDisconnect(c *gin.Context) {
	if err := s.sup.Disconnect(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.sup.Status()})
}

// handleCleanup force-purges every matching connect process
// handleCleanup 强制清除所有匹配的连接进程
func (s *Server) handleCleanup(c *gin.Context) {
	n, err := s.sup.ForceCleanup()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "killed": n})
		return
	}
	c.JSON(http.StatusOK, gin.H{"killed": n, "status": s.sup.Status()})
}

// handleRotate forces an immediate node switch
// handleRotate 强制立即切换节点
func (s *Server) handleRotate(c *gin.Context) {
	if err := s.sup.Rotate(c.Request.Context()); err != nil {
		c.JSON(connectStatusCode(err), gin.H{"error": err.Error(), "status": s.sup.Status()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.sup.Status()})
}

// handlePanel serves the single-page operator panel
// handlePanel 提供单页运维面板
func (s *Server) handlePanel(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(panelHTML))
}
