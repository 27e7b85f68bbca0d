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

// AjiPilot daemon entry point. Wires the supervisor, reaper, rotation
// scheduler and web panel together and runs until signalled.
// AjiPilot 守护进程入口。组装监督器、收割器、轮换调度器和 Web 面板，
// 运行直到收到信号。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RorschachE0/AjiPilot/internal/cleaner"
	"github.com/RorschachE0/AjiPilot/internal/client"
	"github.com/RorschachE0/AjiPilot/internal/config"
	"github.com/RorschachE0/AjiPilot/internal/logger"
	"github.com/RorschachE0/AjiPilot/internal/probe"
	"github.com/RorschachE0/AjiPilot/internal/procdir"
	"github.com/RorschachE0/AjiPilot/internal/reaper"
	"github.com/RorschachE0/AjiPilot/internal/registry"
	"github.com/RorschachE0/AjiPilot/internal/rotation"
	"github.com/RorschachE0/AjiPilot/internal/selector"
	"github.com/RorschachE0/AjiPilot/internal/supervisor"
	"github.com/RorschachE0/AjiPilot/internal/web"
)

// Build-time variables / 编译时变量
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var configPath string

// Daemon holds every long-lived component
// Daemon 持有所有长驻组件
type Daemon struct {
	cfg *config.Config
	log *zap.SugaredLogger

	runner   *client.Runner
	sel      *selector.Selector
	reaper   *reaper.Reaper
	rotation *rotation.Scheduler
	sup      *supervisor.Supervisor
	httpSrv  *http.Server
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "ajipilot",
		Short: "Self-healing supervisor for the ajiasu VPN client",
		Long: `AjiPilot keeps exactly one ajiasu connect process alive on the host:
it reaps zombies, purges strays, detects disconnects, reconnects with
bounded backoff and rotates nodes on a randomized schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("AjiPilot %s\n", Version)
			fmt.Printf("Git Commit: %s\n", GitCommit)
			fmt.Printf("Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run builds the daemon and blocks until a termination signal
// run 构建守护进程并阻塞直到收到终止信号
func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	log.Infof("[Main] AjiPilot %s starting (commit=%s)", Version, GitCommit)
	log.Infof("[Main] %s", cfg.String())

	d, err := buildDaemon(cfg, log)
	if err != nil {
		return err
	}
	return d.runUntilSignalled()
}

// buildDaemon wires all components
// buildDaemon 组装所有组件
func buildDaemon(cfg *config.Config, log *zap.SugaredLogger) (*Daemon, error) {
	dir := procdir.NewProcFS()
	reg := registry.New()
	sel := selector.New("")
	cln := cleaner.New(dir, cfg.Keeper.BinaryName, log, cleaner.Options{
		Deadline: cfg.Supervise.GracePeriod,
	})
	rp := reaper.New(cfg.Reaper.Interval, log)
	pb := probe.New(cfg.Probe, log)
	runner := client.NewRunner(cfg.Keeper, log)

	d := &Daemon{cfg: cfg, log: log, runner: runner, sel: sel, reaper: rp}

	if cfg.Rotation.Enabled {
		d.rotation = rotation.New(cfg.Rotation.MinInterval, cfg.Rotation.MaxInterval, func() {
			// Fires from the timer goroutine; the supervisor skips the
			// request unless the connection is active
			// 从定时器 goroutine 触发；连接不活跃时监督器会跳过请求
			if err := d.sup.Rotate(context.Background()); err != nil {
				log.Warnf("[Main] Scheduled rotation failed: %v", err)
			}
		}, log)
	}

	d.sup = supervisor.New(cfg.Supervise, cfg.Keeper.DefaultProtocol, supervisor.Deps{
		Launcher:   runner,
		Dir:        dir,
		Registry:   reg,
		Selector:   sel,
		Cleaner:    cln,
		KickReaper: rp.Kick,
		OnActive: func() {
			if d.rotation != nil {
				d.rotation.Reset()
			}
			pb.Invalidate()
		},
		Log: log,
	})

	server := web.NewServer(d.sup, runner.List, sel, pb, d.rotation, log)
	d.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler: server.Router(),
	}

	// Startup cleanup: the host must hold zero connect processes
	// before the daemon takes over the slot
	// 启动清理：守护进程接管槽位前，主机上不得存在任何连接进程
	if n, err := cln.KillAll(); err != nil {
		log.Warnf("[Main] Startup cleanup failed: %v", err)
	} else if n > 0 {
		log.Infof("[Main] Startup cleanup removed %d stray connect process(es)", n)
	}

	return d, nil
}

// runUntilSignalled starts everything and performs staged shutdown on
// SIGINT/SIGTERM
// runUntilSignalled 启动全部组件，并在收到 SIGINT/SIGTERM 时按阶段
// 关闭
func (d *Daemon) runUntilSignalled() error {
	d.reaper.Start()
	d.sup.Start()
	if d.rotation != nil {
		d.rotation.Start()
	}

	// Warm the node cache in the background; failure only delays
	// label validation
	// 后台预热节点缓存；失败只会推迟标签校验
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Keeper.ListTimeout)
		defer cancel()
		if listing, err := d.runner.List(ctx); err != nil {
			d.log.Warnf("[Main] Initial node listing failed: %v", err)
		} else {
			d.sel.UpdateListing(listing)
			d.log.Infof("[Main] Node cache warmed with %d node(s)", len(listing.Nodes))
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		d.log.Infof("[Main] Web panel listening on %s", d.httpSrv.Addr)
		if err := d.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		d.log.Infof("[Main] Received signal %v, shutting down", sig)
	case err := <-errChan:
		d.log.Errorf("[Main] Web server failed: %v", err)
	}

	d.shutdown()
	return nil
}

// shutdown stops components in dependency order
// shutdown 按依赖顺序停止组件
func (d *Daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.httpSrv.Shutdown(ctx); err != nil {
		d.log.Warnf("[Main] Web server shutdown: %v", err)
	}
	if d.rotation != nil {
		d.rotation.Stop()
	}
	d.sup.Shutdown(ctx)
	d.reaper.Stop()
	d.log.Infof("[Main] Shutdown complete")
}
