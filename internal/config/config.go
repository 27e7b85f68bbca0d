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

// Package config provides configuration management for the AjiPilot daemon.
// config 包提供 AjiPilot 守护进程的配置管理功能。
//
// Configuration loading priority (highest to lowest):
// 配置加载优先级（从高到低）：
// 1. Environment variables / 环境变量
// 2. Configuration file / 配置文件
// 3. Default values / 默认值
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values
// 默认配置值
const (
	DefaultConfigPath = "/etc/ajipilot/config.yaml"

	DefaultBinaryName = "ajiasu"

	DefaultHealthInterval   = 5 * time.Second
	DefaultFailThreshold    = 3
	DefaultEstablishTimeout = 15 * time.Second
	DefaultGracePeriod      = 10 * time.Second
	DefaultMaxRetries       = 5

	DefaultReapInterval = 30 * time.Second

	DefaultRotationMin = 12 * time.Hour
	DefaultRotationMax = 24 * time.Hour

	DefaultProbeTimeout  = 5 * time.Second
	DefaultProbeCacheTTL = 30 * time.Second

	DefaultWebHost = "0.0.0.0"
	DefaultWebPort = 8000

	DefaultLogLevel      = "info"
	DefaultLogFile       = "/var/log/ajipilot/ajipilot.log"
	DefaultLogMaxSize    = 100 // MB
	DefaultLogMaxBackups = 3
	DefaultLogMaxAge     = 7 // days
)

// Config represents the AjiPilot daemon configuration
// Config 表示 AjiPilot 守护进程配置
type Config struct {
	// Keeper configuration for the external VPN client / 外部 VPN 客户端配置
	Keeper KeeperConfig `mapstructure:"keeper"`

	// Supervise configuration for the connection state machine / 连接状态机配置
	Supervise SuperviseConfig `mapstructure:"supervise"`

	// Rotation configuration / 节点轮换配置
	Rotation RotationConfig `mapstructure:"rotation"`

	// Probe configuration for external IP lookup / 外网 IP 探测配置
	Probe ProbeConfig `mapstructure:"probe"`

	// Reaper configuration / 僵尸收割配置
	Reaper ReaperConfig `mapstructure:"reaper"`

	// Web configuration / Web 面板配置
	Web WebConfig `mapstructure:"web"`

	// Log configuration / 日志配置
	Log LogConfig `mapstructure:"log"`
}

// KeeperConfig locates and describes the external client binary
// KeeperConfig 定位并描述外部客户端二进制文件
type KeeperConfig struct {
	// BinaryName is the executable name matched in the process table
	// BinaryName 是在进程表中匹配的可执行文件名
	BinaryName string `mapstructure:"binary_name"`

	// BinaryPath is the explicit path to the binary (optional)
	// BinaryPath 是二进制文件的显式路径（可选）
	BinaryPath string `mapstructure:"binary_path"`

	// BaseDir is the working directory for client invocations
	// BaseDir 是客户端调用的工作目录
	BaseDir string `mapstructure:"base_dir"`

	// DefaultProtocol is used when a connect request names none
	// DefaultProtocol 在连接请求未指定协议时使用
	DefaultProtocol string `mapstructure:"default_protocol"`

	// ListTimeout bounds the `list` subcommand / list 子命令的超时时间
	ListTimeout time.Duration `mapstructure:"list_timeout"`

	// DisconnectTimeout bounds the `disconnect` subcommand
	// DisconnectTimeout 是 disconnect 子命令的超时时间
	DisconnectTimeout time.Duration `mapstructure:"disconnect_timeout"`
}

// SuperviseConfig tunes the connection supervisor
// SuperviseConfig 调整连接监督器
type SuperviseConfig struct {
	// HealthInterval is the health-check cycle period / 健康检查周期
	HealthInterval time.Duration `mapstructure:"health_interval"`

	// FailThreshold is the consecutive failures before reconnecting
	// FailThreshold 是触发重连前的连续失败次数
	FailThreshold int `mapstructure:"fail_threshold"`

	// EstablishTimeout bounds connection establishment / 建立连接的超时时间
	EstablishTimeout time.Duration `mapstructure:"establish_timeout"`

	// GracePeriod is the wait between SIGTERM and SIGKILL
	// GracePeriod 是 SIGTERM 与 SIGKILL 之间的等待时间
	GracePeriod time.Duration `mapstructure:"grace_period"`

	// MaxRetries bounds one reconnection episode across all protocols
	// MaxRetries 限制一次重连过程中跨所有协议的尝试次数
	MaxRetries int `mapstructure:"max_retries"`

	// BackoffDelays is the delay sequence between retries
	// BackoffDelays 是重试之间的延迟序列
	BackoffDelays []time.Duration `mapstructure:"backoff_delays"`
}

// RotationConfig tunes the periodic forced rotation
// RotationConfig 调整周期性强制轮换
type RotationConfig struct {
	// Enabled toggles automatic rotation / 是否启用自动轮换
	Enabled bool `mapstructure:"enabled"`

	// MinInterval is the lower bound of the random rotation interval
	// MinInterval 是随机轮换间隔的下限
	MinInterval time.Duration `mapstructure:"min_interval"`

	// MaxInterval is the upper bound of the random rotation interval
	// MaxInterval 是随机轮换间隔的上限
	MaxInterval time.Duration `mapstructure:"max_interval"`
}

// ProbeConfig tunes the external IP probe
// ProbeConfig 调整外网 IP 探测
type ProbeConfig struct {
	// Endpoints are tried in order until one returns a valid IP
	// Endpoints 按顺序尝试，直到某个端点返回有效 IP
	Endpoints []string `mapstructure:"endpoints"`

	// Timeout bounds each outbound request / 每次出站请求的超时时间
	Timeout time.Duration `mapstructure:"timeout"`

	// CacheTTL is how long a probe result is reused / 探测结果的缓存时长
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// ReaperConfig tunes the zombie reaper
// ReaperConfig 调整僵尸收割器
type ReaperConfig struct {
	// Interval is the reap cycle period / 收割周期
	Interval time.Duration `mapstructure:"interval"`
}

// WebConfig contains HTTP panel settings
// WebConfig 包含 HTTP 面板设置
type WebConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig contains logging settings
// LogConfig 包含日志设置
type LogConfig struct {
	// Level is the log level (debug, info, warn, error)
	// Level 是日志级别（debug, info, warn, error）
	Level string `mapstructure:"level"`

	// File is the log file path; empty means stderr only
	// File 是日志文件路径；为空则仅输出到 stderr
	File string `mapstructure:"file"`

	// MaxSize is the maximum size of log file in MB before rotation
	// MaxSize 是日志文件轮转前的最大大小（MB）
	MaxSize int `mapstructure:"max_size"`

	// MaxBackups is the maximum number of old log files to retain
	// MaxBackups 是保留的旧日志文件的最大数量
	MaxBackups int `mapstructure:"max_backups"`

	// MaxAge is the maximum number of days to retain old log files
	// MaxAge 是保留旧日志文件的最大天数
	MaxAge int `mapstructure:"max_age"`
}

// Load loads configuration from file and environment variables
// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values / 设置默认值
	setDefaults(v)

	// Set config file path / 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Check environment variable / 检查环境变量
		envPath := os.Getenv("AJIPILOT_CONFIG_PATH")
		if envPath != "" {
			v.SetConfigFile(envPath)
		} else {
			v.SetConfigFile(DefaultConfigPath)
		}
	}

	// Enable environment variable override / 启用环境变量覆盖
	v.SetEnvPrefix("AJIPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file / 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error if we have defaults
		// 如果有默认值，配置文件未找到不是错误
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, use defaults / 文件不存在，使用默认值
		}
	}

	// Unmarshal config / 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Keeper defaults / 客户端默认值
	v.SetDefault("keeper.binary_name", DefaultBinaryName)
	v.SetDefault("keeper.binary_path", "")
	v.SetDefault("keeper.base_dir", "")
	v.SetDefault("keeper.default_protocol", "lwip")
	v.SetDefault("keeper.list_timeout", 2*time.Minute)
	v.SetDefault("keeper.disconnect_timeout", 15*time.Second)

	// Supervise defaults / 监督默认值
	v.SetDefault("supervise.health_interval", DefaultHealthInterval)
	v.SetDefault("supervise.fail_threshold", DefaultFailThreshold)
	v.SetDefault("supervise.establish_timeout", DefaultEstablishTimeout)
	v.SetDefault("supervise.grace_period", DefaultGracePeriod)
	v.SetDefault("supervise.max_retries", DefaultMaxRetries)
	v.SetDefault("supervise.backoff_delays", []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 15 * time.Second,
	})

	// Rotation defaults / 轮换默认值
	v.SetDefault("rotation.enabled", true)
	v.SetDefault("rotation.min_interval", DefaultRotationMin)
	v.SetDefault("rotation.max_interval", DefaultRotationMax)

	// Probe defaults / 探测默认值
	v.SetDefault("probe.endpoints", []string{
		"https://ifconfig.me",
		"https://ipinfo.io/ip",
		"https://icanhazip.com",
	})
	v.SetDefault("probe.timeout", DefaultProbeTimeout)
	v.SetDefault("probe.cache_ttl", DefaultProbeCacheTTL)

	// Reaper defaults / 收割默认值
	v.SetDefault("reaper.interval", DefaultReapInterval)

	// Web defaults / Web 默认值
	v.SetDefault("web.host", DefaultWebHost)
	v.SetDefault("web.port", DefaultWebPort)

	// Log defaults / 日志默认值
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", DefaultLogFile)
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age", DefaultLogMaxAge)
}

// Validate validates the configuration
// Validate 验证配置
func (c *Config) Validate() error {
	if c.Keeper.BinaryName == "" {
		return errors.New("keeper.binary_name is required")
	}

	// Validate supervise bounds / 验证监督参数边界
	if c.Supervise.HealthInterval < time.Second {
		return errors.New("supervise.health_interval must be at least 1 second")
	}
	if c.Supervise.FailThreshold < 1 {
		return errors.New("supervise.fail_threshold must be at least 1")
	}
	if c.Supervise.MaxRetries < 1 {
		return errors.New("supervise.max_retries must be at least 1")
	}
	if c.Supervise.EstablishTimeout <= 0 || c.Supervise.GracePeriod <= 0 {
		return errors.New("supervise.establish_timeout and supervise.grace_period must be positive")
	}

	// Validate rotation window; a floor of 5 minutes guards against
	// misconfiguration causing rapid churn (original enforced 300s).
	// 验证轮换窗口；5 分钟下限防止误配置导致频繁切换（原实现强制 300 秒）。
	if c.Rotation.Enabled {
		if c.Rotation.MinInterval < 5*time.Minute {
			return errors.New("rotation.min_interval must be at least 5 minutes")
		}
		if c.Rotation.MaxInterval <= c.Rotation.MinInterval {
			return errors.New("rotation.max_interval must be greater than rotation.min_interval")
		}
	}

	// Validate probe / 验证探测配置
	if len(c.Probe.Endpoints) == 0 {
		return errors.New("probe.endpoints must not be empty")
	}
	if c.Probe.Timeout <= 0 {
		return errors.New("probe.timeout must be positive")
	}

	if c.Reaper.Interval < time.Second {
		return errors.New("reaper.interval must be at least 1 second")
	}

	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port out of range: %d", c.Web.Port)
	}

	// Validate log level / 验证日志级别
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	return nil
}

// String returns a string representation of the config (for debugging)
// String 返回配置的字符串表示（用于调试）
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Keeper.BinaryName: %s, Supervise.MaxRetries: %d, Rotation: [%v, %v), Web: %s:%d}",
		c.Keeper.BinaryName,
		c.Supervise.MaxRetries,
		c.Rotation.MinInterval,
		c.Rotation.MaxInterval,
		c.Web.Host,
		c.Web.Port,
	)
}
