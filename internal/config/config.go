package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailboxConfig 定义临时邮箱的核心业务配置
type MailboxConfig struct {
	AllowedDomains []string      // 允许占用的域名列表
	TTL            time.Duration // 会话存活时长，默认 1h
	GraceWindow    time.Duration // 释放后的保留宽限窗口，默认 5m
}

// SpoolConfig 定义邮件暂存文件的消费配置
type SpoolConfig struct {
	Path     string        // 暂存文件路径，由邮件传输代理追加写入
	Interval time.Duration // 导入轮询间隔，默认 10s
}

// SweepConfig 定义过期清扫任务配置
type SweepConfig struct {
	Interval time.Duration // 清扫间隔，默认 60s
}

// MTAConfig 定义随附的开发用邮件传输代理 (cmd/mta) 的配置
type MTAConfig struct {
	BindAddr string // SMTP 监听地址，默认 ":2525"
	Domain   string // HELO/EHLO 响应域名
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 彩色输出与详细堆栈
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 服务配置（用于多副本共享的限流计数）
type RedisConfig struct {
	Address  string // Redis 服务地址，留空禁用 Redis
	Password string // Redis 认证密码
	DB       int    // Redis 数据库编号
}

// RateLimitConfig 定义接口限流配置
type RateLimitConfig struct {
	CreatePerMinute int // 单个 IP 每分钟允许的创建请求数，默认 10
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server    ServerConfig
	Mailbox   MailboxConfig
	Spool     SpoolConfig
	Sweep     SweepConfig
	MTA       MTAConfig
	CORS      CORSConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

// Load 从环境变量和 .env 文件加载系统配置。
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（前缀 DROPMAIL_，如 DROPMAIL_SERVER_PORT）
//  2. .env 文件（如果存在）
//  3. 默认值
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("dropmail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("mailbox.allowed_domains", "drop.mail")
	viper.SetDefault("mailbox.ttl", "1h")
	viper.SetDefault("mailbox.grace_window", "5m")
	viper.SetDefault("spool.path", "data/spool/inbound")
	viper.SetDefault("spool.interval", "10s")
	viper.SetDefault("sweep.interval", "60s")
	viper.SetDefault("mta.bind_addr", ":2525")
	viper.SetDefault("mta.domain", "drop.mail")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("ratelimit.create_per_minute", 10)

	domainList := parseDomains(viper.GetString("mailbox.allowed_domains"))
	if len(domainList) == 0 {
		return nil, fmt.Errorf("mailbox.allowed_domains must not be empty")
	}

	ttl, err := time.ParseDuration(viper.GetString("mailbox.ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.ttl: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("mailbox.ttl must be positive")
	}

	grace, err := time.ParseDuration(viper.GetString("mailbox.grace_window"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.grace_window: %w", err)
	}

	spoolPath := viper.GetString("spool.path")
	if spoolPath == "" {
		return nil, fmt.Errorf("spool.path must not be empty")
	}

	spoolInterval, err := time.ParseDuration(viper.GetString("spool.interval"))
	if err != nil || spoolInterval <= 0 {
		spoolInterval = 10 * time.Second
	}

	sweepInterval, err := time.ParseDuration(viper.GetString("sweep.interval"))
	if err != nil || sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	createPerMinute := viper.GetInt("ratelimit.create_per_minute")
	if createPerMinute <= 0 {
		createPerMinute = 10
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Mailbox: MailboxConfig{
			AllowedDomains: domainList,
			TTL:            ttl,
			GraceWindow:    grace,
		},
		Spool: SpoolConfig{
			Path:     spoolPath,
			Interval: spoolInterval,
		},
		Sweep: SweepConfig{
			Interval: sweepInterval,
		},
		MTA: MTAConfig{
			BindAddr: viper.GetString("mta.bind_addr"),
			Domain:   viper.GetString("mta.domain"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			CreatePerMinute: createPerMinute,
		},
	}

	return cfg, nil
}

// parseDomains 将逗号分隔的域名字符串解析为小写域名数组。
func parseDomains(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为去除空白的字符串切片。
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件（可选，静默失败）。
//
// 已存在的环境变量优先级更高，不会被 .env 覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
