package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	// 保存原始环境变量
	originalEnvs := make(map[string]string)
	envKeys := []string{
		"DROPMAIL_SERVER_HOST",
		"DROPMAIL_SERVER_PORT",
		"DROPMAIL_MAILBOX_ALLOWED_DOMAINS",
		"DROPMAIL_MAILBOX_TTL",
		"DROPMAIL_MAILBOX_GRACE_WINDOW",
		"DROPMAIL_SPOOL_PATH",
		"DROPMAIL_SPOOL_INTERVAL",
		"DROPMAIL_SWEEP_INTERVAL",
		"DROPMAIL_LOG_LEVEL",
		"DROPMAIL_LOG_DEVELOPMENT",
		"DROPMAIL_RATELIMIT_CREATE_PER_MINUTE",
	}

	for _, key := range envKeys {
		originalEnvs[key] = os.Getenv(key)
	}

	// 测试后恢复环境变量
	defer func() {
		for key, value := range originalEnvs {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	t.Run("加载默认配置成功", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}

		cfg, err := Load()

		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, []string{"drop.mail"}, cfg.Mailbox.AllowedDomains)
		assert.Equal(t, time.Hour, cfg.Mailbox.TTL)
		assert.Equal(t, 5*time.Minute, cfg.Mailbox.GraceWindow)
		assert.Equal(t, "data/spool/inbound", cfg.Spool.Path)
		assert.Equal(t, 10*time.Second, cfg.Spool.Interval)
		assert.Equal(t, time.Minute, cfg.Sweep.Interval)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.False(t, cfg.Log.Development)
		assert.Equal(t, 10, cfg.RateLimit.CreatePerMinute)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		os.Setenv("DROPMAIL_SERVER_HOST", "127.0.0.1")
		os.Setenv("DROPMAIL_SERVER_PORT", "9090")
		os.Setenv("DROPMAIL_MAILBOX_ALLOWED_DOMAINS", "custom.mail,Test.Dev")
		os.Setenv("DROPMAIL_MAILBOX_TTL", "2h")
		os.Setenv("DROPMAIL_MAILBOX_GRACE_WINDOW", "10m")
		os.Setenv("DROPMAIL_SPOOL_PATH", "/tmp/spool/mail")
		os.Setenv("DROPMAIL_SPOOL_INTERVAL", "5s")
		os.Setenv("DROPMAIL_SWEEP_INTERVAL", "30s")
		os.Setenv("DROPMAIL_LOG_LEVEL", "debug")
		os.Setenv("DROPMAIL_LOG_DEVELOPMENT", "true")
		os.Setenv("DROPMAIL_RATELIMIT_CREATE_PER_MINUTE", "3")

		cfg, err := Load()

		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 9090, cfg.Server.Port)
		// 域名统一转小写
		assert.Equal(t, []string{"custom.mail", "test.dev"}, cfg.Mailbox.AllowedDomains)
		assert.Equal(t, 2*time.Hour, cfg.Mailbox.TTL)
		assert.Equal(t, 10*time.Minute, cfg.Mailbox.GraceWindow)
		assert.Equal(t, "/tmp/spool/mail", cfg.Spool.Path)
		assert.Equal(t, 5*time.Second, cfg.Spool.Interval)
		assert.Equal(t, 30*time.Second, cfg.Sweep.Interval)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.True(t, cfg.Log.Development)
		assert.Equal(t, 3, cfg.RateLimit.CreatePerMinute)
	})

	t.Run("非法TTL返回错误", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		os.Setenv("DROPMAIL_MAILBOX_TTL", "not-a-duration")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("非法导入间隔退回默认值", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		os.Setenv("DROPMAIL_SPOOL_INTERVAL", "-5s")

		cfg, err := Load()

		assert.NoError(t, err)
		assert.Equal(t, 10*time.Second, cfg.Spool.Interval)
	})
}

func TestParseDomains(t *testing.T) {
	t.Run("逗号分隔并去除空白", func(t *testing.T) {
		assert.Equal(t, []string{"a.mail", "b.mail"}, parseDomains(" a.mail , B.MAIL "))
	})

	t.Run("空串返回空切片", func(t *testing.T) {
		assert.Empty(t, parseDomains(""))
	})
}
