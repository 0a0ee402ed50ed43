// 开发用邮件传输代理：接收 SMTP 投递并以 mbox 格式追加到暂存文件，
// 供主服务的导入任务消费。生产环境由系统 MTA（如 Postfix）承担此角色。
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"dropmail/backend/internal/config"
	"dropmail/backend/internal/logger"
	"dropmail/backend/internal/spool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Spool.Path), 0755); err != nil {
		log.Fatal("failed to create spool directory", zap.Error(err))
	}

	backend := &spoolBackend{
		spoolPath: cfg.Spool.Path,
		domains:   cfg.Mailbox.AllowedDomains,
		log:       log,
	}

	server := gosmtp.NewServer(backend)
	server.Addr = cfg.MTA.BindAddr
	server.Domain = cfg.MTA.Domain
	server.ReadTimeout = 10 * time.Second
	server.WriteTimeout = 10 * time.Second
	server.MaxMessageBytes = 10 * 1024 * 1024
	server.MaxRecipients = 10

	log.Info("starting dev MTA",
		zap.String("address", server.Addr),
		zap.String("spool", cfg.Spool.Path),
		zap.Strings("domains", cfg.Mailbox.AllowedDomains),
	)
	if err := server.ListenAndServe(); err != nil {
		log.Fatal("SMTP server error", zap.Error(err))
	}
}

// spoolBackend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往允许域名的邮件，其余收件人一律返回 550 拒绝，不做中继。
type spoolBackend struct {
	spoolPath string
	domains   []string
	log       *zap.Logger

	// 串行化追加写，保证 mbox 记录完整
	mu sync.Mutex
}

// NewSession 创建新的 SMTP 会话。
func (b *spoolBackend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{backend: b}, nil
}

type session struct {
	backend *spoolBackend
	from    string
	rcpts   []string
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt 处理 RCPT 命令，只接受允许域名下的收件人。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := strings.ToLower(strings.Trim(to, "<>"))
	parts := strings.Split(addr, "@")
	if len(parts) != 2 {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	for _, d := range s.backend.domains {
		if parts[1] == d {
			s.rcpts = append(s.rcpts, addr)
			return nil
		}
	}
	return &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
		Message:      "recipient domain not handled here",
	}
}

// Data 处理 DATA 命令，把邮件以 mbox 记录追加到暂存文件。
func (s *session) Data(r io.Reader) error {
	if len(s.rcpts) == 0 {
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "no valid recipients",
		}
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	if err := s.backend.appendRecord(s.from, raw); err != nil {
		s.backend.log.Error("failed to append to spool", zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary local error",
		}
	}

	s.backend.log.Info("message spooled",
		zap.String("from", s.from),
		zap.Strings("to", s.rcpts),
		zap.Int("bytes", len(raw)),
	)
	return nil
}

// Reset 重置会话状态。
func (s *session) Reset() {
	s.from = ""
	s.rcpts = nil
}

// Logout 结束会话。
func (s *session) Logout() error {
	return nil
}

// appendRecord 以单次追加写把一条 mbox 记录写入暂存文件。
func (b *spoolBackend) appendRecord(from string, raw []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sender := strings.Trim(from, "<>")
	if sender == "" {
		sender = "MAILER-DAEMON"
	}

	var record bytes.Buffer
	fmt.Fprintf(&record, "From %s %s\n", sender, time.Now().UTC().Format(time.ANSIC))
	record.Write(spool.StuffLines(raw))
	if !bytes.HasSuffix(raw, []byte("\n")) {
		record.WriteByte('\n')
	}
	record.WriteByte('\n')

	f, err := os.OpenFile(b.spoolPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(record.Bytes())
	return err
}
