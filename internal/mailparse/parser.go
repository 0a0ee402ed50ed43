// Package mailparse 将一条原始邮件记录解码为结构化草稿。
//
// 解析器是纯函数，不感知存储；单条记录的任何解码失败都被就地吸收，
// 绝不影响后续记录的处理。
package mailparse

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/google/uuid"
)

const (
	// DefaultSubject 缺失主题时的占位值
	DefaultSubject = "No Subject"
	// DefaultBody 无可提取正文时的占位值
	DefaultBody = "No content"
)

// Draft 表示从邮件原文中提取出的结构化草稿。
type Draft struct {
	Recipient string // 收件地址（来自 To 头）
	Sender    string // 发件人原始头值
	Subject   string // 解码后的主题
	MessageID string // 传输层标识，缺失时为随机生成的替代值
	Body      string // 解码后的纯文本正文
}

// Parse 解析一条原始邮件记录。
//
// 只有邮件头完全无法读取时才返回错误；正文与主题的解码失败都退化为
// 原文或占位值。
func Parse(raw []byte) (*Draft, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}

	draft := &Draft{
		Recipient: ExtractAddress(msg.Header.Get("To")),
		Sender:    msg.Header.Get("From"),
		Subject:   decodeSubject(msg.Header.Get("Subject")),
		MessageID: messageID(msg.Header.Get("Message-Id")),
	}

	draft.Body = extractBody(msg)
	if draft.Body == "" {
		draft.Body = DefaultBody
	}
	return draft, nil
}

// ExtractAddress 从地址头中提取裸地址。
//
// 含尖括号时取 < 与 > 之间的子串；否则去除首尾空白并剥离引号字符。
func ExtractAddress(header string) string {
	if open := strings.Index(header, "<"); open >= 0 {
		if end := strings.Index(header[open+1:], ">"); end >= 0 {
			return strings.TrimSpace(header[open+1 : open+1+end])
		}
	}
	trimmed := strings.TrimSpace(header)
	trimmed = strings.ReplaceAll(trimmed, `"`, "")
	return strings.ReplaceAll(trimmed, "'", "")
}

// decodeSubject 解码 RFC 2047 编码的主题头，失败时回退为原文。
func decodeSubject(header string) string {
	if header == "" {
		return DefaultSubject
	}
	dec := mime.WordDecoder{CharsetReader: charsetReader}
	decoded, err := dec.DecodeHeader(header)
	if err != nil {
		return header
	}
	return decoded
}

// messageID 返回传输层标识，缺失时生成不可猜测的替代值，保证两封无
// 标识的邮件不会互相去重。
func messageID(header string) string {
	id := strings.TrimSpace(header)
	if id == "" {
		return fmt.Sprintf("<%s@dropmail.generated>", uuid.NewString())
	}
	return id
}

// extractBody 按优先级提取正文。
//
// multipart 邮件优先取第一个 text/plain 部分；没有时回退到第一个
// text/html 部分并转为纯文本。非 multipart 邮件直接解码单一载荷。
func extractBody(msg *mail.Message) string {
	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// 没有 Content-Type 或解析失败，当作纯文本处理
		body, _ := io.ReadAll(msg.Body)
		return strings.TrimSpace(string(body))
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return ""
		}
		var plain, html string
		collectParts(multipart.NewReader(msg.Body, boundary), &plain, &html)
		if plain != "" {
			return strings.TrimSpace(plain)
		}
		if html != "" {
			return HTMLToText(html)
		}
		return ""
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), params["charset"])
	if err != nil {
		return ""
	}
	return strings.TrimSpace(body)
}

// collectParts 递归遍历 multipart 各部分，收集第一个纯文本与第一个
// HTML 正文。单个部分的解码失败只影响该部分。
func collectParts(mr *multipart.Reader, plain, html *string) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return
		}

		contentType := part.Header.Get("Content-Type")
		mediaType, params, err := mime.ParseMediaType(contentType)
		if err != nil {
			mediaType = "text/plain"
		}

		// 附件不参与正文提取
		if disposition := part.Header.Get("Content-Disposition"); disposition != "" {
			if dispType, _, err := mime.ParseMediaType(disposition); err == nil && dispType == "attachment" {
				continue
			}
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if boundary := params["boundary"]; boundary != "" {
				collectParts(multipart.NewReader(part, boundary), plain, html)
			}
			continue
		}

		body, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"])
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(mediaType, "text/plain"):
			if *plain == "" {
				*plain = body
			}
		case strings.HasPrefix(mediaType, "text/html"):
			if *html == "" {
				*html = body
			}
		}

		if *plain != "" {
			return
		}
	}
}

// decodeBody 根据传输编码与字符集解码邮件体。
func decodeBody(reader io.Reader, transferEncoding string, charset string) (string, error) {
	transferEncoding = strings.ToLower(strings.TrimSpace(transferEncoding))

	var decoded io.Reader
	switch transferEncoding {
	case "base64":
		decoded = base64.NewDecoder(base64.StdEncoding, reader)
	case "quoted-printable":
		decoded = quotedprintable.NewReader(reader)
	default:
		// 7bit/8bit/binary 以及未知编码：按原样读取
		decoded = reader
	}

	body, err := io.ReadAll(decoded)
	if err != nil {
		return "", err
	}
	return convertCharset(body, charset), nil
}
