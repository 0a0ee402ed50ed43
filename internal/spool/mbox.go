// Package spool 负责消费邮件传输代理写入的 mbox 格式暂存文件。
package spool

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// mbox 单行长度上限（1MB），含有超长行的邮件按解析失败处理
const maxLineSize = 1 << 20

// SplitRecords 将 mbox 格式的内容切分为单条邮件记录。
//
// 以行首的 "From " 分隔行作为记录边界，分隔行本身不计入记录；正文中
// 被转义的 ">From " 行还原一层转义（mboxrd 约定）。分隔行之前出现的
// 非空内容被宽容地当作一条记录处理。含有超长行的记录被整条丢弃，
// 从下一个分隔行起恢复切分，不影响其余记录。
func SplitRecords(r io.Reader) ([][]byte, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	records := make([][]byte, 0)
	var current bytes.Buffer
	started := false
	skipping := false

	flush := func() {
		if started && !skipping && len(bytes.TrimSpace(current.Bytes())) > 0 {
			record := make([]byte, current.Len())
			copy(record, current.Bytes())
			records = append(records, record)
		}
		current.Reset()
	}

	for {
		line, tooLong, err := readLine(br)
		atEOF := errors.Is(err, io.EOF)

		switch {
		case tooLong:
			// 超长行污染所在记录：丢弃已累积的内容并跳过后续行，
			// 直到下一个分隔行
			current.Reset()
			started = true
			skipping = true
		case len(line) == 0 && atEOF:
		case bytes.HasPrefix(line, []byte("From ")):
			flush()
			started = true
			skipping = false
		case skipping:
		case !started && len(bytes.TrimSpace(line)) == 0:
			// 分隔行之前的空白行
		default:
			started = true
			if bytes.HasPrefix(line, []byte(">From ")) {
				line = line[1:]
			}
			current.Write(line)
			current.WriteByte('\n')
		}

		if err != nil {
			flush()
			if atEOF {
				return records, nil
			}
			return records, err
		}
	}
}

// readLine 读取一行内容（去掉换行符）。整行长度超过 maxLineSize 时
// 返回 tooLong=true 并丢弃该行剩余的字节。
func readLine(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, readErr := br.ReadSlice('\n')
		line = append(line, chunk...)

		if readErr == nil || errors.Is(readErr, io.EOF) {
			if len(line) > maxLineSize {
				return nil, true, readErr
			}
			return bytes.TrimSuffix(line, []byte("\n")), false, readErr
		}
		if errors.Is(readErr, bufio.ErrBufferFull) {
			if len(line) > maxLineSize {
				return nil, true, discardLine(br)
			}
			continue
		}
		return nil, false, readErr
	}
}

// discardLine 丢弃当前行剩余的字节。
func discardLine(br *bufio.Reader) error {
	for {
		_, err := br.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return err
	}
}

// StuffLines 对要写入 mbox 的邮件体做 "From " 行转义（mboxrd 约定），
// 供把邮件追加进暂存文件的写入方使用。
func StuffLines(body []byte) []byte {
	lines := bytes.Split(body, []byte("\n"))
	for i, line := range lines {
		trimmed := bytes.TrimLeft(line, ">")
		if bytes.HasPrefix(trimmed, []byte("From ")) {
			lines[i] = append([]byte(">"), line...)
		}
	}
	return bytes.Join(lines, []byte("\n"))
}
