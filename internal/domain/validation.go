package domain

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrLocalPartInvalid 邮箱前缀格式无效
	ErrLocalPartInvalid = errors.New("local part invalid")
	// ErrDomainInvalid 域名格式无效
	ErrDomainInvalid = errors.New("domain invalid")
)

var (
	// 前缀只允许字母、数字和连字符
	localPartPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	domainPattern    = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)+$`)
)

const (
	maxLocalPartLength = 64
	maxDomainLength    = 253
)

// ValidateLocalPart 验证邮箱前缀格式。
func ValidateLocalPart(localPart string) error {
	if localPart == "" || len(localPart) > maxLocalPartLength {
		return ErrLocalPartInvalid
	}
	if !localPartPattern.MatchString(localPart) {
		return ErrLocalPartInvalid
	}
	return nil
}

// ValidateDomain 验证域名格式（不检查域名是否在允许列表中）。
func ValidateDomain(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || len(name) > maxDomainLength {
		return ErrDomainInvalid
	}
	if !domainPattern.MatchString(name) {
		return ErrDomainInvalid
	}
	return nil
}
