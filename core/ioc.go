package core

import (
	"regexp"
	"strings"
)

// IOCType represents the inferred type of an indicator of compromise
type IOCType string

const (
	IOCTypeMD5     IOCType = "hash_md5"
	IOCTypeSHA1    IOCType = "hash_sha1"
	IOCTypeSHA256  IOCType = "hash_sha256"
	IOCTypeIP      IOCType = "ip"
	IOCTypeURL     IOCType = "url"
	IOCTypeDomain  IOCType = "domain"
	IOCTypeUnknown IOCType = "unknown"
)

// Classification patterns, compiled once at package init
var (
	hexPattern    = regexp.MustCompile(`^[a-f0-9]+$`)
	ipv4Pattern   = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
	domainPattern = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
)

// DetectIOCType infers the indicator type of a raw string. First match
// wins, checked in order: hash length, dotted quad, URL scheme, domain
// labels. Anything else is IOCTypeUnknown; unknown indicators are still
// processed by sweeps, they just produce no evidence.
func DetectIOCType(value string) IOCType {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return IOCTypeUnknown
	}

	if hexPattern.MatchString(v) {
		switch len(v) {
		case 32:
			return IOCTypeMD5
		case 40:
			return IOCTypeSHA1
		case 64:
			return IOCTypeSHA256
		}
	}

	if ipv4Pattern.MatchString(v) {
		return IOCTypeIP
	}

	if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
		return IOCTypeURL
	}

	if domainPattern.MatchString(v) {
		return IOCTypeDomain
	}

	return IOCTypeUnknown
}

// NormalizeIOC returns the canonical form used for matching
func NormalizeIOC(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
