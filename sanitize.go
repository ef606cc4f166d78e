/*
File: sanitize.go
Version: 1.1.0
Description: Transforms raw chat messages into DNS-label-safe query names.
             Transformation is total and hard-fail: a message that cannot be
             sanitized within the DNS limits is rejected before any network I/O.
*/

package main

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

const (
	// DefaultZone is the public chat-over-DNS service.
	DefaultZone = "ch.at"

	maxRawMessageLen = 120
	maxLabelLen      = 63
	maxNameLen       = 255
)

var (
	labelRegex    = regexp.MustCompile(`^[a-z0-9-]+$`)
	disallowedRun = regexp.MustCompile(`[^a-z0-9-]+`)
	dashRun       = regexp.MustCompile(`-{2,}`)
)

// SanitizedQuery is the immutable result of sanitization. Built once per
// outbound query and discarded after use.
type SanitizedQuery struct {
	RawText   string
	Label     string
	QueryName string
}

// Sanitize validates and transforms a raw chat message into a DNS label and
// composes the fully-qualified query name against the given zone. The zone is
// normalized first; an empty or IP-literal zone falls back to DefaultZone.
func Sanitize(rawText, zone string) (*SanitizedQuery, error) {
	label, err := sanitizeLabel(rawText, maxRawMessageLen)
	if err != nil {
		return nil, err
	}

	name, err := ComposeQueryName(label, zone)
	if err != nil {
		return nil, err
	}

	return &SanitizedQuery{
		RawText:   rawText,
		Label:     label,
		QueryName: name,
	}, nil
}

// sanitizeLabel performs the message-to-label transformation:
// lowercase, spaces to dashes, strip everything outside [a-z0-9-],
// collapse dash runs, trim leading/trailing dashes.
func sanitizeLabel(rawText string, maxRawLen int) (string, error) {
	trimmed := strings.TrimSpace(rawText)
	if trimmed == "" {
		return "", &ValidationError{Reason: "message is empty"}
	}
	if len(trimmed) > maxRawLen {
		return "", &ValidationError{Reason: fmt.Sprintf("message exceeds %d characters", maxRawLen)}
	}
	for _, r := range trimmed {
		if r <= 0x1F || (r >= 0x7F && r <= 0x9F) {
			return "", &ValidationError{Reason: "message contains control characters"}
		}
	}

	label := strings.ToLower(trimmed)
	label = strings.ReplaceAll(label, " ", "-")
	label = disallowedRun.ReplaceAllString(label, "")
	label = dashRun.ReplaceAllString(label, "-")
	label = strings.Trim(label, "-")

	if label == "" {
		return "", &ValidationError{Reason: "message sanitizes to an empty label"}
	}
	if len(label) > maxLabelLen {
		return "", &ValidationError{Reason: fmt.Sprintf("sanitized label exceeds %d bytes", maxLabelLen)}
	}
	if !labelRegex.MatchString(label) {
		return "", &ValidationError{Reason: "sanitized label contains invalid characters"}
	}
	return label, nil
}

// ComposeQueryName joins a sanitized label with a normalized zone.
func ComposeQueryName(label, zone string) (string, error) {
	if label == "" || !labelRegex.MatchString(label) || len(label) > maxLabelLen {
		return "", &ValidationError{Reason: "label is not DNS-safe"}
	}

	z := NormalizeZone(zone)
	name := label + "." + z
	// Wire form costs one length byte per label plus the root byte.
	if len(name)+2 > maxNameLen {
		return "", &ValidationError{Reason: fmt.Sprintf("query name exceeds %d bytes", maxNameLen)}
	}
	return name, nil
}

// NormalizeZone cleans a caller-provided zone: trim whitespace, strip any
// trailing dots and a port suffix, lowercase. Empty input and bare IPv4
// literals fall back to DefaultZone, since an IP literal cannot host a zone.
func NormalizeZone(zone string) string {
	z := strings.TrimSpace(zone)
	z = strings.TrimRight(z, ".")

	// Strip a port suffix ("ch.at:53", "[::1]:53").
	if host, _, err := net.SplitHostPort(z); err == nil && host != "" {
		z = host
	}

	z = strings.ToLower(z)
	if z == "" {
		return DefaultZone
	}
	if ip := net.ParseIP(z); ip != nil {
		return DefaultZone
	}
	return z
}
