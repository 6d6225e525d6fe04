package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

// ClientInfo holds parsed information from a User-Agent string
type ClientInfo struct {
	Browser  string `json:"browser"`
	Version  string `json:"version,omitempty"`
	OS       string `json:"os"`
	IsBot    bool   `json:"is_bot"`
	IsMobile bool   `json:"is_mobile"`
}

// ParseUserAgent parses a User-Agent string. Server-to-server callers
// such as payment providers usually come through as bots.
func ParseUserAgent(userAgent string) ClientInfo {
	if userAgent == "" || userAgent == "Unknown" {
		return ClientInfo{Browser: "Unknown", OS: "Unknown"}
	}

	parser := ua.New(userAgent)
	name, version := parser.Browser()
	if name == "" {
		name = "Unknown"
	}

	os := strings.TrimSpace(parser.OSInfo().Name + " " + parser.OSInfo().Version)
	if os == "" {
		os = "Unknown"
	}

	return ClientInfo{
		Browser:  name,
		Version:  majorVersion(version),
		OS:       os,
		IsBot:    parser.Bot(),
		IsMobile: parser.Mobile(),
	}
}

// DescribeClient renders a short label for audit rows, e.g. "Chrome 120 on Windows 10"
func DescribeClient(userAgent string) string {
	info := ParseUserAgent(userAgent)
	label := info.Browser
	if info.Version != "" {
		label += " " + info.Version
	}
	if info.IsBot {
		return label + " (bot)"
	}
	if info.OS != "Unknown" {
		label += " on " + info.OS
	}
	return label
}

func majorVersion(version string) string {
	if i := strings.Index(version, "."); i > 0 {
		return version[:i]
	}
	return version
}
