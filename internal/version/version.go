// Package appversion provides build version information injected via ldflags.
//
// All variables are set at build time:
//
//	-ldflags="-X github.com/netice/goice/internal/version.Version=v1.0.0
//	          -X github.com/netice/goice/internal/version.GitCommit=abc1234
//	          -X github.com/netice/goice/internal/version.BuildDate=2026-02-22T12:00:00Z"
package appversion

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Version is the semantic version (e.g., "v0.1.0" or "dev").
var Version = "dev"

// GitCommit is the short git commit hash at build time.
var GitCommit = "unknown"

// BuildDate is the RFC 3339 build timestamp.
var BuildDate = "unknown"

// Transports lists the transport.Transport values this binary harvests
// and demuxes candidates for. It is a fixed list, not derived from
// internal/transport at run time.
var Transports = []string{"udp", "tcp"}

// Info is the structured view of build version information, for
// icectl's --format json/table split (see cmd/icectl/commands/format.go).
type Info struct {
	Binary     string   `json:"binary"`
	Version    string   `json:"version"`
	GitCommit  string   `json:"git_commit"`
	BuildDate  string   `json:"build_date"`
	Transports []string `json:"transports"`
}

// Get returns the current build version information for binary.
func Get(binary string) Info {
	return Info{
		Binary:     binary,
		Version:    Version,
		GitCommit:  GitCommit,
		BuildDate:  BuildDate,
		Transports: Transports,
	}
}

// Full returns a human-readable multi-line version string.
func Full(binary string) string {
	info := Get(binary)
	return fmt.Sprintf("%s %s\n  commit:     %s\n  built:      %s\n  transports: %s",
		info.Binary, info.Version, info.GitCommit, info.BuildDate, strings.Join(info.Transports, ", "))
}

// JSON returns the build version information as an indented JSON document.
func (i Info) JSON() (string, error) {
	b, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal version info: %w", err)
	}
	return string(b), nil
}
