package config

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PackageAllowed reports whether pkg is permitted by the configured
// worker package allowlist, matched with shell-style glob patterns (so a
// project can allow "numpy", "pandas.*", etc.) rather than exact strings.
func (c *Config) PackageAllowed(pkg string) bool {
	for _, pattern := range c.PackageAllowlist {
		if ok, _ := doublestar.Match(pattern, pkg); ok {
			return true
		}
	}
	return false
}

// PreloadPackages returns the literal (non-glob) entries of the package
// allowlist: the subset concrete enough to hand the worker as a set of
// packages to import eagerly at startup, rather than merely match against
// on demand. A pattern entry like "pandas.*" or the default "*" describes
// what's permitted, not a concrete package to preload, so it's excluded.
func (c *Config) PreloadPackages() []string {
	var out []string
	for _, pattern := range c.PackageAllowlist {
		if strings.ContainsAny(pattern, "*?[]{}!") {
			continue
		}
		out = append(out, pattern)
	}
	return out
}
