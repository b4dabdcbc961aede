package model

import (
	"sort"
	"time"
)

// InstalledPackage is the durable record of one installed package: a metadata
// snapshot plus the digest of every file it owns. The file map includes the
// package's own metadata document but not its digest document.
type InstalledPackage struct {
	Metadata      Metadata          `json:"metadata"`
	InstalledAt   time.Time         `json:"installed_at"`
	InstalledFrom string            `json:"installed_from,omitempty"`
	Files         map[string]string `json:"files"`
}

// Paths returns the owned relative paths in sorted order.
func (p *InstalledPackage) Paths() []string {
	out := make([]string, 0, len(p.Files))
	for rel := range p.Files {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

// Owns reports whether the record owns rel, compared case-insensitively.
func (p *InstalledPackage) Owns(rel string) bool {
	want := NormalizePath(rel)
	for owned := range p.Files {
		if NormalizePath(owned) == want {
			return true
		}
	}
	return false
}
