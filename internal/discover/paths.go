package discover

import (
	"path"
	"strings"
)

// ServerPaths identifies a game server for remote path construction.
type ServerPaths struct {
	ServerID string
	Host     string
	BasePath string // explicit hint from configuration, searched first
	LegacyID string // historical numeric identifier used by some hosts
}

// Known map subdirectory names under a deathlogs directory. Each map writes
// its logs into its own subdirectory on multi-world hosts.
var mapSubdirs = []string{"world_0", "world0", "world_1", "world1", "map_0", "map0", "main", "default"}

// IsMapSubdir reports whether name is a known per-map log subdirectory.
func IsMapSubdir(name string) bool {
	lower := strings.ToLower(name)
	for _, known := range mapSubdirs {
		if lower == known {
			return true
		}
	}
	return false
}

// CandidateDirs returns the ordered list of remote directories to search for
// kill logs, most-likely-first: the configured hint, the standardized
// deathlogs layout, known historical layouts, then the server root. Pure
// function, no network I/O.
func CandidateDirs(sp ServerPaths) []string {
	serverDir := ServerDir(sp)

	var dirs []string
	appendUnique := func(d string) {
		d = path.Clean(d)
		for _, existing := range dirs {
			if existing == d {
				return
			}
		}
		dirs = append(dirs, d)
	}

	if sp.BasePath != "" {
		appendUnique(sp.BasePath)
	}
	appendUnique(path.Join("/", serverDir, "actual1", "deathlogs"))
	appendUnique(path.Join("/", serverDir, "deathlogs"))
	appendUnique(path.Join("/", serverDir))
	appendUnique("/deathlogs")
	appendUnique("/")

	return dirs
}

// ServerDir returns the hostname_id directory name the hosting providers use
// for each rented server.
func ServerDir(sp ServerPaths) string {
	return cleanHost(sp.Host) + "_" + PathID(sp)
}

// PathID returns the identifier used in remote directory names: the legacy
// numeric ID when configured, else the trailing digits of the server ID,
// else the server ID itself.
func PathID(sp ServerPaths) string {
	if sp.LegacyID != "" {
		return sp.LegacyID
	}
	if digits := trailingDigits(sp.ServerID); digits != "" {
		return digits
	}
	return sp.ServerID
}

// cleanHost strips an embedded :port suffix from a host string.
func cleanHost(host string) string {
	if idx := strings.IndexByte(host, ':'); idx != -1 {
		return host[:idx]
	}
	return host
}

// trailingDigits returns the longest run of digits at the end of s.
func trailingDigits(s string) string {
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	if start == end {
		return ""
	}
	return s[start:end]
}
