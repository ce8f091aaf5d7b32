// Package registry tracks the fleet of versioned agent source files.
//
// The working directory is the source of truth: versions are files named
// <base>_v<N><ext> next to the hand-written bootstrap file. The registry
// never writes; version files are created by the mutation executor and the
// current pointer only advances when a review request is accepted upstream.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoSource means neither a versioned copy nor the bootstrap file exists.
// Without a runnable source there is nothing to evolve; callers must treat
// this as fatal.
var ErrNoSource = fmt.Errorf("no agent source found")

// Current identifies the authoritative version on disk.
type Current struct {
	Filename string // relative to the registry dir
	ID       int    // 0 for the bootstrap file
}

// Registry scans a directory for versioned copies of the agent source.
type Registry struct {
	dir       string
	bootstrap string // base filename, e.g. "agent.go"
	base      string // filename stem, e.g. "agent"
	ext       string // extension including dot, e.g. ".go"
	pattern   *regexp.Regexp
}

// New creates a registry rooted at dir for the given bootstrap filename.
// The version naming scheme is derived from the bootstrap name:
// "agent.go" yields versions "agent_v1.go", "agent_v2.go", ...
func New(dir, bootstrap string) *Registry {
	bootstrap = filepath.Base(bootstrap)
	ext := filepath.Ext(bootstrap)
	base := strings.TrimSuffix(bootstrap, ext)
	pattern := regexp.MustCompile(
		`^` + regexp.QuoteMeta(base) + `_v(\d+)` + regexp.QuoteMeta(ext) + `$`)
	return &Registry{
		dir:       dir,
		bootstrap: bootstrap,
		base:      base,
		ext:       ext,
		pattern:   pattern,
	}
}

// Resolve returns the currently authoritative version: the versioned copy
// with the highest id, or the bootstrap file when no copies exist yet.
func (r *Registry) Resolve() (Current, error) {
	max, found, err := r.maxVersion()
	if err != nil {
		return Current{}, err
	}
	if found {
		return Current{Filename: r.VersionFilename(max), ID: max}, nil
	}
	if _, err := os.Stat(filepath.Join(r.dir, r.bootstrap)); err != nil {
		return Current{}, fmt.Errorf("%w: neither %s nor any %s_v*%s in %s",
			ErrNoSource, r.bootstrap, r.base, r.ext, r.dir)
	}
	return Current{Filename: r.bootstrap, ID: 0}, nil
}

// NextID returns the id the next produced version must use. Ids only ever
// increase; gaps left by failed passes are never reused.
func (r *Registry) NextID() (int, error) {
	max, _, err := r.maxVersion()
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// VersionFilename returns the conventional filename for a version id.
func (r *Registry) VersionFilename(id int) string {
	return fmt.Sprintf("%s_v%d%s", r.base, id, r.ext)
}

// PlaceholderFilename is the literal version-filename placeholder the
// generation service is instructed to use, e.g. "agent_vN.go".
func (r *Registry) PlaceholderFilename() string {
	return r.base + "_vN" + r.ext
}

// Dir returns the directory the registry scans.
func (r *Registry) Dir() string {
	return r.dir
}

func (r *Registry) maxVersion() (max int, found bool, err error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, false, fmt.Errorf("failed to scan %s: %w", r.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := r.pattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = true
		if id > max {
			max = id
		}
	}
	return max, found, nil
}
