package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// File permissions
const (
	DefaultDirPermissions = 0755
)

// Filename rules
const (
	MaxFilenameLength = 200
	FallbackFilename  = "video"
	CollisionSep      = "_"
)

// File extensions to skip
var (
	SkippedExtensions = []string{".part", ".ytdl"}
)

var (
	// ErrInvalidName is returned for names that would escape the directory
	ErrInvalidName = errors.New("invalid file name")

	// ErrNoOutput is returned when a staging directory holds no finished file
	ErrNoOutput = errors.New("no output file produced")
)

// CreateDirectoryIfNotExists creates directory if it doesn't exist
func CreateDirectoryIfNotExists(dirPath string) error {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return os.MkdirAll(dirPath, DefaultDirPermissions)
	}
	return nil
}

// SanitizeFilename keeps ASCII letters, digits, '.', '-', '_' and single
// spaces, trims the result and caps it at MaxFilenameLength characters.
// The result never starts with a dot, so it always passes SafeJoin.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	pendingSpace := false
	for _, r := range name {
		switch {
		case r < 0x80 && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '-' || r == '_'):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			pendingSpace = true
		}
	}

	clean := strings.TrimLeft(b.String(), ". ")
	if len(clean) > MaxFilenameLength {
		clean = strings.TrimSpace(clean[:MaxFilenameLength])
	}
	if clean == "" {
		return FallbackFilename
	}
	return clean
}

// ResolvePath returns the first free path for base+ext in dir, appending
// _1, _2, ... to the sanitized base on collision.
func ResolvePath(dir, base, ext string) string {
	clean := SanitizeFilename(base)
	candidate := filepath.Join(dir, clean+ext)
	for n := 1; fileExists(candidate); n++ {
		candidate = filepath.Join(dir, clean+CollisionSep+strconv.Itoa(n)+ext)
	}
	return candidate
}

// Resolver serializes every placement into the output directory so two
// tasks never pick the same final name.
type Resolver struct {
	dir string
	mu  sync.Mutex
}

// NewResolver creates a resolver for dir
func NewResolver(dir string) *Resolver {
	return &Resolver{dir: dir}
}

// Dir returns the output directory
func (r *Resolver) Dir() string {
	return r.dir
}

// Place moves src into the output directory under a sanitized, collision-free
// name derived from its own base name and returns the final path.
func (r *Resolver) Place(src string) (string, error) {
	ext := filepath.Ext(src)
	base := strings.TrimSuffix(filepath.Base(src), ext)

	r.mu.Lock()
	defer r.mu.Unlock()

	dst := ResolvePath(r.dir, base, ext)
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("failed to move %s: %w", filepath.Base(src), err)
	}
	return dst, nil
}

// SafeJoin joins a client-supplied file name onto dir, rejecting anything
// that is not a plain file name.
func SafeJoin(dir, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(dir, name), nil
}

// FindOutputFile returns the finished file inside a staging directory,
// skipping partial downloads. The largest candidate wins.
func FindOutputFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	type candidate struct {
		path string
		size int64
	}
	var candidates []candidate
	for _, entry := range entries {
		if !entry.Type().IsRegular() || isPartialFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{filepath.Join(dir, entry.Name()), info.Size()})
	}

	if len(candidates) == 0 {
		return "", ErrNoOutput
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].size > candidates[j].size
	})
	return candidates[0].path, nil
}

// ClearDirectory removes every entry inside dir and keeps dir itself
func ClearDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var errs []error
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isPartialFile(name string) bool {
	for _, ext := range SkippedExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
