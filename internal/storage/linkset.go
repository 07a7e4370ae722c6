package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/IshaanNene/reportharvest/internal/types"
)

// LinkSet is the on-disk cache of discovered links: one link per line, no
// header, no escaping.
type LinkSet struct {
	path string
}

// NewLinkSet returns a LinkSet stored at path.
func NewLinkSet(path string) *LinkSet {
	return &LinkSet{path: path}
}

// Path returns the backing file path.
func (s *LinkSet) Path() string { return s.path }

// Exists reports whether the link set has been persisted.
func (s *LinkSet) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the persisted links, dropping blank lines and repeats while
// keeping file order.
func (s *LinkSet) Load() ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, &types.StorageError{Backend: "linkset", Err: err}
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, &types.StorageError{Backend: "linkset", Err: fmt.Errorf("read %s: %w", s.path, err)}
	}
	return UniqueLinks(lines), nil
}

// Save writes links to disk, replacing any previous set.
func (s *LinkSet) Save(links []string) error {
	data := strings.Join(UniqueLinks(links), "\n")
	if err := writeFileAtomic(s.path, func(f *os.File) error {
		_, err := f.WriteString(data)
		return err
	}); err != nil {
		return &types.StorageError{Backend: "linkset", Err: err}
	}
	return nil
}

// UniqueLinks returns links without blanks or repeats, first occurrence first.
func UniqueLinks(links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, l := range links {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
