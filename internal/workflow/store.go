package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"comfyrelay/internal/domain"
)

// Extension is appended to template names that do not already carry it.
const Extension = ".json"

// Store resolves template names against a configured root and falls back to
// the process working directory for ad-hoc local templates.
type Store struct {
	root    string
	workDir func() (string, error)
}

// Entry describes a template available in the root directory.
type Entry struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
}

func NewStore(root string) *Store {
	return &Store{root: strings.TrimSpace(root), workDir: os.Getwd}
}

// Root returns the configured template directory.
func (s *Store) Root() string {
	return s.root
}

// SanitizeName reduces a caller supplied name to its final path segment and
// appends Extension when missing. It returns "" for names with no usable
// segment.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	base := filepath.Base(filepath.FromSlash(name))
	switch base {
	case ".", "..", string(filepath.Separator), "":
		return ""
	}
	if !strings.HasSuffix(base, Extension) {
		base += Extension
	}
	return base
}

// Load reads and decodes the named template. Every call reads the file again
// and returns a fresh copy. Errors name only the sanitized filename.
func (s *Store) Load(name string) (domain.Template, error) {
	filename := SanitizeName(name)
	if filename == "" {
		return nil, fmt.Errorf("workflow: invalid template name: %w", domain.ErrTemplateNotFound)
	}
	for _, dir := range s.searchDirs() {
		data, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("workflow: read %s: %w", filename, err)
		}
		tpl, err := decodeTemplate(data)
		if err != nil {
			return nil, fmt.Errorf("workflow: decode %s: %w", filename, err)
		}
		return tpl, nil
	}
	return nil, fmt.Errorf("workflow: %s: %w", filename, domain.ErrTemplateNotFound)
}

// List returns the templates in the root directory sorted by filename.
func (s *Store) List() ([]Entry, error) {
	if s.root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("workflow: list templates: %w", err)
	}
	var out []Entry
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		out = append(out, Entry{Name: DisplayName(e.Name()), Filename: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// DisplayName turns "rmbg_basic.json" into "Rmbg Basic".
func DisplayName(filename string) string {
	stem := strings.TrimSuffix(filename, Extension)
	stem = strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	return cases.Title(language.Und).String(strings.Join(strings.Fields(stem), " "))
}

func (s *Store) searchDirs() []string {
	var dirs []string
	if s.root != "" {
		dirs = append(dirs, s.root)
	}
	if s.workDir != nil {
		if wd, err := s.workDir(); err == nil && wd != "" && !sameDir(s.root, wd) {
			dirs = append(dirs, wd)
		}
	}
	return dirs
}

func sameDir(a, b string) bool {
	if a == "" {
		return false
	}
	abs, err := filepath.Abs(a)
	return err == nil && abs == filepath.Clean(b)
}

func decodeTemplate(data []byte) (domain.Template, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tpl domain.Template
	if err := dec.Decode(&tpl); err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, errors.New("template is empty")
	}
	return tpl, nil
}
