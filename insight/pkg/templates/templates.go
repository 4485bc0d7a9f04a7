package templates

import (
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/cfuwib/insightbot/insight/pkg/templates/catalog"
	"gopkg.in/yaml.v3"
)

// GenericName is the name reported for the fallback template.
const GenericName = "generic"

// Source is one spreadsheet file and the sheets to read from it.
type Source struct {
	FileName   string   `yaml:"file_name"`
	SheetNames []string `yaml:"sheet_names"`
}

// Table describes a destination table and where its rows come from.
type Table struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Sources     []Source `yaml:"sources"`
}

// Prompt is a named instruction template.
type Prompt struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	File        string `yaml:"file"`
	Text        string `yaml:"-"`
}

type catalogFile struct {
	Tables          []Table  `yaml:"tables"`
	GenericTemplate string   `yaml:"generic_template"`
	Templates       []Prompt `yaml:"templates"`
}

// Store is an immutable view of the template catalog.
type Store struct {
	log     *slog.Logger
	tables  []Table
	prompts []Prompt
	byName  map[string]string
	generic string
}

// Load reads the embedded catalog.
func Load(log *slog.Logger) (*Store, error) {
	return LoadFS(log, catalog.FS, "catalog.yaml")
}

// LoadFS reads a catalog document and its templates from fsys.
func LoadFS(log *slog.Logger, fsys fs.FS, path string) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if doc.GenericTemplate == "" {
		return nil, fmt.Errorf("catalog has no generic template")
	}

	s := &Store{
		log:    log,
		tables: doc.Tables,
		byName: make(map[string]string, len(doc.Templates)),
	}
	if s.generic, err = readTemplate(fsys, doc.GenericTemplate); err != nil {
		return nil, err
	}
	for _, p := range doc.Templates {
		if p.Name == "" {
			return nil, fmt.Errorf("catalog template %q has no name", p.File)
		}
		if _, dup := s.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate template name %q", p.Name)
		}
		if p.Text, err = readTemplate(fsys, p.File); err != nil {
			return nil, err
		}
		s.byName[p.Name] = p.Text
		s.prompts = append(s.prompts, p)
	}
	return s, nil
}

func readTemplate(fsys fs.FS, path string) (string, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// GetPromptByName returns the instruction text registered under name, or the
// generic SQL template when name is unknown.
func (s *Store) GetPromptByName(name string) string {
	if text, ok := s.byName[name]; ok {
		return text
	}
	s.log.Warn("templates: prompt not found, using generic", "name", name)
	return s.generic
}

// Has reports whether name is a registered template.
func (s *Store) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Generic returns the fallback template text.
func (s *Store) Generic() string { return s.generic }

// Prompts returns the registered templates in catalog order.
func (s *Store) Prompts() []Prompt {
	return append([]Prompt(nil), s.prompts...)
}

// Tables returns the configured tables in catalog order.
func (s *Store) Tables() []Table {
	return append([]Table(nil), s.tables...)
}

// Table looks up a configured table by name.
func (s *Store) Table(name string) (Table, bool) {
	for _, t := range s.tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// PromptList renders the templates as "name: description" lines.
func (s *Store) PromptList() string {
	var sb strings.Builder
	for _, p := range s.prompts {
		fmt.Fprintf(&sb, "%s: %s\n", p.Name, p.Description)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// TableList renders the tables as "name: description" lines.
func (s *Store) TableList() string {
	var sb strings.Builder
	for _, t := range s.tables {
		fmt.Fprintf(&sb, "%s: %s\n", t.Name, t.Description)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
