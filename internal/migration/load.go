package migration

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kazi/sqlapply/internal/verify"
)

//go:embed manifest.schema.json
var manifestSchema []byte

// Set is what a migration source yields: the statements to apply and any
// checks that travel with them.
type Set struct {
	Statements []Statement
	Checks     []verify.Definition
}

type manifest struct {
	Description string              `json:"description"`
	Statements  []manifestStatement `json:"statements"`
	Checks      []verify.Definition `json:"checks"`
}

type manifestStatement struct {
	SQL         string `json:"sql"`
	Optional    bool   `json:"optional"`
	Description string `json:"description"`
}

// UnmarshalJSON accepts either a bare SQL string or an object.
func (m *manifestStatement) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		m.SQL = s
		return nil
	}
	type plain manifestStatement
	return json.Unmarshal(data, (*plain)(m))
}

// Load reads a .sql file, a directory of .sql files, or a .json manifest.
func Load(path string, opts ParseOptions) (*Set, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration source: %w", err)
	}
	if info.IsDir() {
		return loadDir(path, opts)
	}

	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".json"):
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		return LoadManifest(data, filepath.Base(path))
	case strings.HasSuffix(lower, ".sql"):
		return loadFiles([]string{path}, opts)
	default:
		return nil, fmt.Errorf("unsupported migration source %s (expected .sql, .json or a directory)", path)
	}
}

// LoadScript parses script text read from somewhere other than a file, e.g. stdin.
func LoadScript(script, source string, opts ParseOptions) (*Set, error) {
	stmts, err := ParseScript(script, source, 1, opts)
	if err != nil {
		return nil, err
	}
	if len(stmts) == 0 {
		return nil, fmt.Errorf("no statements found in %s", source)
	}
	return &Set{Statements: stmts}, nil
}

func loadDir(dir string, opts ParseOptions) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if entry.Type()&os.ModeSymlink != 0 {
			continue
		}
		if strings.HasSuffix(strings.ToLower(entry.Name()), ".sql") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .sql files found in directory %s", dir)
	}

	sort.Strings(files)
	return loadFiles(files, opts)
}

// loadFiles numbers statements continuously across files.
func loadFiles(files []string, opts ParseOptions) (*Set, error) {
	set := &Set{}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read SQL file %s: %w", file, err)
		}
		stmts, err := ParseScript(string(data), filepath.Base(file), len(set.Statements)+1, opts)
		if err != nil {
			return nil, err
		}
		set.Statements = append(set.Statements, stmts...)
	}
	if len(set.Statements) == 0 {
		return nil, fmt.Errorf("no statements found in %s", strings.Join(files, ", "))
	}
	return set, nil
}

// LoadManifest validates and decodes a JSON manifest. Manifest statements are
// taken as already split.
func LoadManifest(data []byte, source string) (*Set, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(manifestSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", source, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid manifest %s:\n  %s", source, strings.Join(msgs, "\n  "))
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", source, err)
	}

	set := &Set{Checks: m.Checks}
	for i, ms := range m.Statements {
		sql := strings.TrimSpace(ms.SQL)
		set.Statements = append(set.Statements, Statement{
			Index:       i + 1,
			SQL:         sql,
			Optional:    ms.Optional || hasOptionalMarker(sql),
			Description: ms.Description,
			Source:      source,
		})
	}
	return set, nil
}
