package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// storeExtensions lists recognised store files in resolution order: when two
// files share a base name the earlier extension wins.
var storeExtensions = []struct {
	ext  string
	kind Kind
}{
	{ext: ".duckdb", kind: KindDuckDB},
	{ext: ".db", kind: KindSQLite},
	{ext: ".sqlite", kind: KindSQLite},
	{ext: ".sqlite3", kind: KindSQLite},
}

// Catalog discovers datasets by scanning a single directory for store files.
// Nothing is cached; every call reflects the directory as it is now.
type Catalog struct {
	dir string
}

func NewCatalog(dir string) (*Catalog, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("dataset dir is required")
	}
	return &Catalog{dir: filepath.Clean(dir)}, nil
}

func (c *Catalog) Dir() string {
	return c.dir
}

func (c *Catalog) List() ([]Dataset, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read dataset dir %q: %w", c.dir, err)
	}

	byName := map[string]Dataset{}
	rank := map[string]int{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		priority, kind, ok := lookupExtension(ext)
		if !ok {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if !namePattern.MatchString(name) {
			continue
		}
		if existing, seen := rank[name]; seen && existing <= priority {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if ext == ".db" {
			kind = detectKind(path, kind)
		}
		byName[name] = Dataset{Name: name, Path: path, Kind: kind}
		rank[name] = priority
	}

	datasets := make([]Dataset, 0, len(byName))
	for _, ds := range byName {
		datasets = append(datasets, ds)
	}
	sort.Slice(datasets, func(i, j int) bool { return datasets[i].Name < datasets[j].Name })
	return datasets, nil
}

func (c *Catalog) Get(name string) (Dataset, error) {
	if err := ValidateName(name); err != nil {
		return Dataset{}, &AccessError{Dataset: name, Op: "resolve", Err: err}
	}
	for _, candidate := range storeExtensions {
		path := filepath.Join(c.dir, name+candidate.ext)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Dataset{}, &AccessError{Dataset: name, Op: "resolve", Err: err}
		}
		if info.IsDir() {
			continue
		}
		kind := candidate.kind
		if candidate.ext == ".db" {
			kind = detectKind(path, kind)
		}
		return Dataset{Name: name, Path: path, Kind: kind}, nil
	}
	return Dataset{}, &AccessError{Dataset: name, Op: "resolve", Err: ErrNotFound}
}

// PathFor returns where a new DuckDB store for name is written.
func (c *Catalog) PathFor(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(c.dir, name+".duckdb"), nil
}

// Delete removes the dataset's store file and any DuckDB write-ahead log next
// to it.
func (c *Catalog) Delete(name string) (Dataset, error) {
	ds, err := c.Get(name)
	if err != nil {
		return Dataset{}, err
	}
	if err := os.Remove(ds.Path); err != nil {
		return Dataset{}, &AccessError{Dataset: name, Op: "delete", Err: err}
	}
	if ds.Kind == KindDuckDB {
		if err := os.Remove(ds.Path + ".wal"); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Dataset{}, &AccessError{Dataset: name, Op: "delete", Err: err}
		}
	}
	return ds, nil
}

func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid dataset name: %q", name)
	}
	return nil
}

// NameFromFile derives a dataset name from an uploaded file name: the base
// name without extension, with unsupported characters collapsed to "_".
func NameFromFile(fileName string) string {
	base := filepath.Base(strings.ReplaceAll(fileName, `\`, "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = invalidNameChars.ReplaceAllString(strings.TrimSpace(base), "_")
	base = strings.TrimLeft(base, "._-")
	if len(base) > 128 {
		base = base[:128]
	}
	if base == "" {
		return "dataset"
	}
	return base
}

func lookupExtension(ext string) (int, Kind, bool) {
	for i, candidate := range storeExtensions {
		if candidate.ext == ext {
			return i, candidate.kind, true
		}
	}
	return 0, "", false
}
