package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

const (
	gooseUp   = "-- +goose Up"
	gooseDown = "-- +goose Down"
)

var (
	sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

	// column definitions, inline or via ALTER TABLE ... ADD COLUMN
	columnDefRe = regexp.MustCompile(`^\s*(?:alter\s+table\s+(?:if\s+exists\s+)?\S+\s+)?(?:add\s+column\s+(?:if\s+not\s+exists\s+)?)?([a-z0-9_]+)\s+([a-z0-9]+)(.*)$`)

	// types that lose or round cents
	inexactMoneyTypes = map[string]bool{
		"numeric": true, "decimal": true, "real": true, "double": true,
		"float": true, "float4": true, "float8": true, "money": true,
		"integer": true, "int": true, "int4": true, "smallint": true, "int2": true,
	}
)

// migrationFile is one versioned goose file in a migrations directory.
type migrationFile struct {
	Version int64
	Name    string
	Path    string
}

// ValidateDir checks every migration in dir against the settlement schema
// conventions: YYYYMMDDHHMMSS_name.sql filenames with unique versions, an Up
// section before a Down section, *_cents columns stored as bigint and *_at
// columns stored as timestamptz. All violations are reported together.
func ValidateDir(dir string) error {
	files, err := listMigrations(dir)
	if err != nil {
		return err
	}

	var errs error
	for _, file := range files {
		b, err := os.ReadFile(file.Path)
		if err != nil {
			return fmt.Errorf("read file %q: %w", file.Path, err)
		}
		errs = multierr.Append(errs, validateSQL(file.Name, string(b)))
	}
	return errs
}

func validateSQL(name, txt string) error {
	up := strings.Index(txt, gooseUp)
	down := strings.Index(txt, gooseDown)
	switch {
	case up < 0:
		return fmt.Errorf("migration %q missing %q", name, gooseUp)
	case down < 0:
		return fmt.Errorf("migration %q missing %q", name, gooseDown)
	case down < up:
		return fmt.Errorf("migration %q declares Down before Up", name)
	}

	var errs error
	for _, line := range strings.Split(txt[up:down], "\n") {
		line = strings.ToLower(line)
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		m := columnDefRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		column, typ, rest := m[1], m[2], strings.TrimSpace(m[3])
		if strings.Contains(column, "_cents") && inexactMoneyTypes[typ] {
			errs = multierr.Append(errs, fmt.Errorf("migration %q: column %s is %s, money columns must be bigint cents", name, column, typ))
		}
		if strings.HasSuffix(column, "_at") && (typ == "date" || (typ == "timestamp" && !strings.HasPrefix(rest, "with time zone"))) {
			errs = multierr.Append(errs, fmt.Errorf("migration %q: column %s is %s, timestamps must be timestamptz", name, column, typ))
		}
	}
	return errs
}

// listMigrations returns the .sql migrations in dir ordered by version.
func listMigrations(dir string) ([]migrationFile, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	seen := map[int64]string{}
	var files []migrationFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name)
		}
		version, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse version of %q: %w", name, err)
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("duplicate migration version %d in %q and %q", version, prev, name)
		}
		seen[version] = name
		files = append(files, migrationFile{Version: version, Name: name, Path: filepath.Join(dir, name)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}
