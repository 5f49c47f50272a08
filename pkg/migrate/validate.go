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

var (
	sqlFileRe    = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	createTypeRe = regexp.MustCompile(`(?i)CREATE TYPE\s+(\w+)`)
)

type migrationFile struct {
	name    string
	version int64
}

// migrationFiles lists the .sql files in dir ordered by version. Badly named
// files come back as problems rather than failing the listing.
func migrationFiles(dir string) (out []migrationFile, problems error, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read dir %q: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		m := sqlFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: expected YYYYMMDDHHMMSS_name.sql", e.Name()))
			continue
		}
		version, _ := strconv.ParseInt(m[1], 10, 64)
		out = append(out, migrationFile{name: e.Name(), version: version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, problems, nil
}

// ValidateDir checks every migration in dir and reports all problems at once:
// names, duplicate versions, goose markers, balanced statement blocks and a
// matching DROP TYPE for each enum the Up section creates.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	files, errs, err := migrationFiles(dir)
	if err != nil {
		return err
	}

	for i, f := range files {
		if i > 0 && files[i-1].version == f.version {
			errs = multierr.Append(errs, fmt.Errorf("%s: duplicate version shared with %s", f.name, files[i-1].name))
		}
		b, err := os.ReadFile(filepath.Join(dir, f.name))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		errs = multierr.Append(errs, checkMigration(f.name, string(b)))
	}
	return errs
}

func checkMigration(name, sql string) error {
	up, down, ok := strings.Cut(sql, "-- +goose Down")
	if !strings.Contains(up, "-- +goose Up") {
		return fmt.Errorf("%s: missing \"-- +goose Up\"", name)
	}
	if !ok {
		return fmt.Errorf("%s: missing \"-- +goose Down\"", name)
	}

	var errs error
	if b, e := strings.Count(sql, "-- +goose StatementBegin"), strings.Count(sql, "-- +goose StatementEnd"); b != e {
		errs = multierr.Append(errs, fmt.Errorf("%s: %d StatementBegin vs %d StatementEnd", name, b, e))
	}
	for _, m := range createTypeRe.FindAllStringSubmatch(up, -1) {
		if !strings.Contains(strings.ToLower(down), "drop type if exists "+strings.ToLower(m[1])) {
			errs = multierr.Append(errs, fmt.Errorf("%s: Down does not drop type %s", name, m[1]))
		}
	}
	return errs
}
