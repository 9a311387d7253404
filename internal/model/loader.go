package model

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
)

// HeaderPrefix is the fixed comment prefix every header line must start
// with, matching the teacher's `-- key: value` convention.
const HeaderPrefix = "--"

// Loader reads a directory tree of `.sql` files into Definitions.
type Loader struct {
	log logr.Logger
}

// NewLoader builds a Loader.
func NewLoader(log logr.Logger) *Loader {
	return &Loader{log: log}
}

// LoadDir walks root and parses every `.sql` file it finds.
func (l *Loader) LoadDir(tenantID, root string) ([]*Definition, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".sql") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	defs := make([]*Definition, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		def, err := l.ParseFile(tenantID, p, string(data))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// ParseFile parses a single SQL file's content into a Definition.
func (l *Loader) ParseFile(tenantID, filePath, content string) (*Definition, error) {
	headers, body, err := splitHeader(content)
	if err != nil {
		return nil, &HeaderParseError{FilePath: filePath, Reason: err.Error()}
	}

	def := &Definition{
		TenantID:        tenantID,
		FilePath:        filePath,
		RawSQL:          content,
		Materialization: MaterializationTable,
		ContractMode:    ContractModeDisabled,
	}

	for key, value := range headers {
		switch key {
		case "name":
			def.Name = value
		case "kind":
			def.Kind = Kind(value)
		case "materialization":
			def.Materialization = Materialization(value)
		case "time_column":
			def.TimeColumn = value
		case "unique_key":
			def.UniqueKey = value
		case "owner":
			def.Owner = value
		case "tags":
			def.Tags = splitCSV(value)
		case "contract_mode":
			def.ContractMode = ContractMode(value)
		case "contract_columns":
			cols, err := parseContractColumns(value)
			if err != nil {
				return nil, &HeaderParseError{FilePath: filePath, Reason: err.Error()}
			}
			def.ContractColumns = cols
		case "depends_on":
			def.Dependencies = splitCSV(value)
		}
	}

	def.CleanSQL = strings.TrimSpace(body)
	def.ContentHash = ContentHash(NormalizeSQL(def.CleanSQL))

	def.ReferencedTables = extractReferencedTables(def.CleanSQL)

	def.downgradeInconsistentKind(l.log)

	return def, nil
}

// downgradeInconsistentKind implements the spec's documented Open Question
// resolution: an incremental kind missing its required column/key silently
// falls back to FULL_REFRESH, with an info-level log line so the behavior is
// observable.
func (d *Definition) downgradeInconsistentKind(log logr.Logger) {
	switch {
	case d.Kind == KindIncrementalByTime && d.TimeColumn == "":
		log.Info("downgrading model to FULL_REFRESH: INCREMENTAL_BY_TIME_RANGE without time_column",
			"model", d.Name)
		d.Kind = KindFullRefresh
	case d.Kind == KindMergeByKey && d.UniqueKey == "":
		log.Info("downgrading model to FULL_REFRESH: MERGE_BY_KEY without unique_key",
			"model", d.Name)
		d.Kind = KindFullRefresh
	}
}

// splitHeader extracts consecutive `-- key: value` lines at the top of the
// file, stopping at the first blank line or non-header line.
func splitHeader(content string) (map[string]string, string, error) {
	headers := make(map[string]string)
	lines := strings.Split(content, "\n")

	bodyStart := 0
	for i, line := range lines {
		trimmed := strings.TrimRight(line, "\r")
		if strings.TrimSpace(trimmed) == "" {
			bodyStart = i + 1
			break
		}
		if !strings.HasPrefix(strings.TrimSpace(trimmed), HeaderPrefix) {
			bodyStart = i
			break
		}
		rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(trimmed), HeaderPrefix))
		idx := strings.Index(rest, ":")
		if idx < 0 {
			bodyStart = i
			break
		}
		key := strings.TrimSpace(rest[:idx])
		value := strings.TrimSpace(rest[idx+1:])
		headers[key] = value
		bodyStart = i + 1
	}

	body := strings.Join(lines[bodyStart:], "\n")
	return headers, body, nil
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseContractColumns parses `name:TYPE[:NOT_NULL]` entries, failing when
// the column name or type is empty, or a third-position modifier is
// anything other than NOT_NULL.
func parseContractColumns(v string) ([]ContractColumn, error) {
	entries := splitCSV(v)
	cols := make([]ContractColumn, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, ":")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, &columnSyntaxError{entry: entry, reason: "missing column name or type"}
		}
		col := ContractColumn{
			Name:     parts[0],
			DataType: normalizeDataType(parts[1]),
			Nullable: true,
		}
		if len(parts) == 3 {
			if parts[2] != "NOT_NULL" {
				return nil, &columnSyntaxError{entry: entry, reason: "unsupported modifier " + strconv.Quote(parts[2])}
			}
			col.Nullable = false
		}
		if len(parts) > 3 {
			return nil, &columnSyntaxError{entry: entry, reason: "too many segments"}
		}
		cols = append(cols, col)
	}
	return cols, nil
}

type columnSyntaxError struct {
	entry  string
	reason string
}

func (e *columnSyntaxError) Error() string {
	return "invalid contract_columns entry " + strconv.Quote(e.entry) + ": " + e.reason
}

// extractReferencedTables is a best-effort FROM/JOIN table-name extractor.
// When it cannot confidently parse a reference it simply omits it — the
// loader never fails because of this step, matching the spec's "loaded with
// empty referenced_tables" fallback.
func extractReferencedTables(sql string) []string {
	seen := map[string]struct{}{}
	var out []string
	tokens := strings.Fields(strings.ToUpper(sql))
	raw := strings.Fields(sql)
	for i, tok := range tokens {
		if (tok == "FROM" || tok == "JOIN") && i+1 < len(raw) {
			name := strings.Trim(raw[i+1], ",;()\"'`")
			if name == "" || strings.ContainsAny(name, "*") {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
