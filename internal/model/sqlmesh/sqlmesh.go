// Package sqlmesh supplements the primary header-comment loader with an
// importer for existing SQLMesh projects, translating that ecosystem's
// MODEL(...) block syntax into IronLayer model.Definition records.
//
// This is not part of the core planning pipeline; it is a one-shot
// migration path for teams moving an existing SQLMesh project onto
// IronLayer. No ironlayerctl or ironlayerd command calls it; it is used as a
// library.
package sqlmesh

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/ironlayer/ironlayer/internal/model"
)

// kindMapping maps a SQLMesh model kind to (model.Kind, model.Materialization).
type kindMapping struct {
	kind            model.Kind
	materialization model.Materialization
}

var kindMap = map[string]kindMapping{
	"FULL":                      {model.KindFullRefresh, model.MaterializationTable},
	"VIEW":                      {model.KindFullRefresh, model.MaterializationView},
	"INCREMENTAL_BY_TIME_RANGE": {model.KindIncrementalByTime, model.MaterializationInsertOverwrite},
	"INCREMENTAL_BY_UNIQUE_KEY": {model.KindMergeByKey, model.MaterializationMerge},
	"INCREMENTAL_BY_PARTITION":  {model.KindIncrementalByTime, model.MaterializationInsertOverwrite},
	"SEED":                      {model.KindFullRefresh, model.MaterializationTable},
	"SCD_TYPE_2":                {model.KindMergeByKey, model.MaterializationMerge},
	"EMBEDDED":                  {model.KindFullRefresh, model.MaterializationView},
	"EXTERNAL":                  {model.KindFullRefresh, model.MaterializationView},
}

var (
	reModelBlock = regexp.MustCompile(`(?is)MODEL\s*\((.*?)\n\)`)
	reAttr       = regexp.MustCompile(`(?im)^\s*(\w+)\s+([^,\n]+),?\s*$`)
)

// ProjectConfig mirrors the handful of SQLMesh config.yaml fields that
// influence import (the rest of that format is out of scope).
type ProjectConfig struct {
	Gateway string `yaml:"gateway"`
	Default struct {
		Dialect string `yaml:"dialect"`
	} `yaml:"default_gateway"`
}

// Importer loads a SQLMesh project directory into model.Definitions.
type Importer struct {
	log logr.Logger
}

// NewImporter builds an Importer.
func NewImporter(log logr.Logger) *Importer {
	return &Importer{log: log}
}

// LoadProject walks projectPath/models for `.sql` and `.py` model files.
func (imp *Importer) LoadProject(tenantID, projectPath string) ([]*model.Definition, error) {
	if cfgPath := filepath.Join(projectPath, "config.yaml"); fileExists(cfgPath) {
		if _, err := imp.readConfig(cfgPath); err != nil {
			imp.log.Info("ignoring unreadable SQLMesh config.yaml", "path", cfgPath, "error", err.Error())
		}
	}

	modelsDir := filepath.Join(projectPath, "models")
	var paths []string
	err := filepath.WalkDir(modelsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".sql") || strings.HasSuffix(path, ".py") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	defs := make([]*model.Definition, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		var def *model.Definition
		if strings.HasSuffix(p, ".py") {
			def = imp.parsePythonModel(tenantID, p)
		} else {
			def, err = imp.parseSQLModel(tenantID, p, string(data))
			if err != nil {
				return nil, err
			}
		}
		if def != nil {
			defs = append(defs, def)
		}
	}
	return defs, nil
}

func (imp *Importer) readConfig(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseSQLModel extracts a MODEL(...) attribute block and the remaining SQL
// body, following sqlmesh's own `name`/`kind`/`owner`/`cron`/`grain`/`tags`/
// `depends_on` vocabulary.
func (imp *Importer) parseSQLModel(tenantID, path, content string) (*model.Definition, error) {
	match := reModelBlock.FindStringSubmatch(content)
	def := &model.Definition{
		TenantID:        tenantID,
		FilePath:        path,
		Materialization: model.MaterializationTable,
		Kind:            model.KindFullRefresh,
	}

	body := content
	if match != nil {
		attrs := parseAttrs(match[1])
		def.Name = unquote(attrs["name"])
		def.Owner = unquote(attrs["owner"])
		if grain := unquote(attrs["grain"]); grain != "" {
			def.UniqueKey = grain
		}
		if tags := attrs["tags"]; tags != "" {
			def.Tags = splitList(tags)
		}
		if dep := attrs["depends_on"]; dep != "" {
			def.Dependencies = splitList(dep)
		}
		if tc := unquote(attrs["time_column"]); tc != "" {
			def.TimeColumn = tc
		}
		if kindName := extractKindName(attrs["kind"]); kindName != "" {
			if mapping, ok := kindMap[strings.ToUpper(kindName)]; ok {
				def.Kind = mapping.kind
				def.Materialization = mapping.materialization
			}
		}
		body = content[len(match[0]):]
	}

	def.RawSQL = content
	def.CleanSQL = strings.TrimSpace(body)
	def.ContentHash = model.ContentHash(model.NormalizeSQL(def.CleanSQL))

	// Mirror the primary loader's downgrade rule for inconsistent kinds.
	if def.Kind == model.KindIncrementalByTime && def.TimeColumn == "" {
		imp.log.Info("downgrading imported model to FULL_REFRESH: missing time_column", "model", def.Name)
		def.Kind = model.KindFullRefresh
	}
	if def.Kind == model.KindMergeByKey && def.UniqueKey == "" {
		imp.log.Info("downgrading imported model to FULL_REFRESH: missing unique_key/grain", "model", def.Name)
		def.Kind = model.KindFullRefresh
	}

	return def, nil
}

// parsePythonModel handles @model-decorated Python models. IronLayer has no
// Python execution surface, so these import with a placeholder SQL body
// pointing back at the original source file — identical in spirit to the
// SQLMesh loader's own behavior for Python models.
func (imp *Importer) parsePythonModel(tenantID, path string) *model.Definition {
	name := strings.TrimSuffix(filepath.Base(path), ".py")
	placeholder := "-- Python model: see source at " + path
	return &model.Definition{
		TenantID:        tenantID,
		Name:            name,
		FilePath:        path,
		Kind:            model.KindFullRefresh,
		Materialization: model.MaterializationTable,
		CleanSQL:        placeholder,
		RawSQL:          placeholder,
		ContentHash:     model.ContentHash(model.NormalizeSQL(placeholder)),
	}
}

func parseAttrs(block string) map[string]string {
	out := map[string]string{}
	for _, m := range reAttr.FindAllStringSubmatch(block, -1) {
		out[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
	}
	return out
}

func extractKindName(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if idx := strings.IndexAny(raw, "( "); idx >= 0 {
		return raw[:idx]
	}
	return raw
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	return strings.Trim(s, `"'`)
}

func splitList(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "()[]")
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = unquote(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
