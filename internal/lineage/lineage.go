// Package lineage computes per-output-column provenance for a model,
// delegating the SQL parsing itself to an external AST toolkit where one
// is configured, and recursing across the dependency graph to resolve a
// target column back to its external (non-model) source.
package lineage

import (
	"regexp"
	"strings"

	"github.com/ironlayer/ironlayer/internal/dag"
	"github.com/ironlayer/ironlayer/internal/model"
)

// TransformType classifies how an output column derives from its source.
type TransformType string

const (
	TransformDirect      TransformType = "direct"
	TransformExpression  TransformType = "expression"
	TransformAggregation TransformType = "aggregation"
	TransformWindow      TransformType = "window"
	TransformCase        TransformType = "case"
	TransformLiteral     TransformType = "literal"
)

// ColumnLineage is the provenance of one output column.
type ColumnLineage struct {
	OutputColumn string
	SourceTable  string
	SourceColumn string
	Transform    TransformType
	Unresolved   bool
}

// Schema maps table name to its column set, used to expand `SELECT *`.
type Schema map[string]map[string]string

// ASTAnalyzer is the external SQL-AST toolkit this package delegates to.
// A production deployment wires a real parser; RegexAnalyzer below is the
// in-repo fallback for simple shapes.
type ASTAnalyzer interface {
	Analyze(sql string, schema Schema) ([]ColumnLineage, error)
}

// RegexAnalyzer handles the common `SELECT a, b, agg(c) AS d FROM t` shape
// without a real SQL parser. It is intentionally conservative: anything it
// cannot confidently classify is reported Unresolved rather than guessed.
type RegexAnalyzer struct{}

var (
	reSelect  = regexp.MustCompile(`(?is)SELECT\s+(.*?)\s+FROM\s+([A-Za-z_][A-Za-z0-9_.]*)`)
	reAgg     = regexp.MustCompile(`(?i)^(SUM|COUNT|AVG|MIN|MAX)\s*\(`)
	reWindow  = regexp.MustCompile(`(?i)OVER\s*\(`)
	reCase    = regexp.MustCompile(`(?i)^CASE\b`)
	reAlias   = regexp.MustCompile(`(?i)\s+AS\s+([A-Za-z_][A-Za-z0-9_]*)\s*$`)
	reLiteral = regexp.MustCompile(`^\s*('[^']*'|[0-9]+(\.[0-9]+)?)\s*$`)
)

// Analyze implements ASTAnalyzer.
func (RegexAnalyzer) Analyze(sql string, schema Schema) ([]ColumnLineage, error) {
	m := reSelect.FindStringSubmatch(sql)
	if m == nil {
		return nil, nil
	}
	columnsExpr, table := m[1], m[2]

	if strings.TrimSpace(columnsExpr) == "*" {
		cols, ok := schema[table]
		if !ok {
			return []ColumnLineage{{SourceTable: table, Unresolved: true}}, nil
		}
		results := make([]ColumnLineage, 0, len(cols))
		for col := range cols {
			results = append(results, ColumnLineage{
				OutputColumn: col,
				SourceTable:  table,
				SourceColumn: col,
				Transform:    TransformDirect,
			})
		}
		return results, nil
	}

	parts := splitTopLevelCommas(columnsExpr)
	results := make([]ColumnLineage, 0, len(parts))
	for _, part := range parts {
		results = append(results, analyzeExpr(strings.TrimSpace(part), table))
	}
	return results, nil
}

func analyzeExpr(expr, table string) ColumnLineage {
	outputCol := expr
	body := expr
	if alias := reAlias.FindStringSubmatch(expr); alias != nil {
		outputCol = alias[1]
		body = strings.TrimSpace(expr[:len(expr)-len(alias[0])])
	}

	switch {
	case reLiteral.MatchString(body):
		return ColumnLineage{OutputColumn: outputCol, Transform: TransformLiteral}
	case reCase.MatchString(body):
		return ColumnLineage{OutputColumn: outputCol, SourceTable: table, Transform: TransformCase, Unresolved: true}
	case reWindow.MatchString(body):
		return ColumnLineage{OutputColumn: outputCol, SourceTable: table, Transform: TransformWindow, Unresolved: true}
	case reAgg.MatchString(body):
		return ColumnLineage{OutputColumn: outputCol, SourceTable: table, Transform: TransformAggregation, Unresolved: true}
	case isPlainIdentifier(body):
		return ColumnLineage{OutputColumn: outputCol, SourceTable: table, SourceColumn: body, Transform: TransformDirect}
	default:
		return ColumnLineage{OutputColumn: outputCol, SourceTable: table, Transform: TransformExpression, Unresolved: true}
	}
}

var reIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

func isPlainIdentifier(s string) bool {
	return reIdentifier.MatchString(s)
}

func splitTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// Resolver walks the dependency graph to trace a column back through
// upstream models until it reaches an external (non-model) source.
type Resolver struct {
	analyzer ASTAnalyzer
	graph    *dag.Graph
	models   map[string]model.Definition
}

// NewResolver builds a Resolver. analyzer may be nil, in which case a
// RegexAnalyzer is used.
func NewResolver(analyzer ASTAnalyzer, graph *dag.Graph, models map[string]model.Definition) *Resolver {
	if analyzer == nil {
		analyzer = RegexAnalyzer{}
	}
	return &Resolver{analyzer: analyzer, graph: graph, models: models}
}

// ColumnLineageFor returns the lineage of every output column of modelName.
func (r *Resolver) ColumnLineageFor(modelName string, schema Schema) ([]ColumnLineage, error) {
	def, ok := r.models[modelName]
	if !ok {
		return nil, nil
	}
	return r.analyzer.Analyze(def.CleanSQL, schema)
}

// TraceColumn recurses a single output column back through upstream models.
// It stops at the first source whose SourceTable is not itself a known
// model (an external table), or at maxDepth to guard against a
// pathological graph.
func (r *Resolver) TraceColumn(modelName, column string, schema Schema, maxDepth int) ([]ColumnLineage, error) {
	chain := make([]ColumnLineage, 0, maxDepth)
	currentModel, currentCol := modelName, column

	for depth := 0; depth < maxDepth; depth++ {
		lineages, err := r.ColumnLineageFor(currentModel, schema)
		if err != nil {
			return chain, err
		}

		var found *ColumnLineage
		for i := range lineages {
			if lineages[i].OutputColumn == currentCol {
				found = &lineages[i]
				break
			}
		}
		if found == nil {
			return chain, nil
		}
		chain = append(chain, *found)

		if found.Unresolved || found.Transform != TransformDirect {
			return chain, nil
		}
		if _, isModel := r.models[found.SourceTable]; !isModel {
			return chain, nil
		}
		currentModel, currentCol = found.SourceTable, found.SourceColumn
	}
	return chain, nil
}
