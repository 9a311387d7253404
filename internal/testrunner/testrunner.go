// Package testrunner generates SQL assertion queries from declarative
// model test definitions. Identifier safety follows the same
// classify-before-build posture as a read-only query tool: every piece of
// untrusted text is validated against an allowlist or rejection set
// before any SQL string is assembled, because the identifiers go into the
// SQL text itself — there is no parameterization to fall back on.
package testrunner

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/ironlayer/ironlayer/internal/model"
)

// identifierPart matches one dotted segment of a model or column name.
var identifierPart = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// rejectedValueChars are forbidden anywhere in an ACCEPTED_VALUES literal.
const rejectedValueChars = `'\;`

// ErrUnsafeIdentifier is returned when a model or column name fails the
// dotted-identifier allowlist.
type ErrUnsafeIdentifier struct {
	Identifier string
}

func (e *ErrUnsafeIdentifier) Error() string {
	return fmt.Sprintf("testrunner: unsafe SQL identifier %q", e.Identifier)
}

// ErrUnsafeValue is returned when an ACCEPTED_VALUES literal contains a
// rejected character.
type ErrUnsafeValue struct {
	Value string
}

func (e *ErrUnsafeValue) Error() string {
	return fmt.Sprintf("testrunner: unsafe accepted value %q", e.Value)
}

// validateIdentifier checks every dot-separated part of name against the
// allowlist regex.
func validateIdentifier(name string) error {
	for _, part := range strings.Split(name, ".") {
		if !identifierPart.MatchString(part) {
			return &ErrUnsafeIdentifier{Identifier: name}
		}
	}
	return nil
}

// validateAcceptedValue rejects any literal containing a quote, backslash,
// or semicolon.
func validateAcceptedValue(v string) error {
	if strings.ContainsAny(v, rejectedValueChars) {
		return &ErrUnsafeValue{Value: v}
	}
	return nil
}

// BuildQuery renders the assertion SQL for one test definition against a
// model name, validating every embedded identifier and literal before
// building anything. Returns an error before any SQL is constructed if
// validation fails.
func BuildQuery(modelName string, test model.TestDefinition) (string, error) {
	if err := validateIdentifier(modelName); err != nil {
		return "", err
	}

	switch test.Type {
	case model.TestTypeNotNull:
		if err := validateIdentifier(test.Column); err != nil {
			return "", err
		}
		return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", modelName, test.Column), nil

	case model.TestTypeUnique:
		if err := validateIdentifier(test.Column); err != nil {
			return "", err
		}
		return fmt.Sprintf(
			"SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) dup",
			test.Column, modelName, test.Column,
		), nil

	case model.TestTypeAcceptedValues:
		if err := validateIdentifier(test.Column); err != nil {
			return "", err
		}
		quoted := make([]string, 0, len(test.Values))
		for _, v := range test.Values {
			if err := validateAcceptedValue(v); err != nil {
				return "", err
			}
			quoted = append(quoted, "'"+v+"'")
		}
		return fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE %s NOT IN (%s)",
			modelName, test.Column, strings.Join(quoted, ", "),
		), nil

	case model.TestTypeRowCountMin:
		return fmt.Sprintf(
			"SELECT CASE WHEN COUNT(*) < %d THEN 1 ELSE 0 END FROM %s",
			test.Threshold, modelName,
		), nil

	default:
		return "", fmt.Errorf("testrunner: unknown test type %q", test.Type)
	}
}

// Result is the outcome of running one test.
type Result struct {
	ModelName string
	Test      model.TestDefinition
	Passed    bool
	Scalar    int64
	Err       error
}

// Querier executes a single-scalar-row query; satisfied by *sql.DB/*sql.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Run builds and executes the assertion query for test against modelName,
// using db. A test passes iff the returned scalar is 0.
func Run(ctx context.Context, db Querier, modelName string, test model.TestDefinition) Result {
	query, err := BuildQuery(modelName, test)
	if err != nil {
		return Result{ModelName: modelName, Test: test, Err: err}
	}

	var scalar int64
	if err := db.QueryRowContext(ctx, query).Scan(&scalar); err != nil {
		return Result{ModelName: modelName, Test: test, Err: err}
	}

	return Result{
		ModelName: modelName,
		Test:      test,
		Passed:    scalar == 0,
		Scalar:    scalar,
	}
}

// RunAll runs every test attached to def and reports whether any BLOCK-
// severity test failed.
func RunAll(ctx context.Context, db Querier, def model.Definition) ([]Result, bool) {
	results := make([]Result, 0, len(def.Tests))
	blocked := false
	for _, test := range def.Tests {
		res := Run(ctx, db, def.Name, test)
		results = append(results, res)
		if !res.Passed && test.Severity == model.TestSeverityBlock {
			blocked = true
		}
	}
	return results, blocked
}
