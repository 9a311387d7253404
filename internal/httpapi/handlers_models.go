package httpapi

import (
	"net/http"
	"strings"

	"github.com/ironlayer/ironlayer/internal/dag"
	"github.com/ironlayer/ironlayer/internal/lineage"
	"github.com/ironlayer/ironlayer/internal/model"
)

const defaultColumnTraceDepth = 10

// handleListModels implements GET /models with optional kind/owner/search
// filters, all applied in-process since the persisted set per tenant is
// small enough that pushing filters into SQL buys nothing here.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	ctx := r.Context()

	store, err := s.storeFor(ctx, claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open tenant storage")
		return
	}
	defs, err := store.ListModels(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list models")
		return
	}

	kind := r.URL.Query().Get("kind")
	owner := r.URL.Query().Get("owner")
	search := strings.ToLower(r.URL.Query().Get("search"))

	filtered := make([]*model.Definition, 0, len(defs))
	for _, d := range defs {
		if kind != "" && string(d.Kind) != kind {
			continue
		}
		if owner != "" && d.Owner != owner {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(d.Name), search) {
			continue
		}
		filtered = append(filtered, d)
	}

	writeJSON(w, http.StatusOK, filtered)
}

// buildGraph loads every model for the tenant and returns the dependency
// graph plus the name-keyed model map lineage/impact operations need.
func (s *Server) buildGraph(r *http.Request, tenantID string) (*dag.Graph, map[string]model.Definition, error) {
	ctx := r.Context()
	store, err := s.storeFor(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	defs, err := store.ListModels(ctx)
	if err != nil {
		return nil, nil, err
	}
	modelsByName := make(map[string]model.Definition, len(defs))
	referencesByModel := make(map[string][]string, len(defs))
	for _, d := range defs {
		modelsByName[d.Name] = d
		referencesByModel[d.Name] = d.ReferencedTables
	}
	graph, err := dag.Build(referencesByModel)
	if err != nil {
		return nil, nil, err
	}
	return graph, modelsByName, nil
}

func schemaFor(modelsByName map[string]model.Definition) lineage.Schema {
	schema := make(lineage.Schema, len(modelsByName))
	for name, def := range modelsByName {
		cols := make(map[string]string, len(def.ContractColumns))
		for _, c := range def.ContractColumns {
			cols[c.Name] = c.DataType
		}
		schema[name] = cols
	}
	return schema
}

// handleModelLineage implements GET /models/{name}/lineage: every output
// column's provenance for the named model.
func (s *Server) handleModelLineage(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	name := r.PathValue("name")

	graph, modelsByName, err := s.buildGraph(r, claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build dependency graph")
		return
	}
	if _, ok := modelsByName[name]; !ok {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}

	resolver := lineage.NewResolver(lineage.RegexAnalyzer{}, graph, modelsByName)
	result, err := resolver.ColumnLineageFor(name, schemaFor(modelsByName))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"model": name, "columns": result})
}

// handleColumnLineage implements GET /models/{name}/column-lineage, with an
// optional `column=` query parameter tracing a single column back to its
// external source.
func (s *Server) handleColumnLineage(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	name := r.PathValue("name")
	column := r.URL.Query().Get("column")

	graph, modelsByName, err := s.buildGraph(r, claims.TenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build dependency graph")
		return
	}
	if _, ok := modelsByName[name]; !ok {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}

	resolver := lineage.NewResolver(lineage.RegexAnalyzer{}, graph, modelsByName)
	schema := schemaFor(modelsByName)

	if column == "" {
		result, err := resolver.ColumnLineageFor(name, schema)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"model": name, "columns": result})
		return
	}

	chain, err := resolver.TraceColumn(name, column, schema, defaultColumnTraceDepth)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"model": name, "column": column, "trace": chain})
}
