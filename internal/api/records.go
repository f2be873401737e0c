package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/greenedumap/internal/db"
	"github.com/joeblew999/greenedumap/internal/feature"
	"github.com/joeblew999/greenedumap/internal/humastar"
)

type RecordsInput struct {
	humastar.PageInput
	Category string `path:"category" enum:"ward,school,solar,request,center,distribution" doc:"Record category" example:"ward"`
}

type RecordsOutput struct {
	Body humastar.PageBody[db.Row]
}

// TablesOutput is the response for listing tables.
type TablesOutput struct {
	Body struct {
		Tables []string `json:"tables" doc:"List of table names"`
	}
}

type QueryInput struct {
	Body struct {
		SQL string `json:"sql" minLength:"1" doc:"SQL query to execute" example:"SELECT category, count(*) FROM records GROUP BY category"`
	}
}

type QueryOutput struct {
	Body struct {
		Columns []string         `json:"columns" doc:"Column names"`
		Rows    []map[string]any `json:"rows" doc:"Result rows"`
		Count   int              `json:"count" doc:"Number of rows returned"`
	}
}

// RegisterRecords registers the record store routes.
func (h *APIHandler) RegisterRecords(api huma.API) {
	huma.Get(api, "/api/v1/records", h.GetRecordCounts, huma.OperationTags("records"))
	huma.Get(api, "/api/v1/records/{category}", h.GetRecords, huma.OperationTags("records"))
	huma.Get(api, "/api/v1/tables", h.ListTables, huma.OperationTags("records"))
	huma.Post(api, "/api/v1/query", h.Query, huma.OperationTags("records"))
}

func (h *APIHandler) store() (*db.Store, error) {
	if h.svc.Store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	return h.svc.Store, nil
}

func (h *APIHandler) GetRecordCounts(ctx context.Context, input *struct{}) (*struct{ Body []db.Count }, error) {
	s, err := h.store()
	if err != nil {
		return nil, err
	}
	counts, err := s.Counts(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to count records", err)
	}
	if counts == nil {
		counts = []db.Count{}
	}
	return &struct{ Body []db.Count }{Body: counts}, nil
}

// GetRecords pages through every fetched record of a category, including
// those the map could not place.
func (h *APIHandler) GetRecords(ctx context.Context, input *RecordsInput) (*RecordsOutput, error) {
	s, err := h.store()
	if err != nil {
		return nil, err
	}
	rows, total, err := s.Records(ctx, feature.Category(input.Category), input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to read records", err)
	}
	return &RecordsOutput{Body: humastar.PageBody[db.Row]{
		Total:  total,
		Offset: input.Offset,
		Limit:  input.Limit,
		Data:   rows,
	}}, nil
}

// ListTables returns all DuckDB tables.
func (h *APIHandler) ListTables(ctx context.Context, input *struct{}) (*TablesOutput, error) {
	s, err := h.store()
	if err != nil {
		return nil, err
	}
	tables, err := s.Tables(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list tables", err)
	}
	out := &TablesOutput{}
	out.Body.Tables = tables
	return out, nil
}

// Query executes a SQL query against the record store.
func (h *APIHandler) Query(ctx context.Context, input *QueryInput) (*QueryOutput, error) {
	s, err := h.store()
	if err != nil {
		return nil, err
	}
	columns, rows, err := s.Query(ctx, input.Body.SQL)
	if err != nil {
		return nil, huma.Error400BadRequest("Query failed: " + err.Error())
	}
	out := &QueryOutput{}
	out.Body.Columns = columns
	out.Body.Rows = rows
	out.Body.Count = len(rows)
	return out, nil
}
