package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/proxy_history/internal/history"
	"github.com/dgnsrekt/proxy_history/internal/types"
)

func registerHistoryHandlers(api huma.API, svc Service) {
	type listInput struct {
		Offset int `query:"offset" minimum:"0" default:"0" doc:"Index into the filtered view, newest first"`
		Limit  int `query:"limit" minimum:"1" maximum:"1000" default:"100" doc:"Maximum records to return"`
	}
	type pageOutput struct {
		Body history.Page
	}
	huma.Register(api, huma.Operation{OperationID: "list-records", Method: http.MethodGet, Path: "/api/v1/history", Summary: "List records in the filtered view", Tags: []string{"History"}},
		func(ctx context.Context, input *listInput) (*pageOutput, error) {
			page, err := svc.ListRecords(ctx, input.Offset, input.Limit)
			if err != nil {
				return nil, mapErr(err)
			}
			return &pageOutput{Body: page}, nil
		})

	type countsOutput struct {
		Body history.Counts
	}
	huma.Register(api, huma.Operation{OperationID: "count-records", Method: http.MethodGet, Path: "/api/v1/history/count", Summary: "Filtered and total record counts", Tags: []string{"History"}},
		func(ctx context.Context, input *struct{}) (*countsOutput, error) {
			counts, err := svc.Count(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &countsOutput{Body: counts}, nil
		})

	type statsOutput struct {
		Body history.Stats
	}
	huma.Register(api, huma.Operation{OperationID: "history-stats", Method: http.MethodGet, Path: "/api/v1/history/stats", Summary: "Aggregates over the in-memory records", Tags: []string{"History"}},
		func(ctx context.Context, input *struct{}) (*statsOutput, error) {
			stats, err := svc.Stats(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &statsOutput{Body: stats}, nil
		})

	type recordInput struct {
		ID int64 `path:"id" minimum:"1"`
	}
	type recordOutput struct {
		Body types.TrafficRecord
	}
	huma.Register(api, huma.Operation{OperationID: "get-record", Method: http.MethodGet, Path: "/api/v1/history/records/{id}", Summary: "Get one record", Tags: []string{"History"}},
		func(ctx context.Context, input *recordInput) (*recordOutput, error) {
			rec, err := svc.GetRecord(ctx, input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &recordOutput{Body: rec}, nil
		})

	type filterOutput struct {
		Body history.Predicate
	}
	huma.Register(api, huma.Operation{OperationID: "get-filter", Method: http.MethodGet, Path: "/api/v1/history/filter", Summary: "Get the active filter", Tags: []string{"Filter"}},
		func(ctx context.Context, input *struct{}) (*filterOutput, error) {
			p, err := svc.GetFilter(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &filterOutput{Body: p}, nil
		})

	type setFilterInput struct {
		Body history.Predicate
	}
	huma.Register(api, huma.Operation{OperationID: "set-filter", Method: http.MethodPut, Path: "/api/v1/history/filter", Summary: "Replace the active filter", Description: "An empty object clears every condition.", Tags: []string{"Filter"}},
		func(ctx context.Context, input *setFilterInput) (*countsOutput, error) {
			counts, err := svc.SetFilter(ctx, input.Body)
			if err != nil {
				return nil, mapErr(err)
			}
			return &countsOutput{Body: counts}, nil
		})

	type statusClassInput struct {
		Body struct {
			Class string `json:"class" doc:"Status bucket such as 4xx; empty clears it" example:"4xx"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-status-class-filter", Method: http.MethodPut, Path: "/api/v1/history/filter/status-class", Summary: "Set only the status class condition", Tags: []string{"Filter"}},
		func(ctx context.Context, input *statusClassInput) (*countsOutput, error) {
			counts, err := svc.SetStatusClassFilter(ctx, input.Body.Class)
			if err != nil {
				return nil, mapErr(err)
			}
			return &countsOutput{Body: counts}, nil
		})

	type scrollInput struct {
		Body history.ViewportState
	}
	type scrollOutput struct {
		Body history.ScrollResult
	}
	huma.Register(api, huma.Operation{OperationID: "scroll", Method: http.MethodPost, Path: "/api/v1/history/scroll", Summary: "Rows to render for a viewport", Description: "Also starts loading older history when the viewport nears the end of loaded data.", Tags: []string{"View"}},
		func(ctx context.Context, input *scrollInput) (*scrollOutput, error) {
			res, err := svc.Scroll(ctx, input.Body)
			if err != nil {
				return nil, mapErr(err)
			}
			return &scrollOutput{Body: res}, nil
		})

	type selectionOutput struct {
		Body history.SelectionState
	}
	huma.Register(api, huma.Operation{OperationID: "get-selection", Method: http.MethodGet, Path: "/api/v1/history/selection", Summary: "Get the detail pane selection", Tags: []string{"Detail"}},
		func(ctx context.Context, input *struct{}) (*selectionOutput, error) {
			st, err := svc.Selection(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &selectionOutput{Body: st}, nil
		})

	type selectInput struct {
		Body struct {
			ID int64 `json:"id" doc:"Record id to show in the detail pane"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "select-record", Method: http.MethodPut, Path: "/api/v1/history/selection", Summary: "Select a record", Description: "A record outside the filtered view clears the selection.", Tags: []string{"Detail"}},
		func(ctx context.Context, input *selectInput) (*selectionOutput, error) {
			st, err := svc.Select(ctx, input.Body.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &selectionOutput{Body: st}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "clear-selection", Method: http.MethodDelete, Path: "/api/v1/history/selection", Summary: "Close the detail pane", Tags: []string{"Detail"}},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			if err := svc.ClearSelection(ctx); err != nil {
				return nil, mapErr(err)
			}
			out := &statusOutput{}
			out.Body.Status = "cleared"
			return out, nil
		})

	type detailInput struct {
		Tab string `query:"tab" enum:"raw,pretty,hex" default:"raw"`
	}
	type detailOutput struct {
		Body struct {
			Tab     string `json:"tab"`
			Content string `json:"content"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-detail", Method: http.MethodGet, Path: "/api/v1/history/selection/detail", Summary: "Render the selected record", Tags: []string{"Detail"}},
		func(ctx context.Context, input *detailInput) (*detailOutput, error) {
			content, err := svc.Detail(ctx, input.Tab)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &detailOutput{}
			out.Body.Tab = input.Tab
			out.Body.Content = content
			return out, nil
		})

	type clearOutput struct {
		Body struct {
			Cleared int `json:"cleared"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "clear-history", Method: http.MethodPost, Path: "/api/v1/history/clear", Summary: "Clear history", Description: "Clears the backend first; local state is untouched if that fails.", Tags: []string{"History"}},
		func(ctx context.Context, input *struct{}) (*clearOutput, error) {
			n, err := svc.ClearHistory(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &clearOutput{}
			out.Body.Cleared = n
			return out, nil
		})

	type exportInput struct {
		Format string `query:"format" enum:"json,text,har" default:"json"`
		Scope  string `query:"scope" enum:"filtered,all" default:"filtered"`
	}
	type exportOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{
		OperationID: "export-history",
		Method:      http.MethodGet,
		Path:        "/api/v1/history/export",
		Summary:     "Export records",
		Tags:        []string{"Export"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Exported records",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Type: "string", Format: "binary"}},
					"text/plain":       {Schema: &huma.Schema{Type: "string"}},
				},
			},
		},
	}, func(ctx context.Context, input *exportInput) (*exportOutput, error) {
		data, contentType, err := svc.Export(ctx, input.Format, input.Scope)
		if err != nil {
			return nil, mapErr(err)
		}
		return &exportOutput{ContentType: contentType, Body: data}, nil
	})

	type exportFileInput struct {
		Body *struct {
			Format string `json:"format,omitempty" enum:"json,text,har" default:"json"`
			Scope  string `json:"scope,omitempty" enum:"filtered,all" default:"filtered"`
		}
	}
	type exportFileOutput struct {
		Body struct {
			Path string `json:"path"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "export-history-file", Method: http.MethodPost, Path: "/api/v1/history/export/file", Summary: "Export records to a file on the daemon host", Tags: []string{"Export"}},
		func(ctx context.Context, input *exportFileInput) (*exportFileOutput, error) {
			var format, scope string
			if input.Body != nil {
				format, scope = input.Body.Format, input.Body.Scope
			}
			path, err := svc.ExportToFile(ctx, format, scope)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &exportFileOutput{}
			out.Body.Path = path
			return out, nil
		})
}
