package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/proxy_history/internal/layout"
)

func registerLayoutHandlers(api huma.API, svc Service) {
	type documentOutput struct {
		Body layout.Document
	}
	huma.Register(api, huma.Operation{OperationID: "get-layout", Method: http.MethodGet, Path: "/api/v1/layout", Summary: "Get column and panel layout", Tags: []string{"Layout"}},
		func(ctx context.Context, input *struct{}) (*documentOutput, error) {
			doc, err := svc.GetLayout(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &documentOutput{Body: doc}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "reset-layout", Method: http.MethodDelete, Path: "/api/v1/layout", Summary: "Restore the default layout", Tags: []string{"Layout"}},
		func(ctx context.Context, input *struct{}) (*documentOutput, error) {
			doc, err := svc.ResetLayout(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &documentOutput{Body: doc}, nil
		})

	type columnsOutput struct {
		Body struct {
			Columns []layout.Column `json:"columns"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "visible-columns", Method: http.MethodGet, Path: "/api/v1/layout/columns", Summary: "List visible columns in display order", Tags: []string{"Layout"}},
		func(ctx context.Context, input *struct{}) (*columnsOutput, error) {
			cols, err := svc.VisibleColumns(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &columnsOutput{}
			out.Body.Columns = cols
			if out.Body.Columns == nil {
				out.Body.Columns = []layout.Column{}
			}
			return out, nil
		})

	type columnOutput struct {
		Body layout.Column
	}
	type resizeInput struct {
		ColumnID string `path:"column_id"`
		Body     struct {
			Delta int `json:"delta" doc:"Pixels to add; negative shrinks, never below the column minimum"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "resize-column", Method: http.MethodPost, Path: "/api/v1/layout/columns/{column_id}/resize", Summary: "Resize a column by a delta", Tags: []string{"Layout"}},
		func(ctx context.Context, input *resizeInput) (*columnOutput, error) {
			col, err := svc.ResizeColumn(ctx, input.ColumnID, input.Body.Delta)
			if err != nil {
				return nil, mapErr(err)
			}
			return &columnOutput{Body: col}, nil
		})

	type widthInput struct {
		ColumnID string `path:"column_id"`
		Body     struct {
			WidthPx int `json:"width_px" doc:"Absolute width, clamped to the column minimum"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-column-width", Method: http.MethodPut, Path: "/api/v1/layout/columns/{column_id}/width", Summary: "Set a column width", Tags: []string{"Layout"}},
		func(ctx context.Context, input *widthInput) (*columnOutput, error) {
			col, err := svc.SetColumnWidth(ctx, input.ColumnID, input.Body.WidthPx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &columnOutput{Body: col}, nil
		})

	type columnIDInput struct {
		ColumnID string `path:"column_id"`
	}
	huma.Register(api, huma.Operation{OperationID: "toggle-column", Method: http.MethodPost, Path: "/api/v1/layout/columns/{column_id}/toggle", Summary: "Show or hide a column", Tags: []string{"Layout"}},
		func(ctx context.Context, input *columnIDInput) (*columnOutput, error) {
			col, err := svc.ToggleColumn(ctx, input.ColumnID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &columnOutput{Body: col}, nil
		})

	type panelInput struct {
		Panel string `path:"panel" enum:"topPanelHeight,bottomPanelHeight,leftPanelWidth"`
		Body  struct {
			Px int `json:"px" doc:"New size in pixels"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "resize-panel", Method: http.MethodPut, Path: "/api/v1/layout/panels/{panel}", Summary: "Resize a panel", Tags: []string{"Layout"}},
		func(ctx context.Context, input *panelInput) (*documentOutput, error) {
			doc, err := svc.ResizePanel(ctx, input.Panel, input.Body.Px)
			if err != nil {
				return nil, mapErr(err)
			}
			return &documentOutput{Body: doc}, nil
		})
}
