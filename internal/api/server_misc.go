package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/proxy_history/internal/notify"
)

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status  string `json:"status"`
			Total   int    `json:"total"`
			Matched int    `json:"matched"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			counts, err := svc.Count(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Total = counts.Total
			out.Body.Matched = counts.Matched
			return out, nil
		})

	type notificationsOutput struct {
		Body struct {
			Notifications []notify.Notification `json:"notifications"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-notifications", Method: http.MethodGet, Path: "/api/v1/notifications", Summary: "Recent user-facing notifications, newest last", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*notificationsOutput, error) {
			list, err := svc.Notifications(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &notificationsOutput{}
			out.Body.Notifications = list
			if out.Body.Notifications == nil {
				out.Body.Notifications = []notify.Notification{}
			}
			return out, nil
		})
}
