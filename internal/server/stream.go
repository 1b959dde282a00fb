package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"go.uber.org/zap"

	"certdesk/internal/syncbus"
)

const streamBuffer = 32

// registerStream pushes collection change signals to clients over SSE so
// that open views can refetch.
func registerStream(api huma.API, cfg Config) {
	if cfg.Bus == nil {
		return
	}
	sse.Register(api, huma.Operation{
		OperationID: "stream-changes",
		Method:      http.MethodGet,
		Path:        "/stream",
		Summary:     "Stream collection change signals",
		Tags:        []string{"events"},
	}, map[string]any{
		"change": syncbus.Event{},
	}, func(ctx context.Context, input *struct {
		Signals string `query:"signals" doc:"Comma separated signal names; empty streams all"`
	}, send sse.Sender) {
		var filter []syncbus.Signal
		for _, s := range strings.Split(input.Signals, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter = append(filter, syncbus.Signal(s))
			}
		}
		ch, unsubscribe := cfg.Bus.SubscribeChan(streamBuffer, filter...)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := send.Data(ev); err != nil {
					cfg.Logger.Debug("stream client gone", zap.Error(err))
					return
				}
			}
		}
	})
}
