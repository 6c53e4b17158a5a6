package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/tablemd/internal/events"
)

// sseKeepAlive is how often an idle stream gets a pool snapshot.
const sseKeepAlive = 30 * time.Second

// PoolSnapshotEvent is sent on connect and as keep-alive.
type PoolSnapshotEvent struct {
	Size         int       `json:"size" doc:"Workers started at pool startup"`
	Alive        int       `json:"alive" doc:"Workers with a live process"`
	Idle         int       `json:"idle" doc:"Workers waiting for a request"`
	Active       int       `json:"active" doc:"Calls currently holding a worker"`
	ShuttingDown bool      `json:"shutting_down" doc:"Pool shutdown has begun"`
	Timestamp    time.Time `json:"timestamp" doc:"Snapshot time"`
}

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of worker lifecycle and conversion events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"pool-snapshot":        PoolSnapshotEvent{},
		"worker-started":       events.WorkerStartedEvent{},
		"worker-restarted":     events.WorkerRestartedEvent{},
		"worker-discarded":     events.WorkerDiscardedEvent{},
		"conversion-completed": events.ConversionCompletedEvent{},
		"pool-shutdown":        events.PoolShutdownEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)
		unsubscribe := events.SubscribeAll(s.eventBus, eventCh)
		defer unsubscribe()

		if err := send.Data(s.snapshot()); err != nil {
			return
		}

		ticker := time.NewTicker(sseKeepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := send.Data(s.snapshot()); err != nil {
					return
				}
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}

func (s *Server) snapshot() PoolSnapshotEvent {
	stats := s.converter.Stats()
	return PoolSnapshotEvent{
		Size:         stats.Size,
		Alive:        stats.Alive,
		Idle:         stats.Idle,
		Active:       stats.Active,
		ShuttingDown: stats.ShuttingDown,
		Timestamp:    time.Now(),
	}
}
