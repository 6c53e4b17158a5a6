package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/tablemd/internal/api/models"
	"github.com/smazurov/tablemd/internal/process"
)

// registerPoolRoutes registers pool inspection endpoints.
func (s *Server) registerPoolRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-pool",
		Method:      http.MethodGet,
		Path:        "/api/pool",
		Summary:     "Pool status",
		Description: "Pool counters and the state of every worker",
		Tags:        []string{"pool"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.PoolResponse, error) {
		return &models.PoolResponse{
			Body: models.PoolData{
				Stats:   s.converter.Stats(),
				Workers: s.converter.Workers(),
			},
		}, nil
	})
}

func workersAlive(stats process.Stats) string {
	return fmt.Sprintf("%d of %d workers alive", stats.Alive, stats.Size)
}
