package monitoring

import (
	"context"
	"time"

	"lobbysignal/internal/core/ports"
)

// AddRepositoryCheck pings the lobby repository (Redis when enabled).
func (h *HealthChecker) AddRepositoryCheck(repo ports.LobbyRepository, timeout time.Duration) {
	h.AddCheck("repository", func(ctx context.Context) (bool, error) {
		if err := repo.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}
