package deps

import (
	"time"

	"appregistry/internal/logger"
	"appregistry/internal/metrics"
	"appregistry/internal/service"
)

// Deps carries everything route registrars need. Extend as needed.
type Deps struct {
	Logger    logger.Logger
	StartTime time.Time
	Version   string
	Commit    string
	BuildDate string
	GoVersion string

	Service *service.Service
	Metrics *metrics.Metrics
}
