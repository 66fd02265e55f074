package custcron

import (
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	custerror "github.com/opensentry/command/src/internal/error"
	"github.com/opensentry/command/src/internal/logger"
)

// New returns a UTC scheduler where a job never overlaps with its own previous run.
func New() *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return s
}

// Every schedules fn under name. The first run happens right after the scheduler starts.
func Every(s *gocron.Scheduler, interval time.Duration, name string, fn func()) error {
	if interval <= 0 {
		return custerror.FormatInvalidArgument("custcron.Every: %s interval must be positive", name)
	}
	if _, err := s.Every(interval).Name(name).Do(func() {
		logger.SDebug("cron job running", zap.String("job", name))
		fn()
	}); err != nil {
		return custerror.FormatInternalError("custcron.Every: %s err = %s", name, err)
	}
	return nil
}
