package nodemgr

import (
	"fmt"
	"time"

	"github.com/formicaio/formicaiod/internal/types"
)

// statusInfo derives the human-readable uptime/downtime string shown
// next to each node. Transitioning nodes show nothing; otherwise the
// coarsest time unit whose count exceeds one is chosen.
func statusInfo(now time.Time, info *types.NodeInstanceInfo) string {
	if info.Status.IsTransitioning() {
		return ""
	}
	if info.StatusChanged == 0 {
		return ""
	}

	elapsed := now.Unix() - int64(info.StatusChanged)
	if elapsed < 0 {
		elapsed = 0
	}

	var span string
	switch {
	case elapsed/604800 > 1:
		span = fmt.Sprintf("%d weeks", elapsed/604800)
	case elapsed/86400 > 1:
		span = fmt.Sprintf("%d days", elapsed/86400)
	case elapsed/3600 > 1:
		span = fmt.Sprintf("%d hours", elapsed/3600)
	case elapsed/60 > 1:
		span = fmt.Sprintf("%d minutes", elapsed/60)
	case elapsed > 1:
		span = fmt.Sprintf("%d seconds", elapsed)
	default:
		span = "about a second"
	}

	switch {
	case info.Status.IsActive():
		return fmt.Sprintf("Up %s", span)
	case info.Status.IsInactive():
		return fmt.Sprintf("%s ago", span)
	default:
		return fmt.Sprintf("Since %s ago", span)
	}
}
