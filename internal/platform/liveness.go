package platform

import (
	"fmt"
	"time"
)

// LastSeenAgo renders the time since a node's last heartbeat for display.
// It plays no part in dispatch eligibility, which reads the stored status.
func LastSeenAgo(lastSeen *time.Time, now time.Time) string {
	if lastSeen == nil {
		return "never seen"
	}
	seconds := int64(now.Sub(*lastSeen) / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds ago", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh ago", seconds/3600)
	default:
		return fmt.Sprintf("%dd ago", seconds/86400)
	}
}
