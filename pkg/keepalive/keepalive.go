// Package keepalive pings the deployment's own health route so hosting
// platforms that idle quiet instances keep it running.
package keepalive

import (
	"context"
	"log"
	"time"
)

// DefaultInterval stays under the idle timeout of free tier hosts.
const DefaultInterval = 8 * time.Minute

// Getter is the part of the upstream fetcher the pinger needs.
type Getter func(ctx context.Context, target string) error

// Run pings target every interval until ctx is done.
func Run(ctx context.Context, target string, interval time.Duration, get Getter) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := get(ctx, target); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("WARN: HEALTH_CHECK failed; %v", err)
				continue
			}
			log.Printf("INFO: HEALTH_CHECK at %s", time.Now().UTC().Format(time.RFC3339))
		}
	}
}
