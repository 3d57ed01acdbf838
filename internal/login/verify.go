package login

import (
	"context"
	"time"

	"github.com/posaune0423/tor-selenium-x/api/schemas"
)

// Authenticated reports whether the driver is currently showing an
// authenticated main view. It polls the logged-in markers until one
// appears or the timeout elapses; absence is reported as false, not as
// an error.
func Authenticated(ctx context.Context, driver schemas.PageDriver, pollInterval, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		for _, sel := range loggedInMarkers {
			present, err := driver.Find(ctx, sel)
			if err != nil {
				return false, err
			}
			if present {
				return true, nil
			}
		}
		if time.Now().After(deadline) {
			return false, nil
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
