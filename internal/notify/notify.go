// Package notify tells the document product to recompute quotas after an
// entitlement change. The call is fire-and-forget; a missed refresh is
// caught by the product's own periodic pull.
package notify

import (
	"context"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const requestTimeout = 10 * time.Second

// Notifier pushes quota refresh hints to the configured product origin.
type Notifier struct {
	origin string
	client *http.Client
}

// New constructs a Notifier. An empty origin disables notifications.
func New(origin string) *Notifier {
	return &Notifier{
		origin: strings.TrimRight(strings.TrimSpace(origin), "/"),
		client: &http.Client{Timeout: requestTimeout},
	}
}

// ForceUpdate asks the product to refresh quotas. Failures are logged and
// never retried inline.
func (n *Notifier) ForceUpdate() {
	if n == nil || n.origin == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.origin+"/api/updatequota", nil)
		if err != nil {
			log.WithError(err).Warn("notify: build quota update request failed")
			return
		}
		resp, err := n.client.Do(req)
		if err != nil {
			log.WithError(err).Warn("notify: quota update failed")
			return
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= http.StatusMultipleChoices {
			log.Warnf("notify: quota update returned status %d", resp.StatusCode)
			return
		}
		log.Info("notify: quota update delivered")
	}()
}
