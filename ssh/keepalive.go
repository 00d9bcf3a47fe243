package ssh

import "time"

// WithKeepalive starts a background goroutine that sends
// keepalive@openssh.com global requests on an idle connection,
// closing it once maxMissed consecutive requests go unanswered. A
// zero interval disables keepalives; this mirrors ClientConfig's
// KeepaliveInterval/KeepaliveMaxMissed, applied automatically by
// Dial.
func WithKeepalive(interval time.Duration, maxMissed int) ClientOption {
	return func(c *Client) {
		if interval <= 0 {
			return
		}
		if maxMissed <= 0 {
			maxMissed = 3
		}
		c.group.Go(func() error {
			c.keepaliveLoop(interval, maxMissed)
			return nil
		})
	}
}

// keepaliveLoop sends a keepalive@openssh.com global request every
// interval. The request type is unknown to any standards-compliant
// server, which replies with request-failure; a reply of any kind
// confirms the peer is alive and resets the miss counter. No reply at
// all within the interval (a dead peer, or one sitting behind a
// silently dropping middlebox) counts as a miss, and maxMissed misses
// in a row close the connection.
func (c *Client) keepaliveLoop(interval time.Duration, maxMissed int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	missed := 0
	for range ticker.C {
		done := make(chan struct{})
		var sendErr error
		go func() {
			_, _, sendErr = c.SendRequest("keepalive@openssh.com", true, nil)
			close(done)
		}()

		select {
		case <-done:
			if sendErr != nil {
				return
			}
			missed = 0
		case <-time.After(interval):
			missed++
			if missed >= maxMissed {
				c.Close()
				return
			}
		}
	}
}
