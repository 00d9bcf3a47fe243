package ssh

import (
	"errors"
	"sync"
)

// HostKeysCallback is invoked with the set of additional host keys the
// server advertises via the hostkeys-00@openssh.com global request
// (OpenSSH's out-of-band host key rotation mechanism). Keys already
// seen on this connection are filtered out before the callback runs.
type HostKeysCallback func(keys []PublicKey) error

// hostKeyUpdateTracker deduplicates hostkeys-00@openssh.com
// announcements by key fingerprint, so a server that repeats the same
// global request (some do, on every rekey) doesn't cause the
// configured callback to re-fire for keys it has already reported.
type hostKeyUpdateTracker struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newHostKeyUpdateTracker() *hostKeyUpdateTracker {
	return &hostKeyUpdateTracker{seen: make(map[string]bool)}
}

// filterNew returns the subset of keys not already reported, marking
// them as seen.
func (t *hostKeyUpdateTracker) filterNew(keys []PublicKey) []PublicKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	var fresh []PublicKey
	for _, k := range keys {
		fp := string(k.Marshal())
		if t.seen[fp] {
			continue
		}
		t.seen[fp] = true
		fresh = append(fresh, k)
	}
	return fresh
}

// parseHostKeysMsg decodes the payload of a hostkeys-00@openssh.com
// global request: zero or more consecutive SSH wire-format public
// keys, with no surrounding length prefix or struct framing.
func parseHostKeysMsg(payload []byte) ([]PublicKey, error) {
	var keys []PublicKey
	for len(payload) > 0 {
		blob, rest, ok := parseString(payload)
		if !ok {
			return nil, errors.New("ssh: invalid hostkeys-00@openssh.com payload")
		}
		payload = rest

		key, err := ParsePublicKey(blob)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// handleHostKeysUpdate parses and deduplicates a hostkeys-00@openssh.com
// global request and, if the caller configured HostKeysCallback, runs
// it over the keys not already seen on this connection.
func (c *Client) handleHostKeysUpdate(cb HostKeysCallback, payload []byte) error {
	keys, err := parseHostKeysMsg(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.hostKeyTracker == nil {
		c.hostKeyTracker = newHostKeyUpdateTracker()
	}
	tracker := c.hostKeyTracker
	c.mu.Unlock()

	fresh := tracker.filterNew(keys)
	if len(fresh) == 0 || cb == nil {
		return nil
	}
	return cb(fresh)
}
