package ssh

import (
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// newCorrelationID returns a short, sortable identifier used to tie
// together every log line and metric sample for one connection or
// channel, so a busy client's logs can be grepped by a single field
// instead of by remote address and timestamp.
func newCorrelationID() string {
	return xid.New().String()
}

// connLogger returns a logger with the connection's correlation ID
// and remote address already attached, falling back to the package
// default if cfg or cfg.Logger is nil.
func connLogger(cfg *Config, connID, remoteAddr string) logrus.FieldLogger {
	log := logrus.FieldLogger(logrus.StandardLogger())
	if cfg != nil && cfg.Logger != nil {
		log = cfg.Logger
	}
	return log.WithFields(logrus.Fields{
		"conn_id": connID,
		"remote":  remoteAddr,
	})
}

// chanLogger extends a connection logger with a channel's local ID
// and type, for log lines scoped to one multiplexed channel.
func chanLogger(log logrus.FieldLogger, localID uint32, chanType string) logrus.FieldLogger {
	return log.WithFields(logrus.Fields{
		"channel_id":   localID,
		"channel_type": chanType,
	})
}
