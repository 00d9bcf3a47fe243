package ssh

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewCorrelationIDUnique(t *testing.T) {
	a := newCorrelationID()
	b := newCorrelationID()
	require.NotEqual(t, a, b)
	require.NotEmpty(t, a)
}

func TestConnLoggerFallsBackToStandardLogger(t *testing.T) {
	log := connLogger(nil, "conn-1", "1.2.3.4:22")
	require.NotNil(t, log)
}

func TestConnLoggerUsesConfiguredLogger(t *testing.T) {
	custom := logrus.New()
	cfg := &Config{Logger: custom}
	log := connLogger(cfg, "conn-2", "5.6.7.8:22")
	entry, ok := log.(*logrus.Entry)
	require.True(t, ok)
	require.Equal(t, custom, entry.Logger)
	require.Equal(t, "conn-2", entry.Data["conn_id"])
}

func TestChanLoggerAddsFields(t *testing.T) {
	base := connLogger(nil, "conn-3", "9.9.9.9:22")
	log := chanLogger(base, 7, "session")
	entry, ok := log.(*logrus.Entry)
	require.True(t, ok)
	require.Equal(t, uint32(7), entry.Data["channel_id"])
	require.Equal(t, "session", entry.Data["channel_type"])
}
