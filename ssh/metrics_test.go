package ssh

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestChannelDirectionString(t *testing.T) {
	require.Equal(t, "inbound", channelInbound.String())
	require.Equal(t, "outbound", channelOutbound.String())
}

func TestRekeysTotalIncrements(t *testing.T) {
	before := testutil.ToFloat64(rekeysTotal)
	rekeysTotal.Inc()
	require.Equal(t, before+1, testutil.ToFloat64(rekeysTotal))
}

func TestChannelsOpenedTotalLabeled(t *testing.T) {
	before := testutil.ToFloat64(channelsOpenedTotal.WithLabelValues("session", "outbound"))
	channelsOpenedTotal.WithLabelValues("session", "outbound").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(channelsOpenedTotal.WithLabelValues("session", "outbound")))
}
