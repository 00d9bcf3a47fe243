package ssh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlowControllerNilIsInert(t *testing.T) {
	var f *flowController
	require.False(t, f.needsAdjustment())
	require.Equal(t, uint32(5), f.adjustment(5))
	f.onData(10) // must not panic
}

func TestFlowControllerNoTCPUsesTimingOnly(t *testing.T) {
	f := newFlowController(nil, channelWindowSize)
	require.Nil(t, f.tcp)
	require.Equal(t, uint32(channelWindowSize), f.window)
	require.Equal(t, uint32(channelWindowSize/2), f.threshold)
}

func TestFlowControllerNeedsAdjustmentAfterDepletion(t *testing.T) {
	f := newFlowController(nil, 1000)
	require.False(t, f.needsAdjustment())

	f.onData(600)
	require.True(t, f.needsAdjustment())

	grant := f.adjustment(600)
	require.GreaterOrEqual(t, grant, uint32(600))
	require.False(t, f.needsAdjustment())
}

func TestFlowControllerAdjustmentNeverUndershootsConsumed(t *testing.T) {
	f := newFlowController(nil, 1000)
	f.window = 0 // pretend congestion has driven the target to nothing
	grant := f.adjustment(450)
	require.GreaterOrEqual(t, grant, uint32(450))
}

func TestFlowControllerSlowStartDoublesWindow(t *testing.T) {
	f := newFlowController(nil, 1000)
	f.ssthresh = 1 << 20 // keep slow-start from exiting early in this test
	before := f.window

	f.measureStart = f.now().Add(-3 * flowMeasureInterval)
	f.bytesSince = 100
	f.runMeasurementInterval(f.now())

	require.True(t, f.inSlowStart)
	require.Greater(t, f.window, before)
}

func TestFlowControllerCongestionShrinksWindowAndExitsSlowStart(t *testing.T) {
	f := newFlowController(nil, 10000)

	now := f.now()
	// Three exhaustion events with shrinking inter-arrival, the last
	// one effectively "now".
	f.exhaustion[0] = now.Add(-3 * time.Second)
	f.exhaustion[1] = now.Add(-1200 * time.Millisecond)
	f.exhaustion[2] = now
	f.exhaustN = 3

	before := f.window
	f.measureStart = now.Add(-flowMeasureInterval)
	f.runMeasurementInterval(now)

	require.False(t, f.inSlowStart)
	require.Less(t, f.window, before)
	require.GreaterOrEqual(t, f.window, f.min)
}

func TestFlowControllerWindowNeverBelowMin(t *testing.T) {
	f := newFlowController(nil, 64)
	for i := 0; i < 20; i++ {
		f.exhaustion[0] = f.now().Add(-3 * time.Second)
		f.exhaustion[1] = f.now().Add(-1200 * time.Millisecond)
		f.exhaustion[2] = f.now()
		f.exhaustN = 3
		f.measureStart = f.now().Add(-flowMeasureInterval)
		f.runMeasurementInterval(f.now())
	}
	require.GreaterOrEqual(t, f.window, f.min)
}

func TestFlowControllerBandwidthDelayProductRequiresBothInputs(t *testing.T) {
	f := newFlowController(nil, 1000)
	require.Equal(t, uint32(0), f.bandwidthDelayProduct())

	f.bwEst = 1000
	require.Equal(t, uint32(0), f.bandwidthDelayProduct())

	f.rttEst = 100 * time.Millisecond
	require.Equal(t, uint32(100), f.bandwidthDelayProduct())
}

func TestFlowControllerPerfRingWraps(t *testing.T) {
	f := newFlowController(nil, 1000)
	for i := 0; i < flowPerfRingSize+5; i++ {
		f.recordPerf(float64(i))
	}
	samples := f.perfSamples()
	require.Len(t, samples, flowPerfRingSize)
	require.Equal(t, float64(5), samples[0])
	require.Equal(t, float64(flowPerfRingSize+4), samples[len(samples)-1])
}

func TestFlowControllerExhaustionRingWraps(t *testing.T) {
	f := newFlowController(nil, 1000)
	base := f.now()
	for i := 0; i < flowExhaustionRingSize+2; i++ {
		f.recordExhaustion(base.Add(time.Duration(i) * time.Second))
	}
	events := f.exhaustionEvents()
	require.Len(t, events, flowExhaustionRingSize)
	require.Equal(t, base.Add(2*time.Second), events[0])
}
