package ssh

import (
	"net"
	"sync"
	"time"

	"github.com/simeonmiteff/go-tcpinfo/pkg/tcpinfo"
)

// flowController implements the per-channel, per-direction adaptive
// window controller described for the inbound side of a channel: it
// decides how large the advertised window should be so the link stays
// full without handing a misbehaving or congested peer an unbounded
// amount of buffering. It starts in slow start (doubling the window
// every measurement interval, the same shape as TCP's receive-window
// growth) and falls back to a linear congestion-avoidance increase
// once congestion is observed or the window reaches ssthresh.
//
// One flowController is owned by exactly one channel and sees only
// that channel's inbound byte stream; it never touches the outbound
// (remoteWin) side.
type flowController struct {
	mu sync.Mutex

	min, max uint32

	// window is this controller's current notion of the right
	// window size. It both depletes as data is consumed (mirroring
	// the credit actually extended to the peer) and is grown or
	// shrunk by the slow-start/congestion-avoidance step below; the
	// two roles share one field because growing the window *is*
	// deciding to extend more credit than was strictly consumed.
	window    uint32
	threshold uint32 // needsAdjustment fires when window <= threshold

	inSlowStart bool
	ssthresh    uint32

	bwEst  float64       // bytes/sec, EWMA
	rttEst time.Duration

	measureStart time.Time
	bytesSince   uint32

	lastAdjust    time.Time
	awaitingFirst bool // true after an adjust, until the next data event sets rttEst

	perf      [flowPerfRingSize]float64
	perfN     int
	perfStart int // index of the oldest sample

	exhaustion      [flowExhaustionRingSize]time.Time
	exhaustN        int
	exhaustStart int

	// tcp, when non-nil, lets the controller corroborate rttEst with
	// a kernel TCP_INFO sample instead of relying purely on the
	// consume/adjust timing above.
	tcp  *net.TCPConn
	last time.Time
}

const (
	flowPerfRingSize       = 10
	flowExhaustionRingSize = 3
	flowMeasureInterval    = 2 * time.Second
	flowEWMAAlpha          = 0.2
	// minFlowSampleInterval bounds how often TCP_INFO is re-read: RTT
	// doesn't move fast enough to justify a syscall per adjustment.
	minFlowSampleInterval = 200 * time.Millisecond
)

// newFlowController builds a controller seeded at initWindow, bounded
// to [initWindow/8, 4*initWindow]. conn may be nil or non-TCP, in
// which case rtt/bandwidth estimation relies solely on consume/adjust
// timing rather than kernel TCP_INFO.
func newFlowController(conn net.Conn, initWindow uint32) *flowController {
	f := &flowController{
		min:         initWindow / 8,
		max:         4 * initWindow,
		window:      initWindow,
		threshold:   initWindow / 2,
		inSlowStart: true,
		ssthresh:    initWindow,
	}
	if f.min == 0 {
		f.min = 1
	}
	now := f.now()
	f.measureStart = now
	f.lastAdjust = now
	if tcp, ok := conn.(*net.TCPConn); ok && tcpinfo.Supported() {
		f.tcp = tcp
	}
	return f
}

// now is a thin indirection so tests can avoid depending on wall-clock
// granularity if needed; production code just uses time.Now.
func (f *flowController) now() time.Time { return time.Now() }

// onData records n freshly consumed bytes of inbound payload. It
// depletes window, timestamps an exhaustion event if the window has
// run dry, and feeds the measurement-interval bookkeeping that drives
// bandwidth and RTT estimation.
func (f *flowController) onData(n uint32) {
	if f == nil || n == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()

	if f.awaitingFirst {
		f.rttEst = now.Sub(f.lastAdjust)
		f.awaitingFirst = false
	}

	if n > f.window {
		f.window = 0
	} else {
		f.window -= n
	}
	f.bytesSince += n

	if f.window == 0 {
		f.recordExhaustion(now)
	}

	f.sampleTCP()

	if now.Sub(f.measureStart) >= flowMeasureInterval {
		f.runMeasurementInterval(now)
	}
}

// recordExhaustion appends t to the fixed-capacity exhaustion ring.
func (f *flowController) recordExhaustion(t time.Time) {
	idx := (f.exhaustStart + f.exhaustN) % flowExhaustionRingSize
	if f.exhaustN < flowExhaustionRingSize {
		f.exhaustN++
	} else {
		f.exhaustStart = (f.exhaustStart + 1) % flowExhaustionRingSize
		idx = (f.exhaustStart + f.exhaustN - 1) % flowExhaustionRingSize
	}
	f.exhaustion[idx] = t
}

// exhaustionEvents returns the recorded exhaustion timestamps, oldest
// first.
func (f *flowController) exhaustionEvents() []time.Time {
	out := make([]time.Time, f.exhaustN)
	for i := 0; i < f.exhaustN; i++ {
		out[i] = f.exhaustion[(f.exhaustStart+i)%flowExhaustionRingSize]
	}
	return out
}

// recordPerf appends a throughput sample (bytes/sec) to the
// fixed-capacity performance ring.
func (f *flowController) recordPerf(v float64) {
	idx := (f.perfStart + f.perfN) % flowPerfRingSize
	if f.perfN < flowPerfRingSize {
		f.perfN++
	} else {
		f.perfStart = (f.perfStart + 1) % flowPerfRingSize
		idx = (f.perfStart + f.perfN - 1) % flowPerfRingSize
	}
	f.perf[idx] = v
}

func (f *flowController) perfSamples() []float64 {
	out := make([]float64, f.perfN)
	for i := 0; i < f.perfN; i++ {
		out[i] = f.perf[(f.perfStart+i)%flowPerfRingSize]
	}
	return out
}

// sampleTCP refreshes rttEst from kernel TCP_INFO, rate-limited to
// minFlowSampleInterval. A no-op when no TCP socket is attached.
func (f *flowController) sampleTCP() {
	if f.tcp == nil {
		return
	}
	now := f.now()
	if now.Sub(f.last) < minFlowSampleInterval {
		return
	}
	f.last = now

	rawConn, err := f.tcp.SyscallConn()
	if err != nil {
		return
	}
	var info *tcpinfo.SysInfo
	ctlErr := rawConn.Control(func(fd uintptr) {
		info, err = tcpinfo.GetTCPInfo(fd)
	})
	if ctlErr != nil || err != nil || info == nil {
		return
	}
	if info.RTT > 0 {
		f.rttEst = info.RTT
	}
}

// runMeasurementInterval executes one round of the slow-start /
// congestion-avoidance algorithm: it computes the interval's
// throughput, updates bwEst via EWMA, detects congestion, and resizes
// window accordingly. Called with f.mu held.
func (f *flowController) runMeasurementInterval(now time.Time) {
	elapsed := now.Sub(f.measureStart).Seconds()
	if elapsed <= 0 {
		elapsed = flowMeasureInterval.Seconds()
	}
	throughput := float64(f.bytesSince) / elapsed
	f.recordPerf(throughput)

	if f.bwEst == 0 {
		f.bwEst = throughput
	} else {
		f.bwEst = flowEWMAAlpha*throughput + (1-flowEWMAAlpha)*f.bwEst
	}

	f.measureStart = now
	f.bytesSince = 0

	congested := f.detectCongestion()
	bdp := f.bandwidthDelayProduct()

	switch {
	case congested:
		f.ssthresh = maxU32(f.window/2, f.min)
		f.inSlowStart = false
		shrunk := uint32(float64(f.window) * 0.75)
		if shrunk < f.min {
			shrunk = f.min
		}
		f.window = shrunk
	case f.inSlowStart:
		grown := f.window * 2
		if grown < f.window { // overflow
			grown = f.max
		}
		if grown >= f.ssthresh {
			grown = f.ssthresh
			f.inSlowStart = false
		}
		f.window = clampU32(grown, f.min, f.max)
	default:
		step := uint32(float64(f.window) * 0.1)
		if step < 1024 {
			step = 1024
		}
		grown := f.window + step
		if grown < f.window { // overflow
			grown = f.max
		}
		cap := f.max
		if bdp > 0 && 4*bdp < cap {
			cap = 4 * bdp
		}
		f.window = clampU32(grown, f.min, cap)
	}

	f.threshold = f.window / 2
}

// detectCongestion implements the two congestion signals from the
// algorithm: a falling recent-vs-older throughput ratio, or a run of
// window-exhaustion events whose inter-arrival time is shrinking and
// whose most recent member is very fresh.
func (f *flowController) detectCongestion() bool {
	samples := f.perfSamples()
	const k = 3
	if len(samples) >= 2*k {
		n := len(samples)
		var recent, older float64
		for i := 0; i < k; i++ {
			recent += samples[n-1-i]
			older += samples[n-1-k-i]
		}
		recent /= k
		older /= k
		if older > 0 && recent/older < 0.7 {
			return true
		}
	}

	events := f.exhaustionEvents()
	if len(events) == flowExhaustionRingSize {
		inter1 := events[1].Sub(events[0])
		inter2 := events[2].Sub(events[1])
		newest := events[2]
		if inter2 < inter1 && f.now().Sub(newest) <= time.Second {
			return true
		}
	}
	return false
}

// bandwidthDelayProduct estimates BDP from bwEst (bytes/sec) and
// rttEst; returns 0 when either input is unavailable.
func (f *flowController) bandwidthDelayProduct() uint32 {
	if f.bwEst <= 0 || f.rttEst <= 0 {
		return 0
	}
	bdp := f.bwEst * f.rttEst.Seconds()
	if bdp > float64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(bdp)
}

// needsAdjustment reports whether the controller believes the
// currently granted window has shrunk far enough that the peer should
// be sent more credit.
func (f *flowController) needsAdjustment() bool {
	if f == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.window <= f.threshold
}

// adjustment returns the number of bytes to add to the window via a
// windowAdjustMsg and resets the depletion counter. consumed is the
// number of bytes the caller has accumulated since the last call; the
// returned value is at least consumed (the peer must always get back
// at least what it used) and may exceed it when the controller is
// growing the window.
func (f *flowController) adjustment(consumed uint32) uint32 {
	if f == nil {
		return consumed
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.window
	if target < consumed {
		target = consumed
	}
	grant := target
	if grant < consumed {
		grant = consumed
	}

	f.window = target
	f.threshold = f.window / 2
	f.lastAdjust = f.now()
	f.awaitingFirst = true
	return grant
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func clampU32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
