// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package link

// lqRing is a ring of per-cycle outcomes over the LQ averaging window. The current
// cycle's slot is written by set and the ring advances once per cycle; the quality is
// the percentage of marked slots over the last completed window.
type lqRing struct {
	outcome []bool
	i       int
	last    uint8 // quality as of the last completed cycle
}

func (r *lqRing) init(period uint16) {
	if period < 1 {
		period = 1
	}
	r.outcome = make([]bool, period)
	r.i = 0
	r.last = 0
}

// set marks the current cycle's outcome.
func (r *lqRing) set(ok bool) {
	r.outcome[r.i] = ok
}

// next closes the current cycle, records the quality of the window it completes, and
// advances to the next cycle, clearing its slot.
func (r *lqRing) next() {
	n := 0
	for _, ok := range r.outcome {
		if ok {
			n++
		}
	}
	r.last = uint8(100 * n / len(r.outcome))
	r.i = (r.i + 1) % len(r.outcome)
	r.outcome[r.i] = false
}

// lq returns the percentage of good cycles over the last completed window, 0..100.
func (r *lqRing) lq() uint8 {
	return r.last
}

// byteRate counts bytes over a one-second tumbling window.
type byteRate struct {
	cnt    uint32
	perSec uint32
}

func (b *byteRate) add(n int)        { b.cnt += uint32(n) }
func (b *byteRate) update1Hz()       { b.perSec = b.cnt; b.cnt = 0 }
func (b *byteRate) bytesPerSec() uint32 { return b.perSec }

// Stats aggregates everything the link learns about itself: per-antenna signal
// levels, the far end's reported numbers, sequence bookkeeping, and byte rates. It
// is owned by the engine's loop goroutine; snapshots are handed out by value.
type Stats struct {
	// per-antenna signal levels of the last reception, valid or not
	LastRxRssi [2]int8
	LastRxSnr  [2]int8

	// what the far end reported in its last valid frame
	ReceivedRssi     int8
	ReceivedLQ       uint8
	ReceivedLQSerial uint8
	ReceivedAntenna  uint8
	ReceivedTxAnt    uint8

	ReceivedSeqNoLast uint8
	ReceivedAckLast   bool

	LastRxAntenna uint8
	LastTxAntenna uint8

	TransmitSeqNo uint8

	bytesTransmitted byteRate
	bytesReceived    byteRate

	framesReceived lqRing // every reception, valid or not
	validFrames    lqRing // valid receptions
	serialFrames   lqRing // valid receptions that carried fresh serial payload
}

func (s *Stats) init(lqPeriod uint16) {
	s.framesReceived.init(lqPeriod)
	s.validFrames.init(lqPeriod)
	s.serialFrames.init(lqPeriod)
	s.clear()
}

// clear wipes the link-derived numbers; called whenever the link is not connected so
// stale values never leak into telemetry.
func (s *Stats) clear() {
	s.LastRxRssi = [2]int8{-128, -128}
	s.LastRxSnr = [2]int8{0, 0}
	s.ReceivedRssi = -128
	s.ReceivedLQ = 0
	s.ReceivedLQSerial = 0
	s.ReceivedSeqNoLast = 0xFF
	s.ReceivedAckLast = false
}

// lastRxRssi returns the signal level of the antenna elected last cycle.
func (s *Stats) lastRxRssi() int8 {
	return s.LastRxRssi[s.LastRxAntenna&1]
}

// doFrameReceived marks the current cycle as having received something.
func (s *Stats) doFrameReceived() { s.framesReceived.set(true) }

// doValidFrameReceived marks the current cycle as having received a valid frame.
func (s *Stats) doValidFrameReceived() { s.validFrames.set(true) }

// doSerialDataReceived marks the current cycle as having received fresh payload.
func (s *Stats) doSerialDataReceived() { s.serialFrames.set(true) }

// next advances all LQ windows by one cycle.
func (s *Stats) next() {
	s.framesReceived.next()
	s.validFrames.next()
	s.serialFrames.next()
}

// update1Hz rolls the byte rate windows; called on the commensurate 1Hz tick.
func (s *Stats) update1Hz() {
	s.bytesTransmitted.update1Hz()
	s.bytesReceived.update1Hz()
}

// LQ is the percentage of cycles with a valid reception over the averaging window.
func (s *Stats) LQ() uint8 { return s.validFrames.lq() }

// LQSerial is the percentage of cycles that delivered fresh serial payload.
func (s *Stats) LQSerial() uint8 { return s.serialFrames.lq() }

// Snapshot is the telemetry view of the link, published periodically. The JSON tags
// are the MQTT payload contract.
type Snapshot struct {
	Connected     bool   `json:"connected"`
	LQ            uint8  `json:"lq"`
	LQSerial      uint8  `json:"lq_serial"`
	RssiAnt1      int8   `json:"rssi1"`      // dBm
	RssiAnt2      int8   `json:"rssi2"`      // dBm
	SnrAnt1       int8   `json:"snr1"`       // dB
	SnrAnt2       int8   `json:"snr2"`       // dB
	ReceivedRssi  int8   `json:"rx_rssi"`    // far end's view, dBm
	ReceivedLQ    uint8  `json:"rx_lq"`
	TxAntenna     uint8  `json:"tx_antenna"`
	RxAntenna     uint8  `json:"rx_antenna"`
	TransmitSeqNo uint8  `json:"seq_no"`
	FhssIndex     uint16 `json:"fhss_i"`
	BytesTxPerSec uint32 `json:"tx_bps"`
	BytesRxPerSec uint32 `json:"rx_bps"`
}
