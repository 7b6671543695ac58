// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package link is the transmitter's TDD engine: the per-frame transmit/receive state
// machine, the connection state machine, antenna diversity, parameter sync with the
// receiver, and the link statistics. It owns one or two SX1280-class transceivers
// through a narrow interface and is driven by a single loop goroutine plus one
// interrupt service goroutine per antenna.
//
// Shared state discipline: the irq status words are the only data shared between the
// interrupt goroutines and the loop; they are accessed with atomic word operations.
// Everything else, the state machines, the stats, the hop sequencer, belongs to the
// loop goroutine exclusively, and the interrupt path never issues a radio command
// other than reading and clearing the cause plus peeking at the sync word.
package link

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mlrs "github.com/Prashant0119/mLRS"
	"github.com/Prashant0119/mLRS/fhss"
	"github.com/Prashant0119/mLRS/frame"
	"github.com/Prashant0119/mLRS/mavlink"
	"github.com/Prashant0119/mLRS/rc"
	"github.com/Prashant0119/mLRS/sx1280"
)

// Transceiver is the contract the engine needs from a radio. *sx1280.Radio satisfies
// it; tests substitute their own.
type Transceiver interface {
	SetRfFrequency(freq uint32)
	SendFrame(data []byte, tmoUs uint16)
	SetToRx(tmoUs uint16)
	ReadFrame(data []byte)
	ReadBuffer(offset byte, data []byte)
	GetAndClearIrqStatus() uint16
	GetPacketStatus() (rssi int8, snr int8)
}

// SerialPort is the byte interface of a serial payload endpoint. Available and Getc
// drain bytes going down the link; Putc receives bytes coming up. None of the three
// may block.
type SerialPort interface {
	Available() bool
	Getc() byte
	Putc(c byte)
}

// Serial link modes.
const (
	ModeTransparent = iota
	ModeMavlink
)

// Link FSM states; one cycle is Idle -> Transmit -> TransmitWait -> Receive ->
// ReceiveWait and back to Idle via the pre-transmit bookkeeping.
const (
	linkStateIdle = iota
	linkStateTransmit
	linkStateTransmitWait
	linkStateReceive
	linkStateReceiveWait
	linkStateReceiveDone
)

// Config is the link configuration, the persisted parameter block of the transmitter.
type Config struct {
	FrameSyncWord     uint16 `json:"frame_sync_word"`
	FhssSeed          uint32 `json:"fhss_seed"`
	FhssNum           uint16 `json:"fhss_num"`
	FrameRateMs       uint16 `json:"frame_rate_ms"`
	LQAveragingPeriod uint16 `json:"lq_averaging_period"`
	ConnectSyncCount  uint8  `json:"connect_sync_count"`
	ConnectTimeoutMs  uint16 `json:"connect_timeout_ms"`
	SendFrameTmoUs    uint16 `json:"send_frame_tmo_us"`
	UseAntenna1       bool   `json:"antenna1"`
	UseAntenna2       bool   `json:"antenna2"`
	SerialLinkMode    int    `json:"serial_link_mode"`
	ChannelOrder      int    `json:"channel_order"`
}

// DefaultConfig returns the stock 50-frames-per-second setup.
func DefaultConfig() Config {
	return Config{
		FrameSyncWord:     0x1F2E,
		FhssSeed:          0xA5C9,
		FhssNum:           24,
		FrameRateMs:       20,
		LQAveragingPeriod: 25,
		ConnectSyncCount:  5,
		ConnectTimeoutMs:  750,
		SendFrameTmoUs:    10000,
		UseAntenna1:       true,
		SerialLinkMode:    ModeTransparent,
		ChannelOrder:      rc.OrderAETR,
	}
}

// LogPrintf is a function used by the engine to print logging info.
type LogPrintf func(format string, v ...interface{})

// Opts wires the engine to its collaborators. Only Radios for the enabled antennas
// are required; everything else may be left nil.
type Opts struct {
	Radios  [2]Transceiver
	DioPins [2]mlrs.GPIO // DIO1 edge interrupt per antenna

	Source rc.Source   // channel source (sbus, crsf, mbridge)
	Serial SerialPort  // serial payload destination, nil for none
	Bridge *rc.MBridge // set when the handset bridge also carries commands

	StoreParams func()         // persist the parameter block, runs deferred
	OnSnapshot  func(Snapshot) // 1Hz telemetry snapshot
	OnConnect   func(bool)     // connection state edges

	TickMs      []func() // collaborators needing the 1ms tick
	OnFrameTick []func() // collaborators scheduled at the frame rate

	Logger LogPrintf
}

// Engine is the link core. All fields are owned by the Run goroutine except the irq
// status words and the operator mailboxes.
type Engine struct {
	cfg  Config
	opts Opts

	// ISR -> main channel: one volatile word per antenna plus a wakeup event
	irqStatus [2]uint32
	irqEvent  chan struct{}

	fhss  fhss.Sequencer
	stats Stats

	rcData  *rc.Data
	chOrder *rc.ChannelOrder

	payload SerialPort      // where TX payload comes from / RX payload goes to
	mav     *mavlink.Router // non-nil in MAVLink mode

	linkState int
	rxStatus  [2]RxStatus
	rxFrame   [2]*frame.RxFrame
	rxBuf     [2][frame.FrameLen]byte

	connect   connectFSM
	connState int32 // atomic mirror of connect.state for cross-goroutine reads
	param     paramSync
	wt        whileTransmit

	// operator mailboxes, may be poked from other goroutines
	storeReq uint32 // atomic
	opMutex  sync.Mutex
	opParams *RxParams

	txTick       uint16
	tick1hz      uint16
	tick1hzComm  uint16
	frameRateHz  uint16
	doPreTx      bool

	log LogPrintf
}

// New validates the configuration and builds the engine. The radios must already be
// started up and tuned by the caller to the extent of New's contract: the engine
// issues only per-frame commands (frequency, send, receive).
func New(cfg Config, opts Opts) (*Engine, error) {
	if !cfg.UseAntenna1 && !cfg.UseAntenna2 {
		return nil, fmt.Errorf("link: no antenna enabled")
	}
	if cfg.UseAntenna1 && opts.Radios[Antenna1] == nil ||
		cfg.UseAntenna2 && opts.Radios[Antenna2] == nil {
		return nil, fmt.Errorf("link: radio missing for enabled antenna")
	}
	if cfg.FrameRateMs == 0 {
		return nil, fmt.Errorf("link: frame rate must be non-zero")
	}

	e := &Engine{
		cfg:      cfg,
		opts:     opts,
		irqEvent: make(chan struct{}, 2),
		rcData:   rc.NewData(),
		chOrder:  rc.NewChannelOrder(),
		log:      func(format string, v ...interface{}) {},
	}
	if opts.Logger != nil {
		e.log = func(format string, v ...interface{}) { opts.Logger("link: "+format, v...) }
	}
	if err := e.fhss.Init(cfg.FhssNum, cfg.FhssSeed); err != nil {
		return nil, err
	}
	e.fhss.StartTx()

	e.stats.init(cfg.LQAveragingPeriod)
	e.connect.init(cfg.ConnectSyncCount, cfg.ConnectTimeoutMs)
	e.param.init()
	e.wt.init()
	if opts.StoreParams != nil {
		e.wt.setHandler(TaskStoreParams, opts.StoreParams)
	}

	e.payload = opts.Serial
	if cfg.SerialLinkMode == ModeMavlink && opts.Serial != nil {
		e.mav = mavlink.NewRouter(func(c byte) { opts.Serial.Putc(c) },
			mavlink.LogPrintf(opts.Logger))
		e.payload = e.mav
	}

	e.chOrder.Set(cfg.ChannelOrder)

	e.linkState = linkStateIdle
	e.rxStatus = [2]RxStatus{RxNone, RxNone}
	e.txTick = cfg.FrameRateMs
	e.tick1hz = 1000
	e.frameRateHz = 1000 / cfg.FrameRateMs
	e.tick1hzComm = e.frameRateHz

	return e, nil
}

// Run drives the engine until stop is closed. It spawns one interrupt service
// goroutine per enabled antenna and then multiplexes the 1ms system tick with
// interrupt wakeups; everything of substance happens on this goroutine.
func (e *Engine) Run(stop <-chan struct{}) {
	// tune both radios to the epoch channel before the first cycle
	freq := e.fhss.CurrFreq()
	e.eachRadio(func(r Transceiver) { r.SetRfFrequency(freq) })

	isrStop := make(chan struct{})
	defer close(isrStop)
	if e.cfg.UseAntenna1 && e.opts.DioPins[Antenna1] != nil {
		go e.isr(Antenna1, isrStop)
	}
	if e.cfg.UseAntenna2 && e.opts.DioPins[Antenna2] != nil {
		go e.isr(Antenna2, isrStop)
	}

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.sysTick()
		case <-e.irqEvent:
		}
		e.loopBody()
	}
}

// Connected reports whether the link is up; safe to call from any goroutine.
func (e *Engine) Connected() bool {
	return ConnectState(atomic.LoadInt32(&e.connState)) == Connected
}

// State returns the connection state; safe to call from any goroutine.
func (e *Engine) State() ConnectState {
	return ConnectState(atomic.LoadInt32(&e.connState))
}

// RequestParamStore latches a STORE_RX_PARAMS command frame for the receiver and
// schedules the local store as a deferred task. Safe from any goroutine.
func (e *Engine) RequestParamStore() {
	atomic.StoreUint32(&e.storeReq, 1)
}

// SetRxParams records a new receiver parameter block; the engine pushes it to the
// receiver with a SET_RX_PARAMS command frame. Safe from any goroutine.
func (e *Engine) SetRxParams(p RxParams) {
	e.opMutex.Lock()
	e.opParams = &p
	e.opMutex.Unlock()
}

//===== interrupt service path

// isr services DIO1 for one antenna. It mirrors what a bare-metal exti handler does:
// fetch and clear the modem's irq causes, and on RX_DONE peek at the first two buffer
// bytes; a frame for some other link is discarded right here by zeroing the cause
// word. The full buffer read and everything stateful happens in the loop goroutine.
func (e *Engine) isr(i int, stop <-chan struct{}) {
	pin := e.opts.DioPins[i]
	radio := e.opts.Radios[i]
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !pin.WaitForEdge(time.Second) {
			if pin.Read() != mlrs.GpioHigh {
				continue
			}
			e.log("antenna %d: interrupt was missed!", i+1)
		}
		irq := radio.GetAndClearIrqStatus()
		if irq&sx1280.IRQ_RXDONE != 0 {
			var sw [2]byte
			radio.ReadBuffer(0, sw[:])
			if uint16(sw[0])|uint16(sw[1])<<8 != e.cfg.FrameSyncWord {
				irq = 0 // not for us, so ignore it
			}
		}
		atomic.StoreUint32(&e.irqStatus[i], uint32(irq))
		select {
		case e.irqEvent <- struct{}{}:
		default:
		}
	}
}

//===== system tick

// sysTick runs the millisecond down-counters: connection timeout, the 1Hz telemetry
// tick, and the frame tick that paces the TDD cycle.
func (e *Engine) sysTick() {
	e.connect.tickMs()
	for _, f := range e.opts.TickMs {
		f()
	}

	e.tick1hz--
	if e.tick1hz == 0 {
		e.tick1hz = 1000
		e.emitSnapshot()
	}

	e.txTick--
	if e.txTick == 0 {
		e.txTick = e.cfg.FrameRateMs
		e.doPreTx = true // trigger next cycle
		for _, f := range e.opts.OnFrameTick {
			f()
		}
	}
}

//===== main loop body

func (e *Engine) loopBody() {
	e.pollOperator()

	switch e.linkState {
	case linkStateIdle, linkStateReceiveDone:
		// nothing to do

	case linkStateTransmit:
		e.fhss.HopToNext()
		freq := e.fhss.CurrFreq()
		e.eachRadio(func(r Transceiver) { r.SetRfFrequency(freq) })
		ant := Antenna1
		if !e.cfg.UseAntenna1 {
			ant = Antenna2
		}
		e.doTransmit(ant)
		e.linkState = linkStateTransmitWait
		atomic.StoreUint32(&e.irqStatus[0], 0)
		atomic.StoreUint32(&e.irqStatus[1], 0)
		e.wt.trigger()

	case linkStateReceive:
		e.eachRadio(func(r Transceiver) { r.SetToRx(0) })
		e.linkState = linkStateReceiveWait
		atomic.StoreUint32(&e.irqStatus[0], 0)
		atomic.StoreUint32(&e.irqStatus[1], 0)
	}

	if e.cfg.UseAntenna1 {
		e.handleIrq(Antenna1)
	}
	if e.cfg.UseAntenna2 {
		e.handleIrq(Antenna2)
	}

	if e.doPreTx {
		e.doPreTx = false
		e.preTransmit()
	}

	// poll the channel source
	if e.opts.Source != nil && e.opts.Source.Update(e.rcData) {
		e.chOrder.Apply(e.rcData)
	}
	// poll the handset bridge for commands
	if b := e.opts.Bridge; b != nil {
		if cmd, ok := b.CommandReceived(); ok && cmd == rc.MBridgeCmdParamStore {
			atomic.StoreUint32(&e.storeReq, 1)
		}
		for {
			idx, val, ok := b.ParamSetReceived()
			if !ok {
				break
			}
			e.applyParamSet(idx, val)
		}
	}
	// pump raw serial bytes through the mavlink delineator
	if e.mav != nil && e.opts.Serial != nil {
		for n := 0; n < 256 && e.opts.Serial.Available(); n++ {
			e.mav.PutDownstream(e.opts.Serial.Getc())
		}
	}

	e.wt.do()
}

// pollOperator drains the cross-goroutine mailboxes into loop-owned state.
func (e *Engine) pollOperator() {
	if atomic.SwapUint32(&e.storeReq, 0) != 0 {
		e.param.transmitFrameType = transmitFrameStoreRxParams
		e.wt.setTask(TaskStoreParams)
	}
	e.opMutex.Lock()
	p := e.opParams
	e.opParams = nil
	e.opMutex.Unlock()
	if p != nil {
		e.param.rxParams = *p
		e.param.paramChanged = true
	}
}

// applyParamSet maps a bridge parameter index onto the receiver parameter block.
func (e *Engine) applyParamSet(idx, val byte) {
	switch idx {
	case 0:
		e.param.rxParams.Power = val
	case 1:
		e.param.rxParams.Diversity = val
	case 2:
		e.param.rxParams.ChannelOrder = val
	case 3:
		e.param.rxParams.FailsafeMode = val
	default:
		return
	}
	e.param.paramChanged = true
}

// handleIrq consumes one antenna's pending irq causes and advances the link FSM. A
// timeout in TransmitWait is the TX timeout, fatal for the cycle; in ReceiveWait it
// is the RX timeout, the normal no-frame outcome. Either way the cycle ends in Idle
// with both antennas' receive status cleared.
func (e *Engine) handleIrq(i int) {
	irq := uint16(atomic.SwapUint32(&e.irqStatus[i], 0))
	if irq == 0 {
		return
	}

	switch {
	case e.linkState == linkStateTransmitWait && irq&sx1280.IRQ_TXDONE != 0:
		e.linkState = linkStateReceive
	case e.linkState == linkStateReceiveWait && irq&sx1280.IRQ_RXDONE != 0:
		e.rxStatus[i] = e.doReceive(i)
	}

	if irq&sx1280.IRQ_RXTXTIMEOUT != 0 {
		if e.linkState == linkStateTransmitWait {
			e.log("antenna %d: tx timeout", i+1)
		}
		e.linkState = linkStateIdle
		e.rxStatus[0] = RxNone
		e.rxStatus[1] = RxNone
	}
}

// doTransmit sends one downstream frame on the selected antenna.
func (e *Engine) doTransmit(antenna int) {
	e.stats.TransmitSeqNo++
	e.processTransmitFrame(antenna, true)
}

func (e *Engine) processTransmitFrame(antenna int, ack bool) {
	e.param.latch()

	var payload []byte
	if e.param.transmitFrameType == transmitFrameNormal {
		if e.connect.connected() && e.payload != nil {
			for len(payload) < frame.TxPayloadLen && e.payload.Available() {
				payload = append(payload, e.payload.Getc())
			}
			e.stats.bytesTransmitted.add(len(payload))
		} else if e.mav != nil {
			e.mav.Flush() // no stale telemetry bursts on reconnect
		}
	}

	e.stats.LastTxAntenna = uint8(antenna)

	fstats := &frame.Stats{
		SeqNo:           e.stats.TransmitSeqNo & 0x07,
		Ack:             ack,
		Antenna:         e.stats.LastRxAntenna,
		TransmitAntenna: uint8(antenna),
		Rssi:            e.stats.lastRxRssi(),
		LQ:              e.stats.LQ(),
		LQSerial:        e.stats.LQSerial(),
	}

	var buf []byte
	var err error
	if e.param.transmitFrameType == transmitFrameNormal {
		buf, err = frame.PackTxFrame(e.cfg.FrameSyncWord, fstats, e.rcData, payload)
	} else {
		cmd, value := e.param.cmdFrameArgs()
		buf, err = frame.PackTxCmdFrame(e.cfg.FrameSyncWord, fstats, e.rcData, cmd, value)
	}
	if err != nil {
		e.log("pack: %s", err)
		return
	}
	e.opts.Radios[antenna].SendFrame(buf, e.cfg.SendFrameTmoUs)
}

// doReceive reads and validates one antenna's received frame. Signal levels are
// captured even for corrupt frames; a sync word mismatch cannot reach here because
// the interrupt path already filtered it.
func (e *Engine) doReceive(i int) RxStatus {
	buf := e.rxBuf[i][:]
	e.opts.Radios[i].ReadFrame(buf)

	st := RxInvalid
	f, err := frame.UnpackRxFrame(buf, e.cfg.FrameSyncWord)
	switch err {
	case nil:
		st = RxValid
		e.rxFrame[i] = f
	case frame.ErrSyncWord:
		e.log("antenna %d: sync word mismatch in main context, must not happen", i+1)
		return RxNone
	default:
		e.log("antenna %d: %s", i+1, err)
	}

	rssi, snr := e.opts.Radios[i].GetPacketStatus()
	e.stats.LastRxRssi[i] = rssi
	e.stats.LastRxSnr[i] = snr
	return st
}

// preTransmit is the bookkeeping phase at the end of a cycle: elect the antenna,
// account the reception, advance the connection FSM, and rearm the next transmit.
func (e *Engine) preTransmit() {
	use1, use2 := e.cfg.UseAntenna1, e.cfg.UseAntenna2
	frameReceived := use1 && e.rxStatus[Antenna1] > RxNone ||
		use2 && e.rxStatus[Antenna2] > RxNone
	validReceived := use1 && e.rxStatus[Antenna1] > RxInvalid ||
		use2 && e.rxStatus[Antenna2] > RxInvalid

	if frameReceived {
		ant := chooseAntenna(use1, use2, e.rxStatus[Antenna1], e.rxStatus[Antenna2],
			e.stats.LastRxRssi[Antenna1], e.stats.LastRxRssi[Antenna2])
		e.handleReceive(ant)
	} else {
		e.handleReceiveNone()
	}

	if e.connect.frame(validReceived) {
		atomic.StoreInt32(&e.connState, int32(e.connect.state))
		if e.opts.OnConnect != nil {
			e.opts.OnConnect(e.connect.connected())
		}
	} else {
		atomic.StoreInt32(&e.connState, int32(e.connect.state))
	}

	e.linkState = linkStateTransmit
	e.rxStatus[Antenna1] = RxNone
	e.rxStatus[Antenna2] = RxNone

	e.tick1hzComm--
	if e.tick1hzComm == 0 {
		e.tick1hzComm = e.frameRateHz
		e.stats.update1Hz()
	}

	if !e.connect.connected() {
		e.stats.clear()
	}
	e.stats.next()
}

// handleReceive accounts the elected antenna's reception and routes its payload.
func (e *Engine) handleReceive(ant int) {
	if e.rxStatus[ant] == RxValid && e.rxFrame[ant] != nil {
		f := e.rxFrame[ant]
		e.rxFrame[ant] = nil
		e.processReceivedFrame(f)
		e.stats.doValidFrameReceived()
		e.stats.ReceivedSeqNoLast = f.Stats.SeqNo
		e.stats.ReceivedAckLast = f.Stats.Ack
	} else {
		e.stats.ReceivedSeqNoLast = 0xFF
		e.stats.ReceivedAckLast = false
	}

	// set for all received frames, valid or not
	e.stats.LastRxAntenna = uint8(ant)
	e.stats.doFrameReceived()
}

func (e *Engine) handleReceiveNone() {
	e.stats.ReceivedSeqNoLast = 0xFF
	e.stats.ReceivedAckLast = false
}

func (e *Engine) processReceivedFrame(f *frame.RxFrame) {
	e.stats.ReceivedAntenna = f.Stats.Antenna
	e.stats.ReceivedTxAnt = f.Stats.TransmitAntenna
	e.stats.ReceivedRssi = f.Stats.Rssi
	e.stats.ReceivedLQ = f.Stats.LQ
	e.stats.ReceivedLQSerial = f.Stats.LQSerial

	if f.Stats.FrameType != frame.TypeNormal {
		e.param.processReceivedCmd(f.Payload)
		return
	}

	// route payload up to the serial destination
	if e.payload != nil {
		for _, c := range f.Payload {
			e.payload.Putc(c)
		}
	}
	e.stats.bytesReceived.add(len(f.Payload))
	if len(f.Payload) > 0 {
		e.stats.doSerialDataReceived()
	}
}

func (e *Engine) emitSnapshot() {
	if e.opts.OnSnapshot == nil {
		return
	}
	e.opts.OnSnapshot(Snapshot{
		Connected:     e.connect.connected(),
		LQ:            e.stats.LQ(),
		LQSerial:      e.stats.LQSerial(),
		RssiAnt1:      e.stats.LastRxRssi[Antenna1],
		RssiAnt2:      e.stats.LastRxRssi[Antenna2],
		SnrAnt1:       e.stats.LastRxSnr[Antenna1],
		SnrAnt2:       e.stats.LastRxSnr[Antenna2],
		ReceivedRssi:  e.stats.ReceivedRssi,
		ReceivedLQ:    e.stats.ReceivedLQ,
		TxAntenna:     e.stats.LastTxAntenna,
		RxAntenna:     e.stats.LastRxAntenna,
		TransmitSeqNo: e.stats.TransmitSeqNo,
		FhssIndex:     e.fhss.CurrI(),
		BytesTxPerSec: e.stats.bytesTransmitted.bytesPerSec(),
		BytesRxPerSec: e.stats.bytesReceived.bytesPerSec(),
	})
}

func (e *Engine) eachRadio(f func(Transceiver)) {
	if e.cfg.UseAntenna1 {
		f(e.opts.Radios[Antenna1])
	}
	if e.cfg.UseAntenna2 {
		f(e.opts.Radios[Antenna2])
	}
}
