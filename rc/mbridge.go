// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package rc

import (
	"io"
	"sync"
)

// The mBridge protocol multiplexes three things over one half-duplex UART: channel
// packets from the handset, asynchronous command packets in both directions, and the
// serial payload stream when the bridge is the serial destination. Frames are
// STX1 STX2 LEN PAYLOAD CRC8 with the CRC over the payload. The handset is the bus
// master: the module only transmits in the window after a received channels packet.
const (
	mbridgeStx1   = 'O'
	mbridgeStx2   = 'W'
	mbridgeMaxLen = 64

	// payload[0], frame types
	MBridgeTypeChannels  = 0x00
	MBridgeTypeCommand   = 0x01
	MBridgeTypeSerial    = 0x02
	MBridgeTypeLinkStats = 0x03

	// command codes carried in MBridgeTypeCommand frames
	MBridgeCmdParamSet   = 0x01
	MBridgeCmdParamStore = 0x02

	// the handset sends channels every ~20ms; if the bridge has a transmission
	// pending for much longer than that, the half-duplex turnaround was missed
	mbridgeStuckMs = 200
)

// MBridge speaks the mBridge handset protocol. It is a channel Source, a serial byte
// port, and the command conduit all at once.
type MBridge struct {
	sync.Mutex
	port  io.Writer
	state int
	buf   [mbridgeMaxLen + 4]byte
	cnt   int
	flen  int

	ch    [NumChannels]uint16
	fresh bool

	cmdFifo []byte // received command codes
	params  [][2]byte

	rxFifo []byte // serial payload received from the handset side
	txFifo []byte // serial payload waiting for a transmit window

	telemetryPending bool
	pendingSinceMs   int
	rescueCnt        int

	log LogPrintf
}

// NewMBridge starts the bridge on the given half-duplex port.
func NewMBridge(port io.ReadWriter, logger LogPrintf) *MBridge {
	m := &MBridge{port: port, log: func(format string, v ...interface{}) {}}
	if logger != nil {
		m.log = func(format string, v ...interface{}) { logger("mbridge: "+format, v...) }
	}
	go m.reader(port)
	return m
}

// Update copies the most recent channel frame into rc and reports whether a fresh
// frame arrived since the last call.
func (m *MBridge) Update(rc *Data) bool {
	m.Lock()
	defer m.Unlock()
	if !m.fresh {
		return false
	}
	m.fresh = false
	rc.Ch = m.ch
	return true
}

// CommandReceived pops one pending handset command, if any.
func (m *MBridge) CommandReceived() (byte, bool) {
	m.Lock()
	defer m.Unlock()
	if len(m.cmdFifo) == 0 {
		return 0, false
	}
	cmd := m.cmdFifo[0]
	m.cmdFifo = m.cmdFifo[1:]
	return cmd, true
}

// ParamSetReceived pops one pending parameter change (index, value), if any.
func (m *MBridge) ParamSetReceived() (idx, value byte, ok bool) {
	m.Lock()
	defer m.Unlock()
	if len(m.params) == 0 {
		return 0, 0, false
	}
	p := m.params[0]
	m.params = m.params[1:]
	return p[0], p[1], true
}

// TelemetryUpdate reports whether the transmit window is open, at most once per
// received channels packet.
func (m *MBridge) TelemetryUpdate() bool {
	m.Lock()
	defer m.Unlock()
	if !m.telemetryPending {
		return false
	}
	m.telemetryPending = false
	return true
}

// SendLinkStats writes a link statistics frame into the transmit window, followed by
// any pending serial payload.
func (m *MBridge) SendLinkStats(stats []byte) {
	m.writeFrame(MBridgeTypeLinkStats, stats)
	m.Lock()
	tx := m.txFifo
	m.txFifo = nil
	m.Unlock()
	for len(tx) > 0 {
		n := len(tx)
		if n > mbridgeMaxLen-1 {
			n = mbridgeMaxLen - 1
		}
		m.writeFrame(MBridgeTypeSerial, tx[:n])
		tx = tx[n:]
	}
}

// TickMs is called every millisecond by the main loop and runs the stuck rescue: if
// the half-duplex turnaround was missed for too long the framing state machine is
// forced back to idle. The rescue never touches the radio.
func (m *MBridge) TickMs() {
	m.Lock()
	defer m.Unlock()
	if !m.telemetryPending {
		m.pendingSinceMs = 0
		return
	}
	m.pendingSinceMs++
	if m.pendingSinceMs >= mbridgeStuckMs {
		m.state = 0
		m.cnt = 0
		m.telemetryPending = false
		m.pendingSinceMs = 0
		m.rescueCnt++
		m.log("bridge stuck, state machine reset (%d)", m.rescueCnt)
	}
}

// RescueCount returns how many times the stuck rescue has fired.
func (m *MBridge) RescueCount() int {
	m.Lock()
	defer m.Unlock()
	return m.rescueCnt
}

//===== serial byte port, used when the bridge is the serial destination

// Available reports whether received serial payload bytes are waiting.
func (m *MBridge) Available() bool {
	m.Lock()
	defer m.Unlock()
	return len(m.rxFifo) > 0
}

// Getc pops one received serial payload byte.
func (m *MBridge) Getc() byte {
	m.Lock()
	defer m.Unlock()
	if len(m.rxFifo) == 0 {
		return 0
	}
	c := m.rxFifo[0]
	m.rxFifo = m.rxFifo[1:]
	return c
}

// Putc queues one serial payload byte for the next transmit window.
func (m *MBridge) Putc(c byte) {
	m.Lock()
	defer m.Unlock()
	if len(m.txFifo) < 1024 {
		m.txFifo = append(m.txFifo, c)
	}
}

//

func (m *MBridge) writeFrame(typ byte, payload []byte) {
	buf := make([]byte, 0, len(payload)+5)
	buf = append(buf, mbridgeStx1, mbridgeStx2, byte(len(payload)+1), typ)
	buf = append(buf, payload...)
	crc := byte(0)
	for _, b := range buf[3:] {
		crc = crc8DvbS2(crc, b)
	}
	buf = append(buf, crc)
	if _, err := m.port.Write(buf); err != nil {
		m.log("write: %s", err)
	}
}

func (m *MBridge) reader(port io.Reader) {
	rbuf := make([]byte, 64)
	for {
		n, err := port.Read(rbuf)
		if err != nil {
			m.log("read: %s", err)
			return
		}
		for _, b := range rbuf[:n] {
			m.feed(b)
		}
	}
}

// feed runs the framing state machine one byte at a time.
func (m *MBridge) feed(b byte) {
	switch m.state {
	case 0:
		if b == mbridgeStx1 {
			m.state = 1
		}
	case 1:
		if b == mbridgeStx2 {
			m.state = 2
		} else {
			m.state = 0
		}
	case 2:
		if b < 1 || b > mbridgeMaxLen {
			m.state = 0
			return
		}
		m.flen = int(b)
		m.cnt = 0
		m.state = 3
	case 3:
		m.buf[m.cnt] = b
		m.cnt++
		if m.cnt < m.flen+1 { // payload plus trailing crc
			return
		}
		m.state = 0
		crc := byte(0)
		for _, x := range m.buf[:m.flen] {
			crc = crc8DvbS2(crc, x)
		}
		if crc != m.buf[m.flen] {
			m.log("bad crc")
			return
		}
		m.frame(m.buf[0], m.buf[1:m.flen])
	}
}

func (m *MBridge) frame(typ byte, payload []byte) {
	switch typ {
	case MBridgeTypeChannels:
		if len(payload) != 22 {
			return
		}
		var raw [NumChannels]uint16
		unpack11LE(payload, &raw)
		m.Lock()
		m.ch = raw
		m.fresh = true
		// a channels packet opens the module's transmit window
		m.telemetryPending = true
		m.pendingSinceMs = 0
		m.Unlock()
	case MBridgeTypeCommand:
		if len(payload) < 1 {
			return
		}
		m.Lock()
		switch payload[0] {
		case MBridgeCmdParamSet:
			if len(payload) >= 3 {
				m.params = append(m.params, [2]byte{payload[1], payload[2]})
			}
		default:
			m.cmdFifo = append(m.cmdFifo, payload[0])
		}
		m.Unlock()
	case MBridgeTypeSerial:
		m.Lock()
		if len(m.rxFifo)+len(payload) <= 4096 {
			m.rxFifo = append(m.rxFifo, payload...)
		}
		m.Unlock()
	}
}

var _ Source = (*MBridge)(nil)
