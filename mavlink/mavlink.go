// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package mavlink re-segments a MAVLink byte stream across the fixed-size payload
// windows of the radio link. It is not a MAVLink codec: it only finds message
// boundaries (v1 and v2 framing) so that each radio frame carries whole messages
// where possible and a parser on the far side never sees a message torn across a
// dropped frame. Payload bytes that are not valid MAVLink are discarded, which is
// the point: in MAVLink mode the link carries MAVLink and nothing else.
package mavlink

import "sync"

const (
	magicV1 = 0xFE
	magicV2 = 0xFD

	maxMsgLen = 280 // v2: 12 header/crc bytes + 255 payload + 13 signature
)

// LogPrintf is a function used by the router to print logging info.
type LogPrintf func(format string, v ...interface{})

// Router sits between a serial port and the radio link payload in MAVLink mode.
// The downstream direction (serial in, radio out) buffers whole messages and hands
// them out byte-wise to the frame packer; the upstream direction (radio in, serial
// out) re-assembles messages from frame payloads and forwards only complete ones.
type Router struct {
	sync.Mutex
	down parser // serial -> radio
	up   parser // radio -> serial
	out  func(c byte)
	log  LogPrintf
}

// NewRouter creates a Router; out is called with each upstream byte to forward to
// the serial port once its message completed parsing.
func NewRouter(out func(c byte), logger LogPrintf) *Router {
	r := &Router{out: out, log: func(format string, v ...interface{}) {}}
	if logger != nil {
		r.log = func(format string, v ...interface{}) { logger("mavlink: "+format, v...) }
	}
	return r
}

// PutDownstream feeds one byte read from the serial port.
func (r *Router) PutDownstream(c byte) {
	r.Lock()
	defer r.Unlock()
	if !r.down.feed(c) {
		r.log("downstream: dropped byte %#x outside message", c)
	}
}

// Available reports whether a complete downstream message is waiting for the radio.
func (r *Router) Available() bool {
	r.Lock()
	defer r.Unlock()
	return len(r.down.ready) > 0
}

// Getc pops one byte of the buffered downstream messages for the frame packer.
func (r *Router) Getc() byte {
	r.Lock()
	defer r.Unlock()
	if len(r.down.ready) == 0 {
		return 0
	}
	c := r.down.ready[0]
	r.down.ready = r.down.ready[1:]
	return c
}

// Putc feeds one upstream byte received over the radio. Complete messages are
// forwarded to the serial port.
func (r *Router) Putc(c byte) {
	r.Lock()
	fed := r.up.feed(c)
	ready := r.up.ready
	r.up.ready = nil
	r.Unlock()
	if !fed {
		r.log("upstream: dropped byte %#x outside message", c)
	}
	for _, b := range ready {
		r.out(b)
	}
}

// Flush drops buffered downstream data; called while the link is down so stale
// telemetry requests don't burst out on reconnect.
func (r *Router) Flush() {
	r.Lock()
	defer r.Unlock()
	r.down = parser{}
}

// parser finds MAVLink message boundaries in a byte stream. Complete messages are
// appended to ready; bytes outside any message are dropped.
type parser struct {
	msg    [maxMsgLen]byte
	cnt    int
	need   int
	ready  []byte
}

// feed consumes one byte and reports whether it was part of a (potential) message.
func (p *parser) feed(c byte) bool {
	if p.cnt == 0 {
		if c != magicV1 && c != magicV2 {
			return false
		}
		p.msg[0] = c
		p.cnt = 1
		p.need = 0
		return true
	}

	p.msg[p.cnt] = c
	p.cnt++

	if p.need == 0 {
		// second byte is the payload length in both framings
		if p.cnt < 2 {
			return true
		}
		payloadLen := int(p.msg[1])
		if p.msg[0] == magicV1 {
			p.need = 6 + payloadLen + 2
		} else {
			p.need = 10 + payloadLen + 2
			// incompat flags arrive next; signature handled below
		}
	}
	if p.msg[0] == magicV2 && p.cnt == 3 && p.msg[2]&0x01 != 0 {
		p.need += 13 // MAVLINK_IFLAG_SIGNED
	}

	if p.cnt >= p.need {
		p.ready = append(p.ready, p.msg[:p.cnt]...)
		p.cnt = 0
	}
	return true
}
