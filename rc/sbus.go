// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package rc

import (
	"io"
	"sync"
)

// SBUS frame: 0x0F, 22 bytes of 16x11bit channels LSB-first, one flag byte, 0x00.
// The UART runs at 100000 baud 8E2; signal inversion is a property of the port, not of
// this decoder.
const (
	sbusFrameLen = 25
	sbusHeader   = 0x0F
	sbusFooter   = 0x00

	sbusFlagFrameLost = 0x04
	sbusFlagFailsafe  = 0x08

	// channel value range as produced by common handsets
	sbusMin = 172
	sbusMax = 1811
)

// SBUS decodes the SBUS protocol from a serial port.
type SBUS struct {
	sync.Mutex
	buf      [sbusFrameLen]byte
	cnt      int
	ch       [NumChannels]uint16
	failsafe bool
	fresh    bool
	log      LogPrintf
}

// NewSBUS starts decoding SBUS frames from the port. A goroutine owns the blocking
// reads; Update never blocks.
func NewSBUS(port io.Reader, logger LogPrintf) *SBUS {
	s := &SBUS{log: func(format string, v ...interface{}) {}}
	if logger != nil {
		s.log = func(format string, v ...interface{}) { logger("sbus: "+format, v...) }
	}
	go s.reader(port)
	return s
}

// Update copies the most recent channel frame into rc and reports whether a fresh
// frame arrived since the last call. Failsafe-flagged frames are not delivered.
func (s *SBUS) Update(rc *Data) bool {
	s.Lock()
	defer s.Unlock()
	if !s.fresh {
		return false
	}
	s.fresh = false
	if s.failsafe {
		return false
	}
	rc.Ch = s.ch
	return true
}

func (s *SBUS) reader(port io.Reader) {
	rbuf := make([]byte, 64)
	for {
		n, err := port.Read(rbuf)
		if err != nil {
			s.log("read: %s", err)
			return
		}
		for _, c := range rbuf[:n] {
			s.feed(c)
		}
	}
}

// feed runs the framing state machine one byte at a time. There is no sync gap
// detection: a frame with a bad footer is dropped up to the next header byte inside
// it, which is reparsed as the start of a frame; this re-locks within a frame or two.
func (s *SBUS) feed(c byte) {
	if s.cnt == 0 && c != sbusHeader {
		return
	}
	s.buf[s.cnt] = c
	s.cnt++
	if s.cnt < sbusFrameLen {
		return
	}
	s.cnt = 0
	if s.buf[sbusFrameLen-1] != sbusFooter {
		s.log("bad frame")
		// resync: look for a header later in the buffer
		for i := 1; i < sbusFrameLen; i++ {
			if s.buf[i] == sbusHeader {
				copy(s.buf[:], s.buf[i:])
				s.cnt = sbusFrameLen - i
				break
			}
		}
		return
	}

	var raw [NumChannels]uint16
	unpack11LE(s.buf[1:23], &raw)
	flags := s.buf[23]

	s.Lock()
	for i, v := range raw {
		s.ch[i] = sbusToCh(v)
	}
	s.failsafe = flags&(sbusFlagFailsafe|sbusFlagFrameLost) != 0
	s.fresh = true
	s.Unlock()
}

// sbusToCh rescales an SBUS channel value to the internal 0..2047 range.
func sbusToCh(v uint16) uint16 {
	if v < sbusMin {
		v = sbusMin
	}
	if v > sbusMax {
		v = sbusMax
	}
	return uint16(uint32(v-sbusMin) * ChMax / (sbusMax - sbusMin))
}
