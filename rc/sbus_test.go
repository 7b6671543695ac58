// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package rc

import "testing"

// pack11LE is the inverse of unpack11LE, used to build test frames.
func pack11LE(ch *[NumChannels]uint16) [22]byte {
	var buf [22]byte
	var acc uint32
	bits := 0
	bi := 0
	for n := 0; n < NumChannels; n++ {
		acc |= uint32(ch[n]&0x7FF) << bits
		bits += 11
		for bits >= 8 {
			buf[bi] = byte(acc)
			acc >>= 8
			bits -= 8
			bi++
		}
	}
	return buf
}

func sbusFrame(ch *[NumChannels]uint16, flags byte) []byte {
	var f [sbusFrameLen]byte
	f[0] = sbusHeader
	packed := pack11LE(ch)
	copy(f[1:23], packed[:])
	f[23] = flags
	f[24] = sbusFooter
	return f[:]
}

func Test_SbusDecode(t *testing.T) {
	s := &SBUS{log: func(string, ...interface{}) {}}
	var in [NumChannels]uint16
	for i := range in {
		in[i] = 992 // sbus center
	}
	in[0] = sbusMin
	in[1] = sbusMax

	for _, c := range sbusFrame(&in, 0) {
		s.feed(c)
	}

	var d Data
	if !s.Update(&d) {
		t.Fatal("no frame decoded")
	}
	if d.Ch[0] != ChMin {
		t.Fatalf("min maps to %d, expected %d", d.Ch[0], ChMin)
	}
	if d.Ch[1] != ChMax {
		t.Fatalf("max maps to %d, expected %d", d.Ch[1], ChMax)
	}
	if d.Ch[2] != ChCenter {
		t.Fatalf("center maps to %d, expected %d", d.Ch[2], ChCenter)
	}
	// a frame is delivered once
	if s.Update(&d) {
		t.Fatal("stale frame delivered twice")
	}
}

func Test_SbusFailsafeNotDelivered(t *testing.T) {
	s := &SBUS{log: func(string, ...interface{}) {}}
	var in [NumChannels]uint16
	for _, c := range sbusFrame(&in, sbusFlagFailsafe) {
		s.feed(c)
	}
	var d Data
	if s.Update(&d) {
		t.Fatal("failsafe frame delivered as channel data")
	}
}

func Test_SbusResync(t *testing.T) {
	s := &SBUS{log: func(string, ...interface{}) {}}
	var in [NumChannels]uint16
	in[5] = 1500
	good := sbusFrame(&in, 0)

	// leading garbage, a truncated frame, then a good one
	s.feed(0x55)
	for _, c := range good[:10] {
		s.feed(c)
	}
	for _, c := range good {
		s.feed(c)
	}
	// the truncated frame corrupted alignment for at most one frame; feed another
	var d Data
	if !s.Update(&d) {
		for _, c := range good {
			s.feed(c)
		}
		if !s.Update(&d) {
			t.Fatal("decoder did not resync after garbage")
		}
	}
	if d.Ch[5] != sbusToCh(1500) {
		t.Fatalf("channel 5 = %d after resync", d.Ch[5])
	}
}
