// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package mavlink

import (
	"bytes"
	"testing"
)

// v1Msg builds a MAVLink v1 message with a given payload length. The CRC bytes are
// arbitrary: the router delineates, it does not verify.
func v1Msg(payloadLen int, fill byte) []byte {
	msg := make([]byte, 6+payloadLen+2)
	msg[0] = 0xFE
	msg[1] = byte(payloadLen)
	for i := 6; i < 6+payloadLen; i++ {
		msg[i] = fill
	}
	return msg
}

func v2Msg(payloadLen int, signed bool) []byte {
	n := 10 + payloadLen + 2
	if signed {
		n += 13
	}
	msg := make([]byte, n)
	msg[0] = 0xFD
	msg[1] = byte(payloadLen)
	if signed {
		msg[2] = 0x01
	}
	return msg
}

func Test_DownstreamDelineation(t *testing.T) {
	r := NewRouter(func(byte) {}, nil)

	m1 := v1Msg(8, 0x11)
	m2 := v2Msg(16, false)
	for _, c := range m1 {
		r.PutDownstream(c)
	}
	// garbage between messages is dropped
	r.PutDownstream(0x42)
	r.PutDownstream(0x99)
	for _, c := range m2 {
		r.PutDownstream(c)
	}

	var got []byte
	for r.Available() {
		got = append(got, r.Getc())
	}
	want := append(append([]byte{}, m1...), m2...)
	if !bytes.Equal(got, want) {
		t.Fatalf("downstream got %d bytes, expected %d", len(got), len(want))
	}
}

func Test_DownstreamSignedV2(t *testing.T) {
	r := NewRouter(func(byte) {}, nil)
	m := v2Msg(4, true)
	for _, c := range m {
		r.PutDownstream(c)
	}
	n := 0
	for r.Available() {
		r.Getc()
		n++
	}
	if n != len(m) {
		t.Fatalf("signed v2 message delivered %d bytes, expected %d", n, len(m))
	}
}

func Test_UpstreamReassembly(t *testing.T) {
	var out []byte
	r := NewRouter(func(c byte) { out = append(out, c) }, nil)

	m := v1Msg(12, 0x33)
	// deliver split across two radio frames
	for _, c := range m[:7] {
		r.Putc(c)
	}
	if len(out) != 0 {
		t.Fatalf("incomplete message forwarded early")
	}
	for _, c := range m[7:] {
		r.Putc(c)
	}
	if !bytes.Equal(out, m) {
		t.Fatalf("upstream got %v, expected %v", out, m)
	}
}

func Test_UpstreamDropsGarbage(t *testing.T) {
	var out []byte
	r := NewRouter(func(c byte) { out = append(out, c) }, nil)
	for _, c := range []byte{1, 2, 3, 4} {
		r.Putc(c)
	}
	if len(out) != 0 {
		t.Fatalf("garbage forwarded: %v", out)
	}
}

func Test_Flush(t *testing.T) {
	r := NewRouter(func(byte) {}, nil)
	for _, c := range v1Msg(4, 0) {
		r.PutDownstream(c)
	}
	r.Flush()
	if r.Available() {
		t.Fatal("data available after flush")
	}
}
