// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package rc

import (
	"bytes"
	"testing"
)

func mbridgeFrame(typ byte, payload []byte) []byte {
	buf := []byte{mbridgeStx1, mbridgeStx2, byte(len(payload) + 1), typ}
	buf = append(buf, payload...)
	crc := byte(0)
	for _, b := range buf[3:] {
		crc = crc8DvbS2(crc, b)
	}
	return append(buf, crc)
}

func newTestBridge() (*MBridge, *bytes.Buffer) {
	var sink bytes.Buffer
	m := &MBridge{port: &sink, log: func(string, ...interface{}) {}}
	return m, &sink
}

func Test_MBridgeChannels(t *testing.T) {
	m, _ := newTestBridge()
	var in [NumChannels]uint16
	for i := range in {
		in[i] = uint16(50 * i)
	}
	packed := pack11LE(&in)
	for _, b := range mbridgeFrame(MBridgeTypeChannels, packed[:]) {
		m.feed(b)
	}

	var d Data
	if !m.Update(&d) {
		t.Fatal("no channels decoded")
	}
	if d.Ch != in {
		t.Fatalf("channels %v, expected %v", d.Ch[:4], in[:4])
	}
	// a channels packet opens the telemetry window
	if !m.TelemetryUpdate() {
		t.Fatal("telemetry window not opened by channels packet")
	}
}

func Test_MBridgeCommands(t *testing.T) {
	m, _ := newTestBridge()
	for _, b := range mbridgeFrame(MBridgeTypeCommand, []byte{MBridgeCmdParamStore}) {
		m.feed(b)
	}
	cmd, ok := m.CommandReceived()
	if !ok || cmd != MBridgeCmdParamStore {
		t.Fatalf("command %#x/%v, expected PARAM_STORE", cmd, ok)
	}
	if _, ok := m.CommandReceived(); ok {
		t.Fatal("command delivered twice")
	}

	for _, b := range mbridgeFrame(MBridgeTypeCommand, []byte{MBridgeCmdParamSet, 2, 1}) {
		m.feed(b)
	}
	idx, val, ok := m.ParamSetReceived()
	if !ok || idx != 2 || val != 1 {
		t.Fatalf("param set %d=%d/%v, expected 2=1", idx, val, ok)
	}
}

func Test_MBridgeSerial(t *testing.T) {
	m, sink := newTestBridge()

	// upstream serial bytes from the handset side
	for _, b := range mbridgeFrame(MBridgeTypeSerial, []byte{0xAA, 0xBB}) {
		m.feed(b)
	}
	if !m.Available() {
		t.Fatal("no serial bytes available")
	}
	if m.Getc() != 0xAA || m.Getc() != 0xBB {
		t.Fatal("serial bytes mangled")
	}

	// downstream bytes ride along with the next telemetry window
	m.Putc(0x42)
	m.SendLinkStats([]byte{1, 2, 3})
	out := sink.Bytes()
	if len(out) == 0 {
		t.Fatal("nothing written in transmit window")
	}
	// expect a link stats frame followed by a serial frame carrying 0x42
	want := append(mbridgeFrame(MBridgeTypeLinkStats, []byte{1, 2, 3}),
		mbridgeFrame(MBridgeTypeSerial, []byte{0x42})...)
	if !bytes.Equal(out, want) {
		t.Fatalf("window wrote % x, expected % x", out, want)
	}
}

func Test_MBridgeBadCrcDropped(t *testing.T) {
	m, _ := newTestBridge()
	var in [NumChannels]uint16
	packed := pack11LE(&in)
	f := mbridgeFrame(MBridgeTypeChannels, packed[:])
	f[len(f)-1] ^= 1
	for _, b := range f {
		m.feed(b)
	}
	var d Data
	if m.Update(&d) {
		t.Fatal("corrupt frame delivered")
	}
}

func Test_MBridgeStuckRescue(t *testing.T) {
	m, _ := newTestBridge()
	var in [NumChannels]uint16
	packed := pack11LE(&in)
	for _, b := range mbridgeFrame(MBridgeTypeChannels, packed[:]) {
		m.feed(b)
	}
	// the window never gets serviced; the rescue must reset the state machine
	for i := 0; i < mbridgeStuckMs; i++ {
		m.TickMs()
	}
	if m.RescueCount() != 1 {
		t.Fatalf("rescue fired %d times, expected 1", m.RescueCount())
	}
	if m.TelemetryUpdate() {
		t.Fatal("telemetry window survived the rescue")
	}
	// the bridge keeps working after the rescue
	in[0] = 1234
	packed = pack11LE(&in)
	for _, b := range mbridgeFrame(MBridgeTypeChannels, packed[:]) {
		m.feed(b)
	}
	var d Data
	if !m.Update(&d) || d.Ch[0] != 1234 {
		t.Fatal("bridge dead after rescue")
	}
}
