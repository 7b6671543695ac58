// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package rc

import (
	"bytes"
	"testing"
)

func crsfChannelsFrame(ch *[NumChannels]uint16) []byte {
	packed := pack11LE(ch)
	buf := []byte{crsfAddrModule, crsfChannelsPayloadLen + 2, crsfTypeChannels}
	buf = append(buf, packed[:]...)
	crc := byte(0)
	for _, b := range buf[2:] {
		crc = crc8DvbS2(crc, b)
	}
	return append(buf, crc)
}

func Test_CrsfDecode(t *testing.T) {
	var sink bytes.Buffer
	c := &CRSF{port: &sink, log: func(string, ...interface{}) {}}

	var in [NumChannels]uint16
	for i := range in {
		in[i] = uint16(200 + 100*i)
	}
	for _, b := range crsfChannelsFrame(&in) {
		c.feed(b)
	}

	var d Data
	if !c.Update(&d) {
		t.Fatal("no frame decoded")
	}
	for i := range in {
		if want := crsfToCh(in[i]); d.Ch[i] != want {
			t.Fatalf("channel %d = %d, expected %d", i, d.Ch[i], want)
		}
	}
}

func Test_CrsfBadCrcDropped(t *testing.T) {
	var sink bytes.Buffer
	c := &CRSF{port: &sink, log: func(string, ...interface{}) {}}
	var in [NumChannels]uint16
	f := crsfChannelsFrame(&in)
	f[len(f)-1] ^= 0xFF
	for _, b := range f {
		c.feed(b)
	}
	var d Data
	if c.Update(&d) {
		t.Fatal("corrupt frame delivered")
	}
}

func Test_CrsfLinkStatisticsFrame(t *testing.T) {
	var sink bytes.Buffer
	c := &CRSF{port: &sink, log: func(string, ...interface{}) {}}
	c.SendLinkStatistics(&CrsfLinkStats{
		UplinkRssi1: 70, UplinkRssi2: 65, UplinkLQ: 97, UplinkSnr: 8,
		ActiveAntenna: 1, DownlinkRssi: 60, DownlinkLQ: 100, DownlinkSnr: -2,
	})
	out := sink.Bytes()
	if len(out) != 14 {
		t.Fatalf("link stats frame is %d bytes, expected 14", len(out))
	}
	if out[0] != crsfAddrHandset || out[2] != crsfTypeLinkStats {
		t.Fatalf("bad frame header: %#x %#x", out[0], out[2])
	}
	if out[1] != byte(len(out)-2) {
		t.Fatalf("length byte %d, expected %d", out[1], len(out)-2)
	}
	crc := byte(0)
	for _, b := range out[2 : len(out)-1] {
		crc = crc8DvbS2(crc, b)
	}
	if crc != out[len(out)-1] {
		t.Fatal("bad crc on generated frame")
	}
}

func Test_CrsfTelemetryWindow(t *testing.T) {
	var sink bytes.Buffer
	c := &CRSF{port: &sink, log: func(string, ...interface{}) {}}
	if c.TelemetryUpdate() {
		t.Fatal("telemetry window open before start")
	}
	c.TelemetryStart()
	if !c.TelemetryUpdate() {
		t.Fatal("telemetry window not open after start")
	}
	if c.TelemetryUpdate() {
		t.Fatal("telemetry window open twice for one start")
	}
}

func Test_Crc8DvbS2(t *testing.T) {
	if got := crc8DvbS2(0, 0x16); got != 0xD3 {
		t.Fatalf("crc8 of 0x16 = %#x, expected 0xd3", got)
	}
	// running the CRC over a buffer followed by its own CRC yields zero
	data := []byte{0x16, 1, 2, 3, 4}
	crc := byte(0)
	for _, b := range data {
		crc = crc8DvbS2(crc, b)
	}
	if crc == 0 {
		t.Fatal("crc of non-trivial data is zero")
	}
	if crc8DvbS2(crc, crc) != 0 {
		t.Fatal("self-check property violated")
	}
}
