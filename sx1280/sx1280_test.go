// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package sx1280

import (
	"testing"
	"time"
)

// fakeSPI answers like an SX1280 on the other end of the bus.
type fakeSPI struct {
	txns  [][]byte
	fwRev uint16
	irq   uint16
	buf   [256]byte
}

func (f *fakeSPI) Tx(w, r []byte) error {
	cp := make([]byte, len(w))
	copy(cp, w)
	f.txns = append(f.txns, cp)
	switch w[0] {
	case CMD_READREGISTER:
		addr := uint16(w[1])<<8 | uint16(w[2])
		switch addr {
		case REG_FIRMWAREREV:
			r[4] = byte(f.fwRev >> 8)
			r[5] = byte(f.fwRev)
		case REG_RXGAIN:
			r[4] = 0x25
		}
	case CMD_GETIRQSTATUS:
		r[2] = byte(f.irq >> 8)
		r[3] = byte(f.irq)
	case CMD_GETRXBUFFERSTATUS:
		r[2] = 91 // rxPayloadLength
		r[3] = 0  // rxStartBufferPointer
	case CMD_READBUFFER:
		copy(r[3:], f.buf[w[1]:])
	case CMD_GETPACKETSTATUS:
		r[2] = 146 // rssi raw: -73dBm
		r[3] = 32  // snr raw: 8dB
	}
	return nil
}

func (f *fakeSPI) Speed(hz int64) error           { return nil }
func (f *fakeSPI) Configure(mode, bits int) error { return nil }
func (f *fakeSPI) Close() error                   { return nil }

// last returns the most recent transaction starting with the given opcode.
func (f *fakeSPI) last(opcode byte) []byte {
	for i := len(f.txns) - 1; i >= 0; i-- {
		if f.txns[i][0] == opcode {
			return f.txns[i]
		}
	}
	return nil
}

type fakePin struct{ level int }

func (p *fakePin) In(edge int) error                      { return nil }
func (p *fakePin) Read() int                              { return p.level }
func (p *fakePin) WaitForEdge(tmo time.Duration) bool     { return false }
func (p *fakePin) Out(level int)                          { p.level = level }
func (p *fakePin) Number() int                            { return 0 }

func newTestRadio(t *testing.T) (*Radio, *fakeSPI) {
	spi := &fakeSPI{fwRev: 0xA9B5}
	r, err := New(spi, &fakePin{}, nil, RadioOpts{
		Sync:   0x1F2E,
		Freq:   2424000000,
		Config: "sf5bw800li45",
		Power:  31,
	})
	if err != nil {
		t.Fatal(err)
	}
	return r, spi
}

func Test_NewConfiguresRadio(t *testing.T) {
	r, spi := newTestRadio(t)
	if r.Error() != nil {
		t.Fatal(r.Error())
	}
	if tx := spi.last(CMD_SETPACKETTYPE); tx == nil || tx[1] != PACKET_TYPE_LORA {
		t.Fatalf("packet type not set to LoRa: %v", tx)
	}
	mod := spi.last(CMD_SETMODULATIONPARAMS)
	if mod == nil || mod[1] != LORA_SF5 || mod[2] != LORA_BW_800 || mod[3] != LORA_CR_LI_4_5 {
		t.Fatalf("modulation params: %v", mod)
	}
	pkt := spi.last(CMD_SETPACKETPARAMS)
	if pkt == nil || pkt[2] != LORA_HEADER_IMPLICIT || pkt[3] != 91 {
		t.Fatalf("packet params: %v", pkt)
	}
	if tx := spi.last(CMD_SETFS); tx == nil {
		t.Fatal("radio not left in FS")
	}
}

func Test_NewRejectsDeadChip(t *testing.T) {
	for _, rev := range []uint16{0, 0xFFFF} {
		spi := &fakeSPI{fwRev: rev}
		_, err := New(spi, &fakePin{}, nil, RadioOpts{Config: "sf5bw800li45"})
		if err == nil {
			t.Fatalf("firmware rev %#x accepted", rev)
		}
	}
}

func Test_NewRejectsUnknownConfig(t *testing.T) {
	spi := &fakeSPI{fwRev: 0xA9B5}
	if _, err := New(spi, &fakePin{}, nil, RadioOpts{Config: "nope"}); err == nil {
		t.Fatal("unknown config accepted")
	}
}

func Test_SetRfFrequency(t *testing.T) {
	r, spi := newTestRadio(t)
	r.SetRfFrequency(2400000000)
	tx := spi.last(CMD_SETRFFREQUENCY)
	if len(tx) != 4 {
		t.Fatalf("frequency command has %d bytes", len(tx))
	}
	// 2.4GHz in 52MHz/2^18 steps
	want := uint32(uint64(2400000000) * 262144 / 52000000)
	got := uint32(tx[1])<<16 | uint32(tx[2])<<8 | uint32(tx[3])
	if got != want {
		t.Fatalf("frf %d, expected %d", got, want)
	}
}

func Test_SendFrameAndTimeoutAttribution(t *testing.T) {
	r, spi := newTestRadio(t)
	data := make([]byte, 91)
	data[0] = 0x2E
	r.SendFrame(data, 10000)

	wb := spi.last(CMD_WRITEBUFFER)
	if wb == nil || wb[1] != 0 || wb[2] != 0x2E || len(wb) != 93 {
		t.Fatalf("write buffer: %v...", wb[:3])
	}
	st := spi.last(CMD_SETTX)
	if st == nil || st[1] != PERIODBASE_62p5_US {
		t.Fatalf("set tx: %v", st)
	}
	if tmo := uint16(st[2])<<8 | uint16(st[3]); tmo != 10000/62 {
		t.Fatalf("tx timeout %d periods, expected %d", tmo, 10000/62)
	}
	if !r.InTx() {
		t.Fatal("timeout would be attributed to rx after SendFrame")
	}

	r.SetToRx(0)
	sr := spi.last(CMD_SETRX)
	if sr == nil || sr[2] != 0 || sr[3] != 0 {
		t.Fatalf("set rx: %v, expected continuous", sr)
	}
	if r.InTx() {
		t.Fatal("timeout would be attributed to tx after SetToRx")
	}
}

func Test_GetAndClearIrqStatus(t *testing.T) {
	r, spi := newTestRadio(t)
	spi.irq = IRQ_RXDONE | IRQ_RXTXTIMEOUT
	irq := r.GetAndClearIrqStatus()
	if irq != IRQ_RXDONE|IRQ_RXTXTIMEOUT {
		t.Fatalf("irq %#x", irq)
	}
	clr := spi.last(CMD_CLEARIRQSTATUS)
	if clr == nil || uint16(clr[1])<<8|uint16(clr[2]) != irq {
		t.Fatalf("clear command %v does not match causes", clr)
	}
}

func Test_ReadFrame(t *testing.T) {
	r, spi := newTestRadio(t)
	for i := 0; i < 91; i++ {
		spi.buf[i] = byte(i)
	}
	got := make([]byte, 91)
	r.ReadFrame(got)
	for i := range got {
		if got[i] != byte(i) {
			t.Fatalf("byte %d = %d", i, got[i])
		}
	}
}

func Test_GetPacketStatus(t *testing.T) {
	r, _ := newTestRadio(t)
	rssi, snr := r.GetPacketStatus()
	if snr != 8 {
		t.Fatalf("snr %d, expected 8", snr)
	}
	// snr is positive so no rssi correction applies
	if rssi != -73 {
		t.Fatalf("rssi %d, expected -73", rssi)
	}
}
