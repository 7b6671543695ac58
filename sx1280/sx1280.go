// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// The SX1280 package interfaces with a Semtech SX1280 2.4GHz LoRa radio connected to an
// SPI bus.
//
// The SX1280 differs from the older sub-GHz Semtech chips in that it is driven by
// commands instead of a flat register file: each SPI transaction starts with an opcode
// and the chip signals command completion on a BUSY line. The driver supports boards
// that wire up BUSY as well as boards that don't, in which case it enforces a fixed
// delay after the transmit and receive commands; other commands are not followed by a
// delay.
//
// This driver deliberately does not own the DIO1 interrupt pin and does not run a
// worker goroutine: the link engine drives the radio synchronously through its TDD
// cycle and services DIO1 itself. All methods serialize access to the SPI bus
// internally so the interrupt service path may call GetAndClearIrqStatus and
// ReadBuffer concurrently with the main loop.
//
// The driver operates the radio in LoRa mode with implicit (fixed length) headers
// only, which is what a fixed-size TDD frame wants: no header on air, both ends
// agree on the payload length at configure time.
package sx1280

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mlrs "github.com/Prashant0119/mLRS"
)

// Radio represents a Semtech SX1280 radio.
type Radio struct {
	// configuration
	spi      mlrs.SPI  // SPI device to access the radio
	resetPin mlrs.GPIO // active-low hardware reset
	busyPin  mlrs.GPIO // BUSY line, nil if the board doesn't wire it up
	// state
	sync.Mutex              // guard concurrent access to the radio
	config     *LoraConfig  // modulation config in effect
	busyUntil  time.Time    // earliest time the next command may start (no BUSY pin)
	inTx       bool         // last radio op was a transmit (for timeout attribution)
	err        error        // persistent error
	log        LogPrintf    // function to use for logging
}

// RadioOpts contains options used when initializing a Radio.
type RadioOpts struct {
	Sync   uint16    // LoRa sync word
	Freq   uint32    // initial frequency in Hz
	Config string    // entry in Configs table to use
	Power  byte      // output power setting, 0..31 maps to -18..+13 dBm
	DCDC   bool      // true: use the DC-DC regulator instead of the LDO
	Logger LogPrintf // function to use for logging
}

// LoraConfig describes the SX1280 configuration to achieve a specific spreading factor,
// bandwidth, and coding rate, plus the fixed frame length for implicit header mode.
type LoraConfig struct {
	SpreadingFactor byte
	Bandwidth       byte
	CodingRate      byte
	PreambleLength  byte
	PayloadLength   byte
	TimeOverAirUs   uint32 // cumbersome to calculate in general, so hardcoded per entry
	Info            string
}

// Configs is the table of supported configurations and their corresponding parameter
// settings. In order to operate at a new rate the table can be extended by the client.
var Configs = map[string]LoraConfig{
	"sf5bw800li45": {LORA_SF5, LORA_BW_800, LORA_CR_LI_4_5, 12, 91, 7800,
		"SF5 800KHz LI4/5, 7.8ms over air"},
	"sf6bw800li45": {LORA_SF6, LORA_BW_800, LORA_CR_LI_4_5, 12, 91, 13200,
		"SF6 800KHz LI4/5, 13.2ms over air"},
	"sf7bw800li45": {LORA_SF7, LORA_BW_800, LORA_CR_LI_4_5, 12, 91, 23500,
		"SF7 800KHz LI4/5, 23.5ms over air"},
}

// LogPrintf is a function used by the driver to print logging info.
type LogPrintf func(format string, v ...interface{})

// New initializes an SX1280 Radio given an SPI device, a reset pin and an optional
// BUSY pin (pass nil if the board doesn't wire it up). The radio is left in FS mode,
// configured and ready for the first SendFrame or SetToRx.
//
// The SPI bus must be set to 10Mhz max and mode 0.
func New(dev mlrs.SPI, reset, busy mlrs.GPIO, opts RadioOpts) (*Radio, error) {
	r := &Radio{
		spi: dev, resetPin: reset, busyPin: busy,
		err: fmt.Errorf("sx1280 is not initialized"),
		log: func(format string, v ...interface{}) {},
	}
	if opts.Logger != nil {
		r.log = func(format string, v ...interface{}) {
			opts.Logger("sx1280: "+format, v...)
		}
	}

	// Set SPI parameters.
	if err := dev.Speed(10 * 1000 * 1000); err != nil {
		return nil, fmt.Errorf("sx1280: cannot set speed, %v", err)
	}
	if err := dev.Configure(mlrs.SPIMode0, 8); err != nil {
		return nil, fmt.Errorf("sx1280: cannot set mode, %v", err)
	}

	cfg, found := Configs[opts.Config]
	if !found {
		return nil, fmt.Errorf("sx1280: unknown config %q", opts.Config)
	}
	r.config = &cfg

	r.Reset()

	// Detect the chip: a dead SPI link reads the firmware revision as 0 or 0xFFFF.
	if !r.IsOk() {
		return nil, errors.New("sx1280: cannot sync with chip, check wiring")
	}
	r.log("firmware rev %#x", r.GetFirmwareRev())

	r.SetStandby(STDBY_RC)
	time.Sleep(time.Millisecond)
	if opts.DCDC {
		r.cmd(CMD_SETREGULATORMODE, REGULATOR_DCDC)
	}

	// Write the fixed configuration.
	r.cmd(CMD_SETPACKETTYPE, PACKET_TYPE_LORA)
	r.cmd(CMD_SETBUFFERBASEADDRESS, 0, 0)
	r.cmd(CMD_SETAUTOFS, 1) // fall back to FS after TX/RX, saves the turnaround time
	// LNA to high sensitivity, costs ~0.6mA for ~3dB.
	v := r.readRegister(REG_RXGAIN, 1)
	r.writeRegister(REG_RXGAIN, v[0]|0xC0)
	r.setLoraConfig(&cfg)
	r.SetSyncWord(opts.Sync)
	r.SetRfPower(opts.Power)
	r.SetRfFrequency(opts.Freq)

	// DIO1 fires on the three causes the link engine cares about; everything else is
	// masked off.
	irqs := uint16(IRQ_TXDONE | IRQ_RXDONE | IRQ_RXTXTIMEOUT)
	r.cmd(CMD_SETDIOIRQPARAMS,
		byte(IRQ_ALL>>8), byte(IRQ_ALL&0xFF),
		byte(irqs>>8), byte(irqs),
		byte(IRQ_NONE>>8), byte(IRQ_NONE),
		byte(IRQ_NONE>>8), byte(IRQ_NONE))
	r.cmd(CMD_CLEARIRQSTATUS, byte(IRQ_ALL>>8), byte(IRQ_ALL&0xFF))

	r.cmd(CMD_SETFS)

	r.err = nil
	return r, nil
}

// Reset performs a full hardware reset and waits for the chip to come out of it.
func (r *Radio) Reset() {
	r.resetPin.Out(mlrs.GpioLow)
	time.Sleep(5 * time.Millisecond) // 10us seems sufficient, semtech driver uses 50ms
	r.resetPin.Out(mlrs.GpioHigh)
	time.Sleep(50 * time.Millisecond) // semtech driver says "typically 2ms observed"
	r.waitOnBusy()
}

// IsOk checks that the chip answers on the SPI bus: the firmware revision reads as 0
// when MISO is stuck low and 0xFFFF when it is stuck high.
func (r *Radio) IsOk() bool {
	rev := r.GetFirmwareRev()
	return rev != 0 && rev != 0xFFFF
}

// GetFirmwareRev returns the 16-bit firmware revision.
func (r *Radio) GetFirmwareRev() uint16 {
	v := r.readRegister(REG_FIRMWAREREV, 2)
	return uint16(v[0])<<8 | uint16(v[1])
}

// SetRfFrequency tunes the radio. The frequency is specified in Hz; steps are in units
// of 52Mhz/2^18 = 198.364Hz.
func (r *Radio) SetRfFrequency(freq uint32) {
	frf := uint32(uint64(freq) * 262144 / 52000000)
	r.cmd(CMD_SETRFFREQUENCY, byte(frf>>16), byte(frf>>8), byte(frf))
}

// SetRfPower configures the output power, 0..31 mapping to -18..+13 dBm.
func (r *Radio) SetRfPower(power byte) {
	if power > 31 {
		power = 31
	}
	r.cmd(CMD_SETTXPARAMS, power, RAMPTIME_04_US)
}

// SetSyncWord sets the 16-bit LoRa sync word. Both link ends must agree on it for
// frames to be received at all; it is the outermost level of link identification.
func (r *Radio) SetSyncWord(sync uint16) {
	r.writeRegister(REG_SYNCWORD, byte(sync>>8))
	r.writeRegister(REG_SYNCWORD+1, byte(sync))
}

// SetStandby puts the radio into standby, config selects the RC or XOSC clock.
func (r *Radio) SetStandby(config byte) {
	r.cmd(CMD_SETSTANDBY, config)
}

// SendFrame loads a frame into the radio's buffer and starts transmitting it. The
// timeout is specified in microseconds and surfaces as IRQ_RXTXTIMEOUT on DIO1; if a
// TX timeout occurs we have a serious problem.
func (r *Radio) SendFrame(data []byte, tmoUs uint16) {
	r.Lock()
	r.inTx = true
	r.Unlock()
	r.writeBuffer(0, data)
	r.cmd(CMD_CLEARIRQSTATUS, byte(IRQ_ALL>>8), byte(IRQ_ALL&0xFF))
	// Timeout counts in 62.5us base periods.
	tmo := uint16(tmoUs / 62)
	r.cmd(CMD_SETTX, PERIODBASE_62p5_US, byte(tmo>>8), byte(tmo))
	r.settleDelay()
}

// SetToRx arms the receiver. A timeout of 0 means receive continuously; otherwise the
// timeout is in microseconds and surfaces as IRQ_RXTXTIMEOUT on DIO1.
func (r *Radio) SetToRx(tmoUs uint16) {
	r.Lock()
	r.inTx = false
	r.Unlock()
	r.cmd(CMD_CLEARIRQSTATUS, byte(IRQ_ALL>>8), byte(IRQ_ALL&0xFF))
	tmo := uint16(tmoUs / 62)
	r.cmd(CMD_SETRX, PERIODBASE_62p5_US, byte(tmo>>8), byte(tmo))
	r.settleDelay()
}

// InTx reports whether the last radio operation was a transmit, which is how a
// IRQ_RXTXTIMEOUT cause is attributed to TX vs RX.
func (r *Radio) InTx() bool {
	r.Lock()
	defer r.Unlock()
	return r.inTx
}

// ReadFrame copies the last received frame out of the radio buffer. With implicit
// headers the chip reports the rx payload length as 0, so the caller passes the fixed
// frame length it configured.
func (r *Radio) ReadFrame(data []byte) {
	// rxStartBufferPointer is always 0 with SetBufferBaseAddress(0,0), but hey.
	st := r.cmdRead(CMD_GETRXBUFFERSTATUS, 2)
	r.ReadBuffer(st[1], data)
}

// ReadBuffer copies len(data) bytes out of the radio's data buffer starting at offset.
// This is also the interrupt path's peek at the frame sync word: reading the first two
// bytes costs a few microseconds and lets frames for other links be dropped before the
// main loop ever sees them.
func (r *Radio) ReadBuffer(offset byte, data []byte) {
	r.Lock()
	defer r.Unlock()
	r.waitOnBusy()
	wBuf := make([]byte, len(data)+3)
	rBuf := make([]byte, len(data)+3)
	wBuf[0] = CMD_READBUFFER
	wBuf[1] = offset
	r.spi.Tx(wBuf, rBuf)
	copy(data, rBuf[3:])
}

// GetAndClearIrqStatus returns the pending IRQ causes and clears them in the chip.
func (r *Radio) GetAndClearIrqStatus() uint16 {
	st := r.cmdRead(CMD_GETIRQSTATUS, 2)
	irq := uint16(st[0])<<8 | uint16(st[1])
	if irq != 0 {
		r.cmd(CMD_CLEARIRQSTATUS, byte(irq>>8), byte(irq))
	}
	return irq
}

// GetPacketStatus returns RSSI in dBm and SNR in dB for the last received packet.
func (r *Radio) GetPacketStatus() (rssi int8, snr int8) {
	st := r.cmdRead(CMD_GETPACKETSTATUS, 5)
	rssi = int8(-int16(st[0]) / 2)
	snr = int8(st[1]) / 4
	if snr < 0 {
		rssi += snr
	}
	return rssi, snr
}

// TimeOverAirUs returns the on-air time of one frame for the configuration in effect.
func (r *Radio) TimeOverAirUs() uint32 {
	return r.config.TimeOverAirUs
}

// SetLogger sets a logging function, nil may be used to disable logging, which is the
// default.
func (r *Radio) SetLogger(l LogPrintf) {
	if l != nil {
		r.log = func(format string, v ...interface{}) { l("sx1280: "+format, v...) }
	} else {
		r.log = func(format string, v ...interface{}) {}
	}
}

// Error returns any persistent error that may have been encountered.
func (r *Radio) Error() error { return r.err }

//

// setLoraConfig programs the modulation and packet parameters. Implicit header mode:
// the payload length is fixed at configure time and never travels on air.
func (r *Radio) setLoraConfig(cfg *LoraConfig) {
	r.cmd(CMD_SETMODULATIONPARAMS, cfg.SpreadingFactor, cfg.Bandwidth, cfg.CodingRate)
	r.cmd(CMD_SETPACKETPARAMS, cfg.PreambleLength, LORA_HEADER_IMPLICIT,
		cfg.PayloadLength, LORA_CRC_DISABLE, LORA_IQ_NORMAL, 0, 0)
}

// waitOnBusy blocks until the chip is ready for the next command. With a BUSY pin the
// line is polled; without one it waits out the settle window that SendFrame and
// SetToRx start (datasheet t1/t8/t9 plus command processing, rounded up generously).
// No settle window follows the other commands.
// Callers must hold the mutex or be on the init path.
func (r *Radio) waitOnBusy() {
	if r.busyPin != nil {
		for start := time.Now(); time.Since(start) < 10*time.Millisecond; {
			if r.busyPin.Read() == mlrs.GpioLow {
				return
			}
		}
		r.err = errors.New("sx1280: busy timeout")
		return
	}
	if d := time.Until(r.busyUntil); d > 0 {
		time.Sleep(d)
	}
}

// settleDelay starts the post-command settle window for boards without a BUSY pin.
func (r *Radio) settleDelay() {
	if r.busyPin == nil {
		r.Lock()
		r.busyUntil = time.Now().Add(125 * time.Microsecond)
		r.Unlock()
	}
}

// cmd issues a set-style command with parameters.
func (r *Radio) cmd(opcode byte, params ...byte) {
	r.Lock()
	defer r.Unlock()
	r.waitOnBusy()
	wBuf := make([]byte, len(params)+1)
	rBuf := make([]byte, len(params)+1)
	wBuf[0] = opcode
	copy(wBuf[1:], params)
	r.spi.Tx(wBuf, rBuf)
}

// cmdRead issues a get-style command and returns n result bytes. The first byte
// clocked out after the opcode is the chip status and is skipped.
func (r *Radio) cmdRead(opcode byte, n int) []byte {
	r.Lock()
	defer r.Unlock()
	r.waitOnBusy()
	wBuf := make([]byte, n+2)
	rBuf := make([]byte, n+2)
	wBuf[0] = opcode
	r.spi.Tx(wBuf, rBuf)
	return rBuf[2:]
}

// writeBuffer loads the radio's data buffer starting at offset.
func (r *Radio) writeBuffer(offset byte, data []byte) {
	r.Lock()
	defer r.Unlock()
	r.waitOnBusy()
	wBuf := make([]byte, len(data)+2)
	rBuf := make([]byte, len(data)+2)
	wBuf[0] = CMD_WRITEBUFFER
	wBuf[1] = offset
	copy(wBuf[2:], data)
	r.spi.Tx(wBuf, rBuf)
}

// writeRegister writes one register via the register access command.
func (r *Radio) writeRegister(addr uint16, data ...byte) {
	r.Lock()
	defer r.Unlock()
	r.waitOnBusy()
	wBuf := make([]byte, len(data)+3)
	rBuf := make([]byte, len(data)+3)
	wBuf[0] = CMD_WRITEREGISTER
	wBuf[1] = byte(addr >> 8)
	wBuf[2] = byte(addr)
	copy(wBuf[3:], data)
	r.spi.Tx(wBuf, rBuf)
}

// readRegister reads n bytes starting at addr.
func (r *Radio) readRegister(addr uint16, n int) []byte {
	r.Lock()
	defer r.Unlock()
	r.waitOnBusy()
	wBuf := make([]byte, n+4)
	rBuf := make([]byte, n+4)
	wBuf[0] = CMD_READREGISTER
	wBuf[1] = byte(addr >> 8)
	wBuf[2] = byte(addr)
	r.spi.Tx(wBuf, rBuf)
	return rBuf[4:]
}
