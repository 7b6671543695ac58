// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package link

import "github.com/Prashant0119/mLRS/frame"

// Transmit frame types: while the slot is anything but normal, every outgoing frame
// is the corresponding command frame instead of carrying serial payload. The slot is
// cleared back to normal only when the receiver's matching ack or data frame arrives,
// so a lost command frame is simply retried next cycle.
const (
	transmitFrameNormal = iota
	transmitFrameGetRxSetupData
	transmitFrameSetRxParams
	transmitFrameStoreRxParams
)

// RxParams is the transmitter-side copy of the receiver's settings, exchanged over
// command frames and pushed whenever the operator changes one.
type RxParams struct {
	Power        byte `json:"power"`
	Diversity    byte `json:"diversity"`
	ChannelOrder byte `json:"channel_order"`
	FailsafeMode byte `json:"failsafe_mode"`
}

// pack serializes the parameter block for a SET_RX_PARAMS command frame.
func (p *RxParams) pack() []byte {
	return []byte{p.Power, p.Diversity, p.ChannelOrder, p.FailsafeMode}
}

// unpack deserializes a RX_SETUPDATA value.
func (p *RxParams) unpack(b []byte) {
	if len(b) < 4 {
		return
	}
	p.Power = b[0]
	p.Diversity = b[1]
	p.ChannelOrder = b[2]
	p.FailsafeMode = b[3]
}

// paramSync holds the command frame latch and the receiver parameter copies.
type paramSync struct {
	transmitFrameType int
	rxParams          RxParams // what we want the receiver to use
	rxSetupData       RxParams // what the receiver reported
	setupDataValid    bool
	paramChanged      bool // set by the operator surface, latched at frame build time
}

// init arms the boot-time setup data request: the first frames out ask the receiver
// for its settings.
func (p *paramSync) init() {
	p.transmitFrameType = transmitFrameGetRxSetupData
	p.setupDataValid = false
	p.paramChanged = false
}

// latch promotes a pending operator change into the command slot; only from the
// normal state so an in-flight request is never clobbered.
func (p *paramSync) latch() {
	if p.paramChanged && p.transmitFrameType == transmitFrameNormal {
		p.paramChanged = false
		p.transmitFrameType = transmitFrameSetRxParams
	}
}

// processReceivedCmd handles a command frame from the receiver and clears the
// transmit slot when the response matches what is in flight.
func (p *paramSync) processReceivedCmd(payload []byte) {
	if len(payload) < 2 {
		return
	}
	cmd, vlen := payload[0], int(payload[1])
	if len(payload) < 2+vlen {
		return
	}
	switch cmd {
	case frame.CmdRxSetupData:
		p.rxSetupData.unpack(payload[2 : 2+vlen])
		p.setupDataValid = true
		p.transmitFrameType = transmitFrameNormal // we got it, back to normal
	case frame.CmdRxAck:
		p.transmitFrameType = transmitFrameNormal
	}
}

// cmdFrameArgs returns the command TLV to send for the current slot.
func (p *paramSync) cmdFrameArgs() (cmd byte, value []byte) {
	switch p.transmitFrameType {
	case transmitFrameGetRxSetupData:
		return frame.CmdGetRxSetupData, nil
	case transmitFrameSetRxParams:
		return frame.CmdSetRxParams, p.rxParams.pack()
	case transmitFrameStoreRxParams:
		return frame.CmdStoreRxParams, nil
	}
	return 0, nil
}
