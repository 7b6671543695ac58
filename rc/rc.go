// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package rc holds the control channel data flowing from the handset to the radio link
// and the decoders for the supported handset protocols: SBUS and CRSF on a plain UART,
// and the mBridge half-duplex bridge. All decoders deliver channels into the same
// normalized representation and implement the same Source contract so the transmitter
// core doesn't care where its sticks come from.
package rc

// Channel values are 11-bit, 0..2047 with 1024 at center, the native resolution of the
// over-the-air frame.
const (
	NumChannels = 16
	ChMin       = 0
	ChCenter    = 1024
	ChMax       = 2047
)

// Data is the current state of all control channels.
type Data struct {
	Ch [NumChannels]uint16
}

// NewData returns channel data with everything centered and the throttle low, which is
// what the receiver should output before the first handset frame arrives.
func NewData() *Data {
	d := &Data{}
	for i := range d.Ch {
		d.Ch[i] = ChCenter
	}
	d.Ch[2] = ChMin // throttle (internal order is AETR)
	return d
}

// Source is a producer of channel data. Update refreshes rc from the most recent
// handset frame and reports whether fresh data arrived since the last call. Update
// never blocks; it is polled from the transmitter's main loop.
type Source interface {
	Update(rc *Data) bool
}

// Channel order conventions for the first four channels. Internally everything is
// AETR: aileron, elevator, throttle, rudder.
const (
	OrderAETR = iota
	OrderTAER
	OrderETAR
)

// ChannelOrder permutes the first four channels from the configured handset
// convention into the internal AETR order.
type ChannelOrder struct {
	order int
	chMap [4]int
}

// NewChannelOrder returns an identity mapping (AETR input).
func NewChannelOrder() *ChannelOrder {
	o := &ChannelOrder{order: -1}
	for n := 0; n < 4; n++ {
		o.chMap[n] = n
	}
	return o
}

// Set selects the input convention. chMap[n] is the position of internal channel n
// within the input ordering.
func (o *ChannelOrder) Set(order int) {
	if order == o.order {
		return
	}
	o.order = order

	switch order {
	case OrderAETR:
		o.chMap = [4]int{0, 1, 2, 3}
	case OrderTAER:
		o.chMap = [4]int{1, 2, 0, 3}
	case OrderETAR:
		o.chMap = [4]int{2, 0, 1, 3}
	}
}

// Apply rewrites rc's first four channels into internal order.
func (o *ChannelOrder) Apply(rc *Data) {
	ch := [4]uint16{rc.Ch[0], rc.Ch[1], rc.Ch[2], rc.Ch[3]}
	for n := 0; n < 4; n++ {
		rc.Ch[n] = ch[o.chMap[n]]
	}
}

// unpack11LE extracts 16 channels of 11 bits each, LSB-first, from a 22-byte buffer.
// This is the packing SBUS and CRSF share.
func unpack11LE(buf []byte, ch *[NumChannels]uint16) {
	var acc uint32
	bits := 0
	n := 0
	for _, b := range buf {
		acc |= uint32(b) << bits
		bits += 8
		for bits >= 11 && n < NumChannels {
			ch[n] = uint16(acc & 0x7FF)
			acc >>= 11
			bits -= 11
			n++
		}
	}
}

// LogPrintf is a function used by the decoders to print logging info.
type LogPrintf func(format string, v ...interface{})
