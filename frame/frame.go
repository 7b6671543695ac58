// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package frame packs and unpacks the fixed-size over-the-air frame of the link.
// The radio runs with implicit LoRa headers and its own CRC disabled, so every byte
// of the frame is under this package's control and both link ends must produce
// byte-identical frames for equal inputs.
//
// Frame layout, 91 bytes both directions:
//
//	[0..2)   sync word, little-endian, the per-link identifier
//	[2]      status byte: seq_no(3) ack(1) frame_type(1) antenna(1) transmit_antenna(1)
//	[3..7)   status extension: rssi_u7, LQ, LQ_serial, payload_len
//	[7..29)  TX only: 16 channels x 11 bits, big-endian bit-packed
//	[..89)   payload window, zero padded (60 bytes on TX, 82 on RX)
//	[89..91) CRC-16 CCITT over [0..89), little-endian
package frame

import (
	"errors"
	"fmt"

	"github.com/Prashant0119/mLRS/rc"
)

const (
	FrameLen = 91

	statusOff   = 2
	rssiOff     = 3
	lqOff       = 4
	lqSerialOff = 5
	lenOff      = 6

	channelsOff = 7
	channelsLen = 22 // 16 channels x 11 bits
	ChannelBits = 11

	TxPayloadOff = channelsOff + channelsLen
	TxPayloadLen = FrameLen - 2 - TxPayloadOff // 60
	RxPayloadOff = channelsOff
	RxPayloadLen = FrameLen - 2 - RxPayloadOff // 82

	crcOff = FrameLen - 2
)

// Frame types in the status byte.
const (
	TypeNormal = 0
	TypeCmd    = 1
)

// Command codes carried in the payload window of cmd frames, as a cmd/len/value TLV.
const (
	CmdGetRxSetupData = 0x01
	CmdRxSetupData    = 0x02
	CmdSetRxParams    = 0x03
	CmdStoreRxParams  = 0x04
	CmdRxAck          = 0x05
)

// Validation errors for received frames.
var (
	ErrSyncWord = errors.New("frame: sync word mismatch")
	ErrCrc      = errors.New("frame: bad crc")
)

// Stats is the per-frame status exchanged in both directions: where the frame sits in
// the sequence, what the sender saw from us last, and its link quality numbers.
type Stats struct {
	SeqNo           uint8 // mod 8
	Ack             bool
	FrameType       uint8
	Antenna         uint8 // antenna the sender last received on
	TransmitAntenna uint8 // antenna the sender transmits this frame on
	Rssi            int8
	LQ              uint8
	LQSerial        uint8
	PayloadLen      uint8
}

// RxFrame is a validated received frame.
type RxFrame struct {
	Stats   Stats
	Payload []byte
}

// PackTxFrame builds a normal downstream frame carrying the control channels and up
// to TxPayloadLen serial payload bytes.
func PackTxFrame(syncWord uint16, stats *Stats, rcData *rc.Data, payload []byte) ([]byte, error) {
	if len(payload) > TxPayloadLen {
		return nil, fmt.Errorf("frame: payload too long: %d > %d", len(payload), TxPayloadLen)
	}
	buf := make([]byte, FrameLen)
	packHeader(buf, syncWord, stats, TypeNormal, uint8(len(payload)))
	packChannels(buf[channelsOff:channelsOff+channelsLen], rcData)
	copy(buf[TxPayloadOff:], payload)
	packCrc(buf)
	return buf, nil
}

// PackTxCmdFrame builds a downstream command frame. The channels still travel; the
// payload window carries the command TLV instead of serial bytes.
func PackTxCmdFrame(syncWord uint16, stats *Stats, rcData *rc.Data, cmd byte, value []byte) ([]byte, error) {
	if len(value) > TxPayloadLen-2 {
		return nil, fmt.Errorf("frame: cmd value too long: %d > %d", len(value), TxPayloadLen-2)
	}
	buf := make([]byte, FrameLen)
	packHeader(buf, syncWord, stats, TypeCmd, uint8(2+len(value)))
	packChannels(buf[channelsOff:channelsOff+channelsLen], rcData)
	buf[TxPayloadOff] = cmd
	buf[TxPayloadOff+1] = uint8(len(value))
	copy(buf[TxPayloadOff+2:], value)
	packCrc(buf)
	return buf, nil
}

// PackRxFrame builds an upstream frame the way the receiver does: no channel region,
// the whole window available for payload (serial bytes, or a command TLV when
// stats.FrameType is TypeCmd). It exists here so both frame directions have a single
// home and a loopback test can exercise the full codec.
func PackRxFrame(syncWord uint16, stats *Stats, payload []byte) ([]byte, error) {
	if len(payload) > RxPayloadLen {
		return nil, fmt.Errorf("frame: payload too long: %d > %d", len(payload), RxPayloadLen)
	}
	buf := make([]byte, FrameLen)
	packHeader(buf, syncWord, stats, stats.FrameType, uint8(len(payload)))
	copy(buf[RxPayloadOff:], payload)
	packCrc(buf)
	return buf, nil
}

// UnpackRxFrame validates an upstream frame and extracts status and payload. The
// returned error distinguishes a frame that is not for us (ErrSyncWord) from one that
// is for us but corrupt (ErrCrc); in the latter case the caller still counts the
// reception.
func UnpackRxFrame(buf []byte, syncWord uint16) (*RxFrame, error) {
	if len(buf) != FrameLen {
		return nil, fmt.Errorf("frame: bad length %d", len(buf))
	}
	if uint16(buf[0])|uint16(buf[1])<<8 != syncWord {
		return nil, ErrSyncWord
	}
	if Crc16(buf[:crcOff]) != uint16(buf[crcOff])|uint16(buf[crcOff+1])<<8 {
		return nil, ErrCrc
	}

	f := &RxFrame{Stats: unpackStatus(buf)}
	if f.Stats.PayloadLen > RxPayloadLen {
		return nil, ErrCrc // can't happen with a conforming sender, treat as corrupt
	}
	f.Payload = make([]byte, f.Stats.PayloadLen)
	copy(f.Payload, buf[RxPayloadOff:RxPayloadOff+int(f.Stats.PayloadLen)])
	return f, nil
}

// UnpackChannels extracts the control channels from a TX frame; it is what the
// receiving end runs and exists here so the bit layout has a single home.
func UnpackChannels(buf []byte, rcData *rc.Data) {
	bitOff := 0
	src := buf[channelsOff : channelsOff+channelsLen]
	for i := 0; i < rc.NumChannels; i++ {
		var v uint16
		for b := 0; b < ChannelBits; b++ {
			byteI := bitOff >> 3
			bitI := uint(7 - bitOff&7)
			v <<= 1
			v |= uint16(src[byteI]>>bitI) & 1
			bitOff++
		}
		rcData.Ch[i] = v
	}
}

//

func packHeader(buf []byte, syncWord uint16, stats *Stats, frameType, payloadLen uint8) {
	buf[0] = byte(syncWord)
	buf[1] = byte(syncWord >> 8)
	status := stats.SeqNo & 0x07
	if stats.Ack {
		status |= 1 << 3
	}
	status |= (frameType & 1) << 4
	status |= (stats.Antenna & 1) << 5
	status |= (stats.TransmitAntenna & 1) << 6
	buf[statusOff] = status
	buf[rssiOff] = rssiU7FromI8(stats.Rssi)
	buf[lqOff] = stats.LQ
	buf[lqSerialOff] = stats.LQSerial
	buf[lenOff] = payloadLen
}

func unpackStatus(buf []byte) Stats {
	status := buf[statusOff]
	return Stats{
		SeqNo:           status & 0x07,
		Ack:             status&(1<<3) != 0,
		FrameType:       (status >> 4) & 1,
		Antenna:         (status >> 5) & 1,
		TransmitAntenna: (status >> 6) & 1,
		Rssi:            RssiI8FromU7(buf[rssiOff]),
		LQ:              buf[lqOff],
		LQSerial:        buf[lqSerialOff],
		PayloadLen:      buf[lenOff],
	}
}

// packChannels bit-packs the channels big-endian, 11 bits each.
func packChannels(dst []byte, rcData *rc.Data) {
	bitOff := 0
	for i := 0; i < rc.NumChannels; i++ {
		v := rcData.Ch[i] & 0x7FF
		for b := ChannelBits - 1; b >= 0; b-- {
			byteI := bitOff >> 3
			bitI := uint(7 - bitOff&7)
			dst[byteI] |= byte(v>>uint(b)&1) << bitI
			bitOff++
		}
	}
}

func packCrc(buf []byte) {
	crc := Crc16(buf[:crcOff])
	buf[crcOff] = byte(crc)
	buf[crcOff+1] = byte(crc >> 8)
}

// rssiU7FromI8 stores an RSSI of -dBm in 7 bits: 0 means 0dBm or better, 127 means
// -127dBm or worse.
func rssiU7FromI8(rssi int8) byte {
	if rssi >= 0 {
		return 0
	}
	v := -int16(rssi)
	if v > 127 {
		v = 127
	}
	return byte(v)
}

// RssiI8FromU7 is the inverse of the 7-bit RSSI packing.
func RssiI8FromU7(u7 byte) int8 {
	return int8(-int16(u7 & 0x7F))
}

// Crc16 computes the CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF, MSB first) that
// protects the frame. Polynomial, init, and byte order must match the receiver
// bit-for-bit.
func Crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
