// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package fhss produces the frequency hopping sequence for the 2.4GHz link. Both ends
// of the link derive the identical hop table from a shared (seed, num) pair and then
// step through it in lockstep, one hop per frame period.
package fhss

import "fmt"

// The legal channel set: 1MHz spaced carriers with a few channels of guard band at
// either edge of the 2.4GHz ISM band.
const (
	BaseFreqHz      = 2400000000
	ChannelSpacing  = 1000000
	FirstChannel    = 6
	LastChannel     = 85
	NumLegalChannels = LastChannel - FirstChannel + 1
)

// MaxChannels bounds the hop table size; the table is statically sized so the hot path
// never allocates.
const MaxChannels = NumLegalChannels

// Sequencer holds the hop table and current position.
type Sequencer struct {
	seed  uint32
	num   uint16
	table [MaxChannels]uint32 // frequencies in Hz, first num entries valid
	currI uint16
}

// Init builds the hop table for the given channel count and seed. Tables built with
// identical (num, seed) are identical, which is what keeps the two link ends on the
// same carrier. The table is a prefix of a seeded permutation of the legal channel
// set, so no frequency repeats within one revolution.
func (s *Sequencer) Init(num uint16, seed uint32) error {
	if num < 1 || num > MaxChannels {
		return fmt.Errorf("fhss: channel count %d out of range 1..%d", num, MaxChannels)
	}
	s.seed = seed
	s.num = num
	s.currI = 0

	var chans [NumLegalChannels]uint8
	for i := range chans {
		chans[i] = uint8(FirstChannel + i)
	}
	// Fisher-Yates driven by the seeded generator.
	prng := newPrng(seed)
	for i := len(chans) - 1; i > 0; i-- {
		j := prng.next() % uint32(i+1)
		chans[i], chans[j] = chans[j], chans[i]
	}
	for i := uint16(0); i < num; i++ {
		s.table[i] = BaseFreqHz + uint32(chans[i])*ChannelSpacing
	}
	return nil
}

// StartTx positions the sequencer at the beginning of the TX phase. The transmitter
// calls this once at boot; the receiver derives its position during sync.
func (s *Sequencer) StartTx() {
	s.currI = 0
}

// HopToNext advances to the next channel. The transmitter hops before the transmission
// that will use the new channel; the receiver mirrors the advance with the same
// formula so both meet on the same carrier.
func (s *Sequencer) HopToNext() {
	s.currI = (s.currI + 1) % s.num
}

// CurrFreq returns the frequency to tune for the current hop.
func (s *Sequencer) CurrFreq() uint32 {
	return s.table[s.currI]
}

// CurrI returns the current index into the hop table.
func (s *Sequencer) CurrI() uint16 {
	return s.currI
}

// Num returns the hop table length.
func (s *Sequencer) Num() uint16 {
	return s.num
}

// prng is a small xorshift32 generator. It only has to be fast, deterministic, and
// identical across implementations; it has no cryptographic duties.
type prng struct {
	state uint32
}

func newPrng(seed uint32) *prng {
	if seed == 0 {
		seed = 0xDEADBEEF // xorshift must not start at 0
	}
	return &prng{state: seed}
}

func (p *prng) next() uint32 {
	x := p.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	p.state = x
	return x
}
