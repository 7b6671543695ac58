// Copyright 2017 by Thorsten von Eicken, see LICENSE file

package spimux

import (
	"sync"

	"periph.io/x/periph/conn/gpio"

	mlrs "github.com/Prashant0119/mLRS"
)

// Conn represents a connection to a device on an SPI bus with a multiplexed chip
// select.
//
// The purpose of spimux.Conn is to allow the two transceivers of a diversity
// transmitter to share an SPI bus that only has a single chip select line. This is
// accomplished by placing a demux on the CS line such that an extra gpio pin
// directs the chip select to either of the two radios. The Tx function sets the
// demux select for the appropriate radio and then performs a std transaction.
//
// A sample circuit is to use an 74LVC1G19 demux with the SPI CS connected to E, the
// gpio select pin connected to A, and the CS inputs of the two radios attached to
// Y0 and Y1 respectively. A pull-down resistor on the A input of the demux is
// recommended to ensure both CS remain inactive when the SPI CS is not driven.
//
// A limitation of the current implementation is that the speed setting and the
// configuration (SPI mode and number of bits) is shared between the two radios,
// which is no real limitation here: both ends of the demux carry the same chip.
type Conn struct {
	mu     *sync.Mutex // prevent concurrent access to shared SPI bus
	spi    mlrs.SPI    // the underlying SPI bus with shared chip select
	selPin gpio.PinIO  // pin to select between two devices
	sel    gpio.Level  // select value for this device
}

// New returns two connections for the provided SPI bus, the first one using Low for
// the select pin, and the second using High.
func New(spi mlrs.SPI, selPin gpio.PinIO) (*Conn, *Conn) {
	mu := &sync.Mutex{}
	return &Conn{mu, spi, selPin, gpio.Low}, &Conn{mu, spi, selPin, gpio.High}
}

// Tx sets the select pin to the correct value and calls the underlying Tx.
func (c *Conn) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selPin.Out(c.sel)
	return c.spi.Tx(w, r)
}

// Speed passes through to the underlying bus.
func (c *Conn) Speed(hz int64) error { return c.spi.Speed(hz) }

// Configure passes through to the underlying bus.
func (c *Conn) Configure(mode, bits int) error { return c.spi.Configure(mode, bits) }

// Close is a no-op. TODO: close once both spimux are closed.
func (c *Conn) Close() error { return nil }
