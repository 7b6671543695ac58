// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package link

// ConnectState classifies the link from the transmitter's point of view.
type ConnectState int

const (
	Listen ConnectState = iota
	Syncing
	Connected
)

func (s ConnectState) String() string {
	switch s {
	case Listen:
		return "listen"
	case Syncing:
		return "syncing"
	case Connected:
		return "connected"
	}
	return "?"
}

// connectFSM tracks the connection state from valid-frame arrivals and the millisecond
// tick. syncCnt counts valid receptions beyond the first; a loss during acquisition
// does not reset it, so a link that delivers every other frame still connects,
// just more slowly.
type connectFSM struct {
	state     ConnectState
	syncCnt   uint8
	tmoCnt    uint16 // milliseconds until the connection is declared lost
	syncCount uint8  // valid receptions needed to connect
	tmoMs     uint16 // timeout reload on every valid frame
}

func (c *connectFSM) init(syncCount uint8, tmoMs uint16) {
	c.state = Listen
	c.syncCnt = 0
	c.tmoCnt = 0
	c.syncCount = syncCount
	c.tmoMs = tmoMs
}

// tickMs decrements the connection timeout; called once per millisecond.
func (c *connectFSM) tickMs() {
	if c.tmoCnt > 0 {
		c.tmoCnt--
	}
}

// frame advances the FSM at the end of each cycle and reports whether the state
// changed. valid is whether this cycle delivered a valid frame on either antenna.
func (c *connectFSM) frame(valid bool) (changed bool) {
	prev := c.state

	if valid {
		switch c.state {
		case Listen:
			if c.syncCount <= 1 {
				c.state = Connected
			} else {
				c.state = Syncing
			}
			c.syncCnt = 0
		case Syncing:
			c.syncCnt++
			if c.syncCnt+1 >= c.syncCount {
				c.state = Connected
			}
		default:
			c.state = Connected
		}
		c.tmoCnt = c.tmoMs
	}

	if c.state == Connected && c.tmoCnt == 0 {
		c.state = Listen
	}

	if c.state == Connected && !valid {
		c.syncCnt = 0
	}

	return c.state != prev
}

func (c *connectFSM) connected() bool {
	return c.state == Connected
}
