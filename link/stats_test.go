// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package link

import "testing"

func Test_LQRange(t *testing.T) {
	var s Stats
	s.init(10)
	if lq := s.LQ(); lq != 0 {
		t.Fatalf("initial LQ %d, expected 0", lq)
	}
	for i := 0; i < 20; i++ {
		s.doValidFrameReceived()
		s.next()
	}
	if lq := s.LQ(); lq != 100 {
		t.Fatalf("LQ %d after all-valid window, expected 100", lq)
	}
}

func Test_LQWindowSlides(t *testing.T) {
	var s Stats
	s.init(10)
	// fill the window, then one bad cycle: LQ drops by exactly one window share
	for i := 0; i < 10; i++ {
		s.doValidFrameReceived()
		s.next()
	}
	s.next() // a cycle with no valid frame
	if lq := s.LQ(); lq != 90 {
		t.Fatalf("LQ %d after one miss in 10, expected 90", lq)
	}
	// the miss ages out again
	for i := 0; i < 10; i++ {
		s.doValidFrameReceived()
		s.next()
	}
	if lq := s.LQ(); lq != 100 {
		t.Fatalf("LQ %d after recovery, expected 100", lq)
	}
}

func Test_LQSerialNeverExceedsLQ(t *testing.T) {
	var s Stats
	s.init(8)
	for i := 0; i < 16; i++ {
		s.doFrameReceived()
		if i%2 == 0 {
			s.doValidFrameReceived()
		}
		if i%4 == 0 {
			s.doSerialDataReceived()
		}
		s.next()
		if s.LQSerial() > s.LQ() {
			t.Fatalf("LQ_serial %d > LQ %d", s.LQSerial(), s.LQ())
		}
	}
}

func Test_ByteRateTumblingWindow(t *testing.T) {
	var b byteRate
	b.add(100)
	b.add(50)
	if b.bytesPerSec() != 0 {
		t.Fatal("rate visible before the window rolled")
	}
	b.update1Hz()
	if b.bytesPerSec() != 150 {
		t.Fatalf("rate %d, expected 150", b.bytesPerSec())
	}
	b.update1Hz()
	if b.bytesPerSec() != 0 {
		t.Fatalf("rate %d after empty second, expected 0", b.bytesPerSec())
	}
}

func Test_StatsClear(t *testing.T) {
	var s Stats
	s.init(4)
	s.ReceivedLQ = 88
	s.ReceivedRssi = -42
	s.ReceivedSeqNoLast = 3
	s.clear()
	if s.ReceivedLQ != 0 || s.ReceivedRssi != -128 || s.ReceivedSeqNoLast != 0xFF {
		t.Fatalf("clear left stale values: %+v", s)
	}
}
