// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package rc

import "testing"

func Test_ChannelOrderIdentity(t *testing.T) {
	o := NewChannelOrder()
	d := &Data{Ch: [NumChannels]uint16{10, 20, 30, 40, 50}}
	o.Set(OrderAETR)
	o.Apply(d)
	if d.Ch != [NumChannels]uint16{10, 20, 30, 40, 50} {
		t.Fatalf("AETR is not identity: %v", d.Ch[:5])
	}
}

func Test_ChannelOrderETAR(t *testing.T) {
	// input arrives as elevator, throttle, aileron, rudder
	o := NewChannelOrder()
	o.Set(OrderETAR)
	d := &Data{Ch: [NumChannels]uint16{2000, 3000, 1000, 4000}}
	o.Apply(d)
	want := [4]uint16{1000, 2000, 3000, 4000} // aileron, elevator, throttle, rudder
	if [4]uint16{d.Ch[0], d.Ch[1], d.Ch[2], d.Ch[3]} != want {
		t.Fatalf("ETAR mapped to %v, expected %v", d.Ch[:4], want)
	}
}

func Test_ChannelOrderTAER(t *testing.T) {
	// input arrives as throttle, aileron, elevator, rudder
	o := NewChannelOrder()
	o.Set(OrderTAER)
	d := &Data{Ch: [NumChannels]uint16{3000, 1000, 2000, 4000}}
	o.Apply(d)
	want := [4]uint16{1000, 2000, 3000, 4000}
	if [4]uint16{d.Ch[0], d.Ch[1], d.Ch[2], d.Ch[3]} != want {
		t.Fatalf("TAER mapped to %v, expected %v", d.Ch[:4], want)
	}
}

func Test_ChannelOrderRoundTrip(t *testing.T) {
	// applying a convention and then its inverse permutation returns the original
	orig := [4]uint16{1000, 2000, 3000, 4000}
	o := NewChannelOrder()
	o.Set(OrderETAR)

	d := &Data{Ch: [NumChannels]uint16{orig[0], orig[1], orig[2], orig[3]}}
	o.Apply(d)

	// invert: chMap says where internal channel n came from, so scatter back
	var back [4]uint16
	for n := 0; n < 4; n++ {
		back[o.chMap[n]] = d.Ch[n]
	}
	if back != orig {
		t.Fatalf("round trip gave %v, expected %v", back, orig)
	}
}

func Test_Unpack11LE(t *testing.T) {
	// all channels at a marker value: 0x5A5 = 0b101_1010_0101
	var buf [22]byte
	var acc uint32
	bits := 0
	bi := 0
	for n := 0; n < NumChannels; n++ {
		acc |= uint32(0x5A5) << bits
		bits += 11
		for bits >= 8 {
			buf[bi] = byte(acc)
			acc >>= 8
			bits -= 8
			bi++
		}
	}
	var ch [NumChannels]uint16
	unpack11LE(buf[:], &ch)
	for i, v := range ch {
		if v != 0x5A5 {
			t.Fatalf("channel %d = %#x, expected 0x5a5", i, v)
		}
	}
}

func Test_NewDataDefaults(t *testing.T) {
	d := NewData()
	if d.Ch[0] != ChCenter || d.Ch[1] != ChCenter || d.Ch[3] != ChCenter {
		t.Fatal("sticks not centered")
	}
	if d.Ch[2] != ChMin {
		t.Fatal("throttle not low")
	}
}
