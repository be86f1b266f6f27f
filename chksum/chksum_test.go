package chksum

import (
	"encoding/binary"
	"math/rand"
	"testing"
)

func TestSumRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xff},
		{0x45, 0x00, 0x00, 0x3c, 0x1c, 0x46, 0x40, 0x00, 0x40, 0x06},
	}

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		buf := make([]byte, r.Intn(37))
		r.Read(buf)
		cases = append(cases, buf)
	}

	for _, b := range cases {
		field := ^Sum(b)

		// the field goes at an even offset, as in every real header; an odd b
		// gets one zero pad byte, which does not change the sum.
		off := len(b) + len(b)%2
		full := make([]byte, off+2)
		copy(full, b)
		binary.BigEndian.PutUint16(full[off:], field)

		if got := Sum(full); got != 0xFFFF {
			t.Fatalf("Sum(b || complement) = 0x%04x, want 0xFFFF (b=%v)", got, b)
		}
	}
}

func TestContinueMatchesSum(t *testing.T) {
	a := []byte{0x01, 0x02, 0x03, 0x04}
	b := []byte{0x05, 0x06, 0x07, 0x08}

	whole := append(append([]byte{}, a...), b...)

	got := Continue(uint32(Continue(0, a)), b)
	want := Sum(whole)

	if got != want {
		t.Fatalf("split sum = 0x%04x, want 0x%04x", got, want)
	}
}

func TestUpdateUint16MatchesRecompute(t *testing.T) {
	hdr := []byte{0x08, 0x00, 0x00, 0x00, 0x12, 0x34, 0x00, 0x01}
	orig := Sum(hdr)
	origField := ^orig

	// flip ICMP type from echo-request(8) to echo-reply(0), like §4.2.
	newHdr := append([]byte{}, hdr...)
	newHdr[0] = 0x00

	updated := UpdateUint16(origField, uint16(hdr[0])<<8|uint16(hdr[1]), uint16(newHdr[0])<<8|uint16(newHdr[1]))
	recomputed := ^Sum(newHdr)

	if updated != recomputed {
		t.Fatalf("incremental update = 0x%04x, recompute = 0x%04x", updated, recomputed)
	}
}

func TestByteOrderRoundTrip(t *testing.T) {
	if Ntohs(Htons(0x1234)) != 0x1234 {
		t.Fatal("htons/ntohs round trip failed")
	}
	if Ntohl(Htonl(0x01020304)) != 0x01020304 {
		t.Fatal("htonl/ntohl round trip failed")
	}
	// b is how Htons(0x0102) lies in memory on a little-endian host.
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], Htons(0x0102))
	if b[0] != 0x01 || b[1] != 0x02 {
		t.Fatalf("htons did not produce network byte order: %v", b)
	}
}
