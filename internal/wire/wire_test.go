package wire

import (
	"bytes"
	"testing"
)

func TestArmorDearmorRoundTrip(t *testing.T) {
	payload := []byte("a data message payload, arbitrary bytes \x00\x01\x02")
	armored := Armor(payload)
	got, err := Dearmor(armored)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %x, want %x", got, payload)
	}
}

func TestDearmorRejectsUnframed(t *testing.T) {
	if _, err := Dearmor("not an otr message"); err == nil {
		t.Fatal("expected an error for a non-armored string")
	}
}

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.Byte(0x03).Short(4).Int(0xdeadbeef).Data([]byte("hello")).MPI([]byte{0, 0, 1, 2})

	r := NewReader(w.Bytes())
	b, err := r.Byte()
	if err != nil || b != 0x03 {
		t.Fatalf("Byte: got %v, %v", b, err)
	}
	s, err := r.Short()
	if err != nil || s != 4 {
		t.Fatalf("Short: got %v, %v", s, err)
	}
	i, err := r.Int()
	if err != nil || i != 0xdeadbeef {
		t.Fatalf("Int: got %v, %v", i, err)
	}
	data, err := r.Data()
	if err != nil || string(data) != "hello" {
		t.Fatalf("Data: got %q, %v", data, err)
	}
	mpi, err := r.MPI()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(mpi, []byte{1, 2}) {
		t.Fatalf("MPI should strip leading zeros: got %x", mpi)
	}
}

func TestShortReadReported(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02})
	if _, err := r.Int(); err != ErrShortRead {
		t.Fatalf("expected ErrShortRead, got %v", err)
	}
}

func TestSplitAndReassemble(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 500) // 8000 bytes
	parts, err := Split(payload, 300, 0xcafef00d, 256, 257)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(parts))
	}

	re := NewReassembler()
	var out []byte
	var complete bool
	for i, p := range parts {
		f, err := ParseFragment(p)
		if err != nil {
			t.Fatalf("fragment #%d: %v", i, err)
		}
		out, complete, err = re.Add(f, int64(i))
		if err != nil {
			t.Fatalf("fragment #%d: %v", i, err)
		}
		if i < len(parts)-1 && complete {
			t.Fatalf("fragment #%d: reassembly completed early", i)
		}
	}
	if !complete {
		t.Fatal("reassembly never completed")
	}
	if !bytes.Equal(out, payload) {
		t.Fatal("reassembled payload does not match original")
	}
}

func TestReassembleOutOfOrder(t *testing.T) {
	payload := []byte("a payload spanning a few fragments of content")
	parts, err := Split(payload, 10, 1, 256, 257)
	if err != nil {
		t.Fatal(err)
	}

	re := NewReassembler()
	// Feed fragments in reverse order.
	var out []byte
	var complete bool
	for i := len(parts) - 1; i >= 0; i-- {
		f, err := ParseFragment(parts[i])
		if err != nil {
			t.Fatal(err)
		}
		out, complete, err = re.Add(f, 0)
		if err != nil {
			t.Fatal(err)
		}
	}
	if !complete {
		t.Fatal("reassembly did not complete")
	}
	if string(out) != string(payload) {
		t.Fatalf("got %q, want %q", out, payload)
	}
}

func TestDuplicateFragmentIndexRejected(t *testing.T) {
	payload := []byte("short payload needing at least two fragments!!")
	parts, err := Split(payload, 10, 7, 256, 257)
	if err != nil {
		t.Fatal(err)
	}
	re := NewReassembler()
	f, err := ParseFragment(parts[0])
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := re.Add(f, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, err := re.Add(f, 0); err == nil {
		t.Fatal("expected an error for a duplicate fragment index")
	}
}
