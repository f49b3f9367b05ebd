package gpu

import (
	"errors"
	"testing"
)

func TestStorageLittleEndian(t *testing.T) {
	s := Storage{0x01, 0x02, 0x03, 0x04, 0xff, 0, 0, 0}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if got := s.Load(0); got != 0x04030201 {
		t.Errorf("Load(0) = %#x, want 0x04030201", got)
	}
	s.Store(1, 0xaabbccdd)
	if s[4] != 0xdd || s[7] != 0xaa {
		t.Errorf("Store wrote % x", s[4:])
	}
}

func TestAlignSize(t *testing.T) {
	tests := map[uint64]uint64{0: 0, 1: 4, 4: 4, 5: 8, 105: 108}
	for in, want := range tests {
		if got := AlignSize(in); got != want {
			t.Errorf("AlignSize(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestBufferUsageHas(t *testing.T) {
	u := BufferUsageStorage | BufferUsageCopySrc
	if !u.Has(BufferUsageStorage) || !u.Has(BufferUsageStorage|BufferUsageCopySrc) {
		t.Error("expected usage to contain its own flags")
	}
	if u.Has(BufferUsageMapRead) {
		t.Error("unexpected MapRead")
	}
}

func TestRegisterTwice(t *testing.T) {
	factory := func(Config) (Device, error) { return nil, errors.New("unused") }
	if err := Register("test-dup", factory); err != nil {
		t.Fatal(err)
	}
	if err := Register("test-dup", factory); !errors.Is(err, ErrBackendRegistered) {
		t.Errorf("expected ErrBackendRegistered, got %v", err)
	}

	if _, err := Open(Config{Backend: "test-dup"}, nil); err == nil {
		t.Error("expected factory error to surface from Open")
	}
}
