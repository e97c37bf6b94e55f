package hw

import (
	"errors"
	"testing"
)

func TestPacket_BuildAndDecode(t *testing.T) {
	pkt := NewPacket(64)
	pkt.Reset()

	if err := pkt.ClearEvent(7); err != nil {
		t.Fatalf("ClearEvent: %v", err)
	}
	if err := pkt.WaitForEvent(7); err != nil {
		t.Fatalf("WaitForEvent: %v", err)
	}
	if err := pkt.Write(3, 0x40, 0xdeadbeef); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := pkt.EndOfCommands(); err != nil {
		t.Fatalf("EndOfCommands: %v", err)
	}

	got := pkt.Instructions()
	want := []Instruction{
		{Op: OpClearEvent, Event: 7},
		{Op: OpWaitForEvent, Event: 7},
		{Op: OpWrite, Component: 3, Offset: 0x40, Value: 0xdeadbeef},
		{Op: OpEndOfCommands},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d instructions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("instruction %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPacket_FixedCapacity(t *testing.T) {
	pkt := NewPacket(2 * InstructionSize)

	if err := pkt.EndOfCommands(); err != nil {
		t.Fatal(err)
	}
	if err := pkt.EndOfCommands(); err != nil {
		t.Fatal(err)
	}
	if err := pkt.EndOfCommands(); !errors.Is(err, ErrPacketFull) {
		t.Errorf("expected ErrPacketFull, got %v", err)
	}
	if pkt.Cap() != 2*InstructionSize {
		t.Errorf("capacity changed to %d", pkt.Cap())
	}

	pkt.Reset()
	if pkt.Len() != 0 {
		t.Errorf("Len after reset = %d, want 0", pkt.Len())
	}
}

func TestPacket_ResetAdvancesSeq(t *testing.T) {
	pkt := NewPacket(0)
	if pkt.Cap() != DefaultPacketSize {
		t.Errorf("default capacity = %d, want %d", pkt.Cap(), DefaultPacketSize)
	}

	first := pkt.Seq()
	pkt.Reset()
	pkt.Reset()
	if pkt.Seq() != first+2 {
		t.Errorf("Seq = %d, want %d", pkt.Seq(), first+2)
	}
}

func TestPacket_SyncPublishesDeviceView(t *testing.T) {
	pkt := NewPacket(64)
	pkt.Reset()
	_ = pkt.Write(1, 0x4, 10)
	pkt.Sync()

	view := append([]byte(nil), pkt.DeviceView()...)

	// Rebuilding must not change what the device already saw.
	pkt.Reset()
	_ = pkt.Write(1, 0x4, 20)

	ins, err := Decode(view)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(ins) != 1 || ins[0].Value != 10 {
		t.Errorf("device view = %+v, want single write of 10", ins)
	}
	if len(pkt.DeviceView()) != InstructionSize {
		t.Errorf("device view length changed before Sync")
	}
}

func TestPacket_InvalidOperands(t *testing.T) {
	pkt := NewPacket(64)

	if err := pkt.Write(300, 0, 0); !errors.Is(err, ErrInvalidInstruction) {
		t.Errorf("component out of range: got %v", err)
	}
	if err := pkt.Write(1, 0x10000, 0); !errors.Is(err, ErrInvalidInstruction) {
		t.Errorf("offset out of range: got %v", err)
	}
	if _, err := Decode([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidInstruction) {
		t.Errorf("truncated stream: got %v", err)
	}
}
