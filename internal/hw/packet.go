package hw

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// InstructionSize is the encoded size of one packet instruction in bytes.
const InstructionSize = 8

// DefaultPacketSize is the packet capacity used when none is configured.
const DefaultPacketSize = 4096

// ErrInvalidInstruction is returned for operands that do not fit the encoding.
var ErrInvalidInstruction = errors.New("hw: invalid packet instruction")

// Opcode is a sequencer instruction type.
type Opcode uint8

// Sequencer opcodes.
const (
	OpWrite Opcode = iota + 1
	OpClearEvent
	OpWaitForEvent
	OpEndOfCommands
)

func (o Opcode) String() string {
	switch o {
	case OpWrite:
		return "write"
	case OpClearEvent:
		return "clear_event"
	case OpWaitForEvent:
		return "wfe"
	case OpEndOfCommands:
		return "eoc"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Instruction is a decoded packet instruction. Event is set for the event
// opcodes; Component, Offset and Value for writes.
type Instruction struct {
	Op        Opcode
	Component ComponentID
	Offset    uint32
	Value     uint32
	Event     uint32
}

// Packet is a fixed-capacity command buffer executed by the sequencer.
//
// Layout of one instruction (little endian):
//
//	word0: op(8) | component(8) | offset(16)
//	word1: value or event id
//
// The buffer is allocated once and never grows. Sync copies the built
// commands to the device-visible view read by the sequencer, so a rebuild
// never races with an execution that is still reading.
type Packet struct {
	buf    []byte
	device []byte
	size   int
	synced int
	seq    uint64
}

// NewPacket allocates a packet of the given capacity in bytes.
func NewPacket(capacity int) *Packet {
	if capacity <= 0 {
		capacity = DefaultPacketSize
	}
	capacity -= capacity % InstructionSize
	return &Packet{
		buf:    make([]byte, capacity),
		device: make([]byte, capacity),
	}
}

// Reset empties the packet and starts a new build generation.
func (p *Packet) Reset() {
	p.size = 0
	p.seq++
}

// Seq returns the build generation. Completions carry the Seq of the packet
// they report on.
func (p *Packet) Seq() uint64 {
	return p.seq
}

// Len returns the number of bytes used.
func (p *Packet) Len() int {
	return p.size
}

// Cap returns the packet capacity in bytes.
func (p *Packet) Cap() int {
	return len(p.buf)
}

// ClearEvent appends an instruction clearing a hardware event flag.
func (p *Packet) ClearEvent(event uint32) error {
	return p.append(OpClearEvent, 0, 0, event)
}

// WaitForEvent appends a barrier that blocks execution until event fires.
func (p *Packet) WaitForEvent(event uint32) error {
	return p.append(OpWaitForEvent, 0, 0, event)
}

// Write appends a register write for a component.
func (p *Packet) Write(id ComponentID, offset, value uint32) error {
	if id < 0 || id > 0xff {
		return fmt.Errorf("%w: component %d", ErrInvalidInstruction, id)
	}
	if offset > 0xffff {
		return fmt.Errorf("%w: offset %#x", ErrInvalidInstruction, offset)
	}
	return p.append(OpWrite, uint8(id), uint16(offset), value)
}

// EndOfCommands appends the terminating marker.
func (p *Packet) EndOfCommands() error {
	return p.append(OpEndOfCommands, 0, 0, 0)
}

func (p *Packet) append(op Opcode, comp uint8, offset uint16, value uint32) error {
	if p.size+InstructionSize > len(p.buf) {
		return ErrPacketFull
	}
	word0 := uint32(op)<<24 | uint32(comp)<<16 | uint32(offset)
	binary.LittleEndian.PutUint32(p.buf[p.size:], word0)
	binary.LittleEndian.PutUint32(p.buf[p.size+4:], value)
	p.size += InstructionSize
	return nil
}

// Sync publishes the built commands to the device-visible view.
func (p *Packet) Sync() {
	copy(p.device, p.buf[:p.size])
	p.synced = p.size
}

// DeviceView returns the commands last published by Sync. The returned slice
// aliases the packet and must be copied by a channel that keeps it.
func (p *Packet) DeviceView() []byte {
	return p.device[:p.synced]
}

// Instructions decodes the commands currently built in the packet.
func (p *Packet) Instructions() []Instruction {
	ins, _ := Decode(p.buf[:p.size])
	return ins
}

// Decode parses an encoded command stream.
func Decode(b []byte) ([]Instruction, error) {
	if len(b)%InstructionSize != 0 {
		return nil, fmt.Errorf("%w: truncated stream of %d bytes", ErrInvalidInstruction, len(b))
	}

	out := make([]Instruction, 0, len(b)/InstructionSize)
	for off := 0; off < len(b); off += InstructionSize {
		word0 := binary.LittleEndian.Uint32(b[off:])
		word1 := binary.LittleEndian.Uint32(b[off+4:])

		ins := Instruction{Op: Opcode(word0 >> 24)}
		switch ins.Op {
		case OpWrite:
			ins.Component = ComponentID((word0 >> 16) & 0xff)
			ins.Offset = word0 & 0xffff
			ins.Value = word1
		case OpClearEvent, OpWaitForEvent:
			ins.Event = word1
		case OpEndOfCommands:
		default:
			return nil, fmt.Errorf("%w: opcode %d at %d", ErrInvalidInstruction, ins.Op, off)
		}
		out = append(out, ins)
	}
	return out, nil
}
