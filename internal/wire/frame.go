// Package wire implements the fixed-layout request/reply frame used
// between the unprivileged client and the privileged agent, and the
// FramedChannel that sends and receives it over a byte-duplex
// connection (a pair of pipes across a fork/exec boundary).
//
// The frame layout is deliberately simple and fixed-size: every send
// transmits the whole record, in a fixed little-endian byte order standing
// in for host order (see order), no length prefix. This
// mirrors the original otpasswd agent protocol (agent_hdr_send/
// agent_hdr_recv), translated from raw struct writes to an explicit
// encoding/binary layout so the wire format stays pinned even as the
// in-memory struct evolves.
package wire

import (
	"encoding/binary"
	"math/big"
)

// ProtocolVersion is the local protocol version constant. A received
// frame whose ProtocolVersion field doesn't match this value is a
// fatal protocol error (see Recv).
const ProtocolVersion uint32 = 0x50505033 // "PPP3"

// StrArgSize is the fixed size, in bytes, of the str_arg wire field.
// It carries either a NUL-terminated text payload (length < StrArgSize)
// or a fixed-length binary payload (raw key material).
const StrArgSize = 255

// frameSize is the encoded size of a Frame on the wire:
// 4 (version) + 4 (type) + 4 (status) + 4 (int_arg) + 4 (int_arg2) +
// 16 (num_arg, 128-bit) + 255 (str_arg).
const frameSize = 4 + 4 + 4 + 4 + 4 + 16 + StrArgSize

// order is the byte order used on the wire. Compatibility is only
// ever required between a parent process and its own fork/exec child
// on the same host, so a fixed host-plausible order is sufficient;
// see DESIGN.md for why this isn't portable across hosts by design.
var order = binary.LittleEndian

// RequestType is the closed enumeration of request/reply frame types.
type RequestType int32

const (
	ReqInit RequestType = iota
	ReqReply
	ReqDisconnect
	ReqUserSet
	ReqStateNew
	ReqStateLoad
	ReqStateStore
	ReqStateDrop
	ReqKeyGenerate
	ReqKeyRemove
	ReqFlagAdd
	ReqFlagClear
	ReqFlagGet
	ReqGetNum
	ReqGetInt
	ReqGetStr
	ReqGetPasscode
	ReqGetPrompt
	ReqGetWarnings
	ReqGetAlphabet
	ReqUpdateLatest
	ReqSkip
	ReqAuthenticate
	ReqSetNum
	ReqSetInt
	ReqSetStr
	ReqSetSpass
)

// FieldID is the closed enumeration used as IntArg for Get*/Set*
// requests, projecting a PppState field by identifier.
type FieldID int32

const (
	FieldKey FieldID = iota
	FieldCounter
	FieldFlags
	FieldLatestCard
	FieldCurrentCard
	FieldMaxCard
	FieldMaxCode
	FieldUnsaltedCounter
	FieldCodeLength
	FieldAlphabet
	FieldLabel
	FieldContact
	FieldRecentFailures
)

// Frame is the fixed-layout wire record. Every Frame is always fully
// populated: NumArg and StrArg are present (zeroed) even when the
// request type doesn't use them, matching agent_hdr_init's memset.
type Frame struct {
	ProtocolVersion uint32
	Type            RequestType
	Status          int32
	IntArg          int32
	IntArg2         int32
	NumArg          *big.Int
	StrArg          [StrArgSize]byte
}

// New returns a zeroed frame with ProtocolVersion and NumArg already
// populated, equivalent to agent_hdr_init.
func New(typ RequestType, status int32) *Frame {
	return &Frame{
		ProtocolVersion: ProtocolVersion,
		Type:            typ,
		Status:          status,
		NumArg:          new(big.Int),
	}
}

// SetStr writes a NUL-terminated text payload into StrArg. It returns
// otpderr-flavored information via a plain error since callers in
// otpstate already wrap TooLong themselves; wire only enforces the
// hard buffer bound.
func (f *Frame) SetStr(s string) error {
	if len(s) >= StrArgSize {
		return errTooLong
	}
	f.StrArg = [StrArgSize]byte{}
	copy(f.StrArg[:], s)
	return nil
}

// SetBinary writes a fixed-length binary payload (used only for raw
// key material) into StrArg.
func (f *Frame) SetBinary(b []byte) error {
	if len(b) > StrArgSize {
		return errTooLong
	}
	f.StrArg = [StrArgSize]byte{}
	copy(f.StrArg[:], b)
	return nil
}

// Str reads StrArg back as a NUL-terminated string.
func (f *Frame) Str() string {
	n := 0
	for n < StrArgSize && f.StrArg[n] != 0 {
		n++
	}
	return string(f.StrArg[:n])
}

// Zero clears StrArg in place. Used by the dispatcher to scrub key
// material from the outbound frame immediately after the reply is on
// the wire (spec.md §4.6, §8 "GetStr(KEY) leaves no key bytes...").
func (f *Frame) Zero() {
	f.StrArg = [StrArgSize]byte{}
}

type wireErr string

func (e wireErr) Error() string { return string(e) }

const errTooLong wireErr = "value exceeds str_arg buffer size"

// marshal encodes f into a fixed-size byte slice in wire order.
func (f *Frame) marshal() []byte {
	buf := make([]byte, frameSize)
	order.PutUint32(buf[0:4], f.ProtocolVersion)
	order.PutUint32(buf[4:8], uint32(f.Type))
	order.PutUint32(buf[8:12], uint32(f.Status))
	order.PutUint32(buf[12:16], uint32(f.IntArg))
	order.PutUint32(buf[16:20], uint32(f.IntArg2))

	numArg := f.NumArg
	if numArg == nil {
		numArg = new(big.Int)
	}
	putNum128(buf[20:36], numArg)

	copy(buf[36:36+StrArgSize], f.StrArg[:])
	return buf
}

// unmarshal decodes a fixed-size byte slice (exactly frameSize bytes)
// into f.
func (f *Frame) unmarshal(buf []byte) {
	f.ProtocolVersion = order.Uint32(buf[0:4])
	f.Type = RequestType(order.Uint32(buf[4:8]))
	f.Status = int32(order.Uint32(buf[8:12]))
	f.IntArg = int32(order.Uint32(buf[12:16]))
	f.IntArg2 = int32(order.Uint32(buf[16:20]))
	f.NumArg = num128(buf[20:36])
	copy(f.StrArg[:], buf[36:36+StrArgSize])
}

// putNum128 writes v into a 16-byte big-endian block. v is treated as
// an unsigned 128-bit value; values that don't fit are truncated to
// their low 128 bits, matching the fixed-width wire representation.
func putNum128(dst []byte, v *big.Int) {
	b := v.Bytes()
	if len(b) > 16 {
		b = b[len(b)-16:]
	}
	for i := range dst {
		dst[i] = 0
	}
	copy(dst[16-len(b):], b)
}

// num128 decodes a 16-byte big-endian block into an unsigned big.Int.
func num128(src []byte) *big.Int {
	return new(big.Int).SetBytes(src)
}
