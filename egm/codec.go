package egm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Mesh-ch/abb-robot-client/errors"
)

// Frame layout, big-endian, fixed 168 bytes:
//
//	offset  0  version      u8
//	offset  1  msgType      u8
//	offset  2  seqno        u32
//	offset  6  timestamp    u64 (ms since epoch, controller clock)
//	offset 14  flags        u16
//	offset 16  joints       [6]f64
//	offset 64  extAxes      [6]f64
//	offset 112 position     [3]f64
//	offset 136 orientation  [4]f64 (quaternion, w x y z)
const (
	// FrameSize is the exact wire size of every frame, both directions.
	FrameSize = 168

	// ProtocolVersion is the only version this codec understands.
	ProtocolVersion = 1
)

// Message type discriminator, second byte on the wire.
const (
	msgTypeSensor  uint8 = 1 // robot -> client
	msgTypeCommand uint8 = 2 // client -> robot
)

// Status flags carried in sensor frames.
const (
	// FlagMotorsOn is set while the controller has motors energized.
	FlagMotorsOn uint16 = 1 << 0
	// FlagRapidRunning is set while a RAPID program is executing.
	FlagRapidRunning uint16 = 1 << 1
	// FlagConverged is set when motion has converged on the last target.
	FlagConverged uint16 = 1 << 2
)

// SensorFrame is one robot state report received from the controller.
type SensorFrame struct {
	SeqNo        uint32
	Timestamp    uint64 // ms, controller clock
	Flags        uint16
	Joints       [6]float64 // degrees
	ExternalAxes [6]float64
	Position     [3]float64 // mm, cartesian
	Orientation  [4]float64 // quaternion w x y z
}

// CommandFrame is one motion correction sent to the controller.
type CommandFrame struct {
	SeqNo        uint32
	Timestamp    uint64
	Flags        uint16
	Joints       [6]float64
	ExternalAxes [6]float64
	Position     [3]float64
	Orientation  [4]float64
}

// DecodeSensor parses a sensor frame from a received datagram.
func DecodeSensor(b []byte) (*SensorFrame, error) {
	if err := checkHeader(b, msgTypeSensor, "DecodeSensor"); err != nil {
		return nil, err
	}

	var f SensorFrame
	decodeBody(b, &f.SeqNo, &f.Timestamp, &f.Flags,
		&f.Joints, &f.ExternalAxes, &f.Position, &f.Orientation)
	return &f, nil
}

// DecodeCommand parses a command frame. Used by tests and by tooling that
// inspects outbound traffic; the session itself only encodes commands.
func DecodeCommand(b []byte) (*CommandFrame, error) {
	if err := checkHeader(b, msgTypeCommand, "DecodeCommand"); err != nil {
		return nil, err
	}

	var f CommandFrame
	decodeBody(b, &f.SeqNo, &f.Timestamp, &f.Flags,
		&f.Joints, &f.ExternalAxes, &f.Position, &f.Orientation)
	return &f, nil
}

// EncodeSensor serializes a sensor frame. Never fails for a well-formed frame.
func EncodeSensor(f *SensorFrame) []byte {
	return encodeBody(msgTypeSensor, f.SeqNo, f.Timestamp, f.Flags,
		&f.Joints, &f.ExternalAxes, &f.Position, &f.Orientation)
}

// EncodeCommand serializes a command frame.
func EncodeCommand(f *CommandFrame) []byte {
	return encodeBody(msgTypeCommand, f.SeqNo, f.Timestamp, f.Flags,
		&f.Joints, &f.ExternalAxes, &f.Position, &f.Orientation)
}

func checkHeader(b []byte, wantType uint8, method string) error {
	if len(b) != FrameSize {
		return errors.WrapInvalid(
			fmt.Errorf("%w: frame length %d, want %d", errors.ErrMalformedFrame, len(b), FrameSize),
			"codec", method, "length check")
	}
	if b[0] != ProtocolVersion {
		return errors.WrapInvalid(
			fmt.Errorf("%w: version %d", errors.ErrUnsupportedVersion, b[0]),
			"codec", method, "version check")
	}
	if b[1] != wantType {
		return errors.WrapInvalid(
			fmt.Errorf("%w: message type %d, want %d", errors.ErrMalformedFrame, b[1], wantType),
			"codec", method, "message type check")
	}
	return nil
}

func decodeBody(b []byte, seq *uint32, ts *uint64, flags *uint16,
	joints, extAxes *[6]float64, pos *[3]float64, orient *[4]float64,
) {
	*seq = binary.BigEndian.Uint32(b[2:6])
	*ts = binary.BigEndian.Uint64(b[6:14])
	*flags = binary.BigEndian.Uint16(b[14:16])

	off := 16
	for i := range joints {
		joints[i] = math.Float64frombits(binary.BigEndian.Uint64(b[off : off+8]))
		off += 8
	}
	for i := range extAxes {
		extAxes[i] = math.Float64frombits(binary.BigEndian.Uint64(b[off : off+8]))
		off += 8
	}
	for i := range pos {
		pos[i] = math.Float64frombits(binary.BigEndian.Uint64(b[off : off+8]))
		off += 8
	}
	for i := range orient {
		orient[i] = math.Float64frombits(binary.BigEndian.Uint64(b[off : off+8]))
		off += 8
	}
}

func encodeBody(msgType uint8, seq uint32, ts uint64, flags uint16,
	joints, extAxes *[6]float64, pos *[3]float64, orient *[4]float64,
) []byte {
	b := make([]byte, FrameSize)
	b[0] = ProtocolVersion
	b[1] = msgType
	binary.BigEndian.PutUint32(b[2:6], seq)
	binary.BigEndian.PutUint64(b[6:14], ts)
	binary.BigEndian.PutUint16(b[14:16], flags)

	off := 16
	for _, v := range joints {
		binary.BigEndian.PutUint64(b[off:off+8], math.Float64bits(v))
		off += 8
	}
	for _, v := range extAxes {
		binary.BigEndian.PutUint64(b[off:off+8], math.Float64bits(v))
		off += 8
	}
	for _, v := range pos {
		binary.BigEndian.PutUint64(b[off:off+8], math.Float64bits(v))
		off += 8
	}
	for _, v := range orient {
		binary.BigEndian.PutUint64(b[off:off+8], math.Float64bits(v))
		off += 8
	}
	return b
}
