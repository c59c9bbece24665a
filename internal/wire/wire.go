// Package wire implements the packet RPC transport: length-prefixed
// msgpack frames carrying a fixed header (uid, length, function id,
// sequence number + response-expected bit) plus a function-specific body.
// Responses add a one-byte error code; callbacks share the response shape
// but are unsolicited (SPEC_FULL.md §6).
//
// Framing follows the teacher's own ipc package almost verbatim: a 4-byte
// big-endian length prefix over a msgpack payload, read through a
// bufio.Reader to cut syscalls on pipe/socket sources. The difference is
// what rides inside the frame — here a fixed header plus a per-function
// body instead of quarry's discriminated event/artifact/result frames.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame size limits, generous relative to any single object-API body
// (the largest fixed bodies are file/string chunk buffers, at most 63
// bytes of payload); kept far above that to leave room for argument/
// environment lists and directory entry names.
const (
	MaxFrameSize     = 1 << 20
	LengthPrefixSize = 4
	MaxPayloadSize   = MaxFrameSize - LengthPrefixSize
)

// FunctionID identifies the request, response, or callback a frame
// carries. Request and response frames share the same id; callback ids
// are drawn from a disjoint range so a dispatcher can tell unsolicited
// traffic apart from a reply at a glance.
type FunctionID uint8

// Public object-API surface (spec.md §6). Grouped by object kind in the
// same order the kind's *_ops.go file implements them.
const (
	FunctionReleaseObject FunctionID = iota + 1

	FunctionOpenInventory
	FunctionGetInventoryType
	FunctionGetNextInventoryEntry
	FunctionRewindInventory

	FunctionAllocateString
	FunctionTruncateString
	FunctionGetStringLength
	FunctionSetStringChunk
	FunctionGetStringChunk

	FunctionAllocateList
	FunctionGetListLength
	FunctionGetListItem
	FunctionAppendToList
	FunctionRemoveFromList

	FunctionOpenFile
	FunctionCreatePipe
	FunctionGetFileInfo
	FunctionReadFile
	FunctionReadFileAsync
	FunctionAbortAsyncFileRead
	FunctionWriteFile
	FunctionWriteFileUnchecked
	FunctionWriteFileAsync
	FunctionSetFilePosition
	FunctionGetFilePosition
	FunctionLookupFileInfo
	FunctionLookupSymlinkTarget

	FunctionOpenDirectory
	FunctionGetDirectoryName
	FunctionGetNextDirectoryEntry
	FunctionRewindDirectory
	FunctionCreateDirectory

	FunctionGetProcesses
	FunctionSpawnProcess
	FunctionKillProcess
	FunctionGetProcessCommand
	FunctionGetProcessIdentity
	FunctionGetProcessStdio
	FunctionGetProcessState

	FunctionGetDefinedPrograms
	FunctionDefineProgram
	FunctionUndefineProgram
	FunctionGetProgramIdentifier
	FunctionGetProgramDirectory
	FunctionSetProgramCommand
	FunctionGetProgramCommand
	FunctionSetProgramStdioRedirection
	FunctionGetProgramStdioRedirection
	FunctionSetProgramSchedule
	FunctionGetProgramSchedule
	FunctionGetLastSpawnedProgramProcess
	FunctionGetLastProgramSchedulerError
	FunctionGetCustomProgramOptionNames
	FunctionSetCustomProgramOptionValue
	FunctionGetCustomProgramOptionValue
	FunctionRemoveCustomProgramOption

	FunctionGetIdentity
)

// Callback function ids, disjoint from the request/response range above
// so a client can switch on FunctionID without first checking whether the
// frame was solicited.
const (
	FunctionAsyncFileRead FunctionID = iota + 128
	FunctionAsyncFileWrite
	FunctionProcessStateChanged
	FunctionProgramProcessSpawned
	FunctionProgramSchedulerErrorOccurred
)

// sequenceMask/responseExpectedBit split SequenceAndOptions the way the
// original packet header packs sequence number and the response-expected
// flag into one byte: low nibble is the sequence number (0-15, wrapping),
// bit 4 is response-expected.
const (
	sequenceMask         = 0x0F
	responseExpectedBit  = 0x10
)

// Options packs a sequence number and the response-expected flag into the
// header's single options byte.
func Options(sequence uint8, responseExpected bool) uint8 {
	o := sequence & sequenceMask
	if responseExpected {
		o |= responseExpectedBit
	}
	return o
}

// Header is the fixed portion of every request, response, and callback
// frame (spec.md §6).
type Header struct {
	UID        uint32     `msgpack:"uid"`
	Length     uint32     `msgpack:"length"`
	FunctionID FunctionID `msgpack:"function_id"`
	Options    uint8      `msgpack:"sequence_and_options"`
}

// Sequence extracts the request's sequence number from Options.
func (h Header) Sequence() uint8 { return h.Options & sequenceMask }

// ResponseExpected reports whether the caller asked for a reply.
// write_file_unchecked and write_file_async are always sent with this
// false (spec.md §6).
func (h Header) ResponseExpected() bool { return h.Options&responseExpectedBit != 0 }

// Request is a client-to-daemon frame: the header plus an undecoded body,
// left as RawMessage until the dispatcher knows which struct the
// function id implies.
type Request struct {
	Header
	Body msgpack.RawMessage `msgpack:"body"`
}

// Response is a daemon-to-client reply: the header, a one-byte error
// code, and an undecoded body (empty on error, per spec.md §7 "every
// public operation returns an error code").
type Response struct {
	Header
	ErrorCode uint8              `msgpack:"error_code"`
	Body      msgpack.RawMessage `msgpack:"body"`
}

// Callback is an unsolicited daemon-to-client frame; same shape as
// Response but ErrorCode is always zero and ResponseExpected is
// meaningless (spec.md §6: "Callbacks are unsolicited packets with the
// same layout as responses").
type Callback = Response

// decodeBody unmarshals a raw frame body into dst, tolerating the empty
// body every zero-argument / error response carries.
func decodeBody(raw msgpack.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return msgpack.Unmarshal(raw, dst)
}

// encodeBody marshals a body into a RawMessage, or returns nil for a nil
// (omitted) body.
func encodeBody(body any) (msgpack.RawMessage, error) {
	if body == nil {
		return nil, nil
	}
	data, err := msgpack.Marshal(body)
	if err != nil {
		return nil, err
	}
	return msgpack.RawMessage(data), nil
}

// FrameDecoder reads length-prefixed msgpack frames from a stream.
type FrameDecoder struct {
	r *bufio.Reader
}

// NewFrameDecoder wraps r in a bufio.Reader, reusing it if r already is
// one (mirrors ipc.NewFrameDecoder: cuts syscalls on unbuffered sources
// like a unix-socket connection).
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FrameDecoder{r: br}
}

// ReadFrame reads one length-prefixed payload. Returns io.EOF at a clean
// stream end, or an error wrapping a truncated/oversized frame.
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.r, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: read length prefix: %w", err)
	}

	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxPayloadSize {
		return nil, fmt.Errorf("wire: payload size %d exceeds maximum %d", size, MaxPayloadSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return payload, nil
}

// DecodeRequest reads and decodes one Request frame.
func (d *FrameDecoder) DecodeRequest() (*Request, error) {
	payload, err := d.ReadFrame()
	if err != nil {
		return nil, err
	}
	var req Request
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("wire: decode request: %w", err)
	}
	return &req, nil
}

// EncodeFrame length-prefixes an already-msgpack-encoded payload.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

// EncodeResponse marshals and length-prefixes a Response (or Callback,
// its type alias).
func EncodeResponse(resp *Response) ([]byte, error) {
	resp.Length = uint32(len(resp.Body))
	data, err := msgpack.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("wire: encode response: %w", err)
	}
	return EncodeFrame(data), nil
}

// EncodeRequest marshals and length-prefixes a Request, for clients/tests
// driving the dispatcher end to end.
func EncodeRequest(req *Request) ([]byte, error) {
	req.Length = uint32(len(req.Body))
	data, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("wire: encode request: %w", err)
	}
	return EncodeFrame(data), nil
}
