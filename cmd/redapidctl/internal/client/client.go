// Package client is a small synchronous client for the redapid packet RPC
// transport (internal/wire), used by cmd/redapidctl's list/inspect/watch
// commands. It owns nothing about the server's internal state: every
// method marshals a request, writes one frame, and decodes the matching
// response.
//
// Grounded on the teacher's cli/cmd package needing no transport client of
// its own (quarry's CLI talks to a local executor over pipes, not a
// standing daemon) — this is new code, but it reuses internal/wire's own
// Header/Request/Response/FrameDecoder rather than inventing a second wire
// format, and github.com/vmihailenco/msgpack/v5, the teacher's own wire
// codec, for request/response body encoding.
package client

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/redapid/server/internal/object"
	"github.com/redapid/server/internal/objects/procobj"
	"github.com/redapid/server/internal/wire"
)

// Client is one connection to a redapid daemon. Not safe for concurrent
// use: callers issuing overlapping commands should open one Client per
// goroutine, exactly as one wire connection serves one logical caller.
type Client struct {
	conn net.Conn
	dec  *wire.FrameDecoder
	seq  uint8
}

// Dial connects to a daemon listening on a "unix://<path>" or
// "tcp://<addr>" address, the same two forms internal/config.Daemon's
// ListenAddress accepts.
func Dial(address string) (*Client, error) {
	var network, target string
	switch {
	case strings.HasPrefix(address, "unix://"):
		network, target = "unix", strings.TrimPrefix(address, "unix://")
	case strings.HasPrefix(address, "tcp://"):
		network, target = "tcp", strings.TrimPrefix(address, "tcp://")
	default:
		return nil, fmt.Errorf("unsupported address %q (want unix:// or tcp://)", address)
	}

	conn, err := net.DialTimeout(network, target, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return &Client{conn: conn, dec: wire.NewFrameDecoder(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Conn exposes the raw connection for the watch command, which reads
// unsolicited callback frames rather than issuing requests.
func (c *Client) Conn() net.Conn { return c.conn }

// call sends one request/response round trip. reqBody/respBody may be nil
// for operations with no arguments or no result fields.
func (c *Client) call(fid wire.FunctionID, reqBody, respBody any) error {
	var raw msgpack.RawMessage
	if reqBody != nil {
		data, err := msgpack.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		raw = data
	}

	c.seq = (c.seq + 1) & 0x0F
	req := &wire.Request{
		Header: wire.Header{FunctionID: fid, Options: wire.Options(c.seq, true)},
		Body:   raw,
	}
	frame, err := wire.EncodeRequest(req)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	payload, err := c.dec.ReadFrame()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var resp wire.Response
	if err := msgpack.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.ErrorCode != 0 {
		return fmt.Errorf("function %d failed: error code %d", fid, resp.ErrorCode)
	}
	if respBody != nil && len(resp.Body) > 0 {
		if err := msgpack.Unmarshal(resp.Body, respBody); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}

// --- inventory/list helpers shared by processes and programs ---

func (c *Client) listItems(listID object.ID) ([]object.ID, error) {
	var length struct {
		Length int `msgpack:"length"`
	}
	if err := c.call(wire.FunctionGetListLength, map[string]object.ID{"list_id": listID}, &length); err != nil {
		return nil, err
	}
	ids := make([]object.ID, 0, length.Length)
	for i := 0; i < length.Length; i++ {
		var item struct {
			ItemObjectID object.ID `msgpack:"item_object_id"`
		}
		req := struct {
			ListID object.ID `msgpack:"list_id"`
			Index  int       `msgpack:"index"`
		}{ListID: listID, Index: i}
		if err := c.call(wire.FunctionGetListItem, req, &item); err != nil {
			return nil, err
		}
		ids = append(ids, item.ItemObjectID)
	}
	return ids, nil
}

// ReadString drains a String object's full contents via repeated
// get_string_chunk calls, the same chunked read pattern
// internal/objects/strobj.GetChunk's 63-byte ceiling forces every wire
// client to follow.
func (c *Client) ReadString(id object.ID) (string, error) {
	var length struct {
		Length int `msgpack:"length"`
	}
	if err := c.call(wire.FunctionGetStringLength, map[string]object.ID{"string_id": id}, &length); err != nil {
		return "", err
	}

	var b strings.Builder
	for offset := 0; offset < length.Length; {
		var chunk struct {
			Buffer []byte `msgpack:"buffer"`
		}
		req := struct {
			StringID object.ID `msgpack:"string_id"`
			Offset   int       `msgpack:"offset"`
		}{StringID: id, Offset: offset}
		if err := c.call(wire.FunctionGetStringChunk, req, &chunk); err != nil {
			return "", err
		}
		remaining := length.Length - offset
		if remaining > len(chunk.Buffer) {
			remaining = len(chunk.Buffer)
		}
		b.Write(chunk.Buffer[:remaining])
		offset += remaining
		if remaining == 0 {
			break
		}
	}
	return b.String(), nil
}

// --- processes ---

// ProcessSummary is list processes' per-row shape.
type ProcessSummary struct {
	ProcessID object.ID     `json:"process_id"`
	State     procobj.State `json:"state"`
	PID       uint32        `json:"pid"`
	ExitCode  uint8         `json:"exit_code"`
}

// ListProcesses returns every live process's state snapshot.
func (c *Client) ListProcesses() ([]ProcessSummary, error) {
	var resp struct {
		ProcessesListID object.ID `msgpack:"processes_list_id"`
	}
	if err := c.call(wire.FunctionGetProcesses, nil, &resp); err != nil {
		return nil, err
	}
	ids, err := c.listItems(resp.ProcessesListID)
	if err != nil {
		return nil, err
	}

	out := make([]ProcessSummary, 0, len(ids))
	for _, id := range ids {
		state, err := c.GetProcessState(id)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

// GetProcessState fetches one process's current state.
func (c *Client) GetProcessState(id object.ID) (ProcessSummary, error) {
	var resp struct {
		State     uint8  `msgpack:"state"`
		Timestamp uint64 `msgpack:"timestamp"`
		ExitCode  uint8  `msgpack:"exit_code"`
		PID       uint32 `msgpack:"pid"`
	}
	req := map[string]object.ID{"process_id": id}
	if err := c.call(wire.FunctionGetProcessState, req, &resp); err != nil {
		return ProcessSummary{}, err
	}
	return ProcessSummary{ProcessID: id, State: procobj.State(resp.State), PID: resp.PID, ExitCode: resp.ExitCode}, nil
}

// ProcessDetail is inspect process's full shape.
type ProcessDetail struct {
	ProcessSummary
	UID        uint32 `json:"uid"`
	GID        uint32 `json:"gid"`
	Executable string `json:"executable"`
}

// InspectProcess fetches state and identity, plus the resolved executable
// path, for one process.
func (c *Client) InspectProcess(id object.ID) (ProcessDetail, error) {
	state, err := c.GetProcessState(id)
	if err != nil {
		return ProcessDetail{}, err
	}

	var identity struct {
		PID uint32 `msgpack:"pid"`
		UID uint32 `msgpack:"uid"`
		GID uint32 `msgpack:"gid"`
	}
	if err := c.call(wire.FunctionGetProcessIdentity, map[string]object.ID{"process_id": id}, &identity); err != nil {
		return ProcessDetail{}, err
	}

	var cmd struct {
		ExecutableStringID object.ID `msgpack:"executable_string_id"`
	}
	if err := c.call(wire.FunctionGetProcessCommand, map[string]object.ID{"process_id": id}, &cmd); err != nil {
		return ProcessDetail{}, err
	}
	executable, err := c.ReadString(cmd.ExecutableStringID)
	if err != nil {
		return ProcessDetail{}, err
	}

	return ProcessDetail{
		ProcessSummary: state,
		UID:            identity.UID,
		GID:            identity.GID,
		Executable:     executable,
	}, nil
}

// --- programs ---

// ProgramSummary is list programs' per-row shape.
type ProgramSummary struct {
	ProgramID  object.ID `json:"program_id"`
	Identifier string    `json:"identifier"`
}

// ListPrograms returns every defined program's identifier.
func (c *Client) ListPrograms() ([]ProgramSummary, error) {
	var resp struct {
		ProgramsListID object.ID `msgpack:"programs_list_id"`
	}
	if err := c.call(wire.FunctionGetDefinedPrograms, nil, &resp); err != nil {
		return nil, err
	}
	ids, err := c.listItems(resp.ProgramsListID)
	if err != nil {
		return nil, err
	}

	out := make([]ProgramSummary, 0, len(ids))
	for _, id := range ids {
		var idResp struct {
			IdentifierStringID object.ID `msgpack:"identifier_string_id"`
		}
		if err := c.call(wire.FunctionGetProgramIdentifier, map[string]object.ID{"program_id": id}, &idResp); err != nil {
			return nil, err
		}
		identifier, err := c.ReadString(idResp.IdentifierStringID)
		if err != nil {
			return nil, err
		}
		out = append(out, ProgramSummary{ProgramID: id, Identifier: identifier})
	}
	return out, nil
}

// ProgramDetail is inspect program's full shape.
type ProgramDetail struct {
	ProgramSummary
	Directory          string    `json:"directory"`
	Executable         string    `json:"executable"`
	StartCondition     uint8     `json:"start_condition"`
	RepeatMode         uint8     `json:"repeat_mode"`
	LastProcessID      object.ID `json:"last_process_id"`
	LastSchedulerError string    `json:"last_scheduler_error,omitempty"`
}

// InspectProgram fetches a program's identity, command, schedule, and
// last-spawn/last-error bookkeeping.
func (c *Client) InspectProgram(id object.ID) (ProgramDetail, error) {
	var idResp struct {
		IdentifierStringID object.ID `msgpack:"identifier_string_id"`
	}
	if err := c.call(wire.FunctionGetProgramIdentifier, map[string]object.ID{"program_id": id}, &idResp); err != nil {
		return ProgramDetail{}, err
	}
	identifier, err := c.ReadString(idResp.IdentifierStringID)
	if err != nil {
		return ProgramDetail{}, err
	}

	var dirResp struct {
		DirectoryStringID object.ID `msgpack:"directory_string_id"`
	}
	if err := c.call(wire.FunctionGetProgramDirectory, map[string]object.ID{"program_id": id}, &dirResp); err != nil {
		return ProgramDetail{}, err
	}
	directory, err := c.ReadString(dirResp.DirectoryStringID)
	if err != nil {
		return ProgramDetail{}, err
	}

	var cmdResp struct {
		ExecutableStringID object.ID `msgpack:"executable_string_id"`
	}
	if err := c.call(wire.FunctionGetProgramCommand, map[string]object.ID{"program_id": id}, &cmdResp); err != nil {
		return ProgramDetail{}, err
	}
	executable, err := c.ReadString(cmdResp.ExecutableStringID)
	if err != nil {
		return ProgramDetail{}, err
	}

	var schedule struct {
		StartCondition uint8 `msgpack:"start_condition"`
		RepeatMode     uint8 `msgpack:"repeat_mode"`
	}
	if err := c.call(wire.FunctionGetProgramSchedule, map[string]object.ID{"program_id": id}, &schedule); err != nil {
		return ProgramDetail{}, err
	}

	var lastProc struct {
		ProcessID object.ID `msgpack:"process_id"`
	}
	if err := c.call(wire.FunctionGetLastSpawnedProgramProcess, map[string]object.ID{"program_id": id}, &lastProc); err != nil {
		return ProgramDetail{}, err
	}

	var lastErr struct {
		Timestamp       uint64    `msgpack:"timestamp"`
		MessageStringID object.ID `msgpack:"message_string_id"`
	}
	lastErrorString := ""
	if err := c.call(wire.FunctionGetLastProgramSchedulerError, map[string]object.ID{"program_id": id}, &lastErr); err == nil && lastErr.MessageStringID != object.NoID {
		if s, err := c.ReadString(lastErr.MessageStringID); err == nil {
			lastErrorString = s
		}
	}

	return ProgramDetail{
		ProgramSummary:     ProgramSummary{ProgramID: id, Identifier: identifier},
		Directory:          directory,
		Executable:         executable,
		StartCondition:     schedule.StartCondition,
		RepeatMode:         schedule.RepeatMode,
		LastProcessID:      lastProc.ProcessID,
		LastSchedulerError: lastErrorString,
	}, nil
}
