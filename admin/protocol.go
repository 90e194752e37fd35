// Package admin implements the admin RPC surface: length-prefixed,
// JSON-framed requests/responses over a bare TCP socket, exposing
// create/list/request/update/delete/set_program against the rule store
// and active-program cell.
package admin

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// DefaultAddr is the admin surface's default bind address.
const DefaultAddr = "127.0.0.1:50050"

// Method names for the admin RPC surface.
const (
	MethodCreate     = "create"
	MethodList       = "list"
	MethodRequest    = "request"
	MethodUpdate     = "update"
	MethodDelete     = "delete"
	MethodSetProgram = "set_program"
)

// Request is one admin RPC call.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response wraps a call's result or its error.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *AnyhowError    `json:"error,omitempty"`
}

// AnyhowError is the wire error shape: a single free-text message.
type AnyhowError struct {
	Anyhow string `json:"Anyhow"`
}

func (e *AnyhowError) Error() string { return e.Anyhow }

// writeFrame writes a 4-byte big-endian length prefix followed by the
// JSON encoding of v. Hand-rolled: nothing in the dependency set frames
// arbitrary JSON over a bare socket like this (see DESIGN.md).
func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("admin: encode frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("admin: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("admin: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed JSON frame into v.
func readFrame(r io.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("admin: read frame body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("admin: decode frame: %w", err)
	}
	return nil
}

// Params payloads, one per method.
type CreateParams struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type RequestParams struct {
	ID int64 `json:"id"`
}

type UpdateParams struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

type DeleteParams struct {
	ID int64 `json:"id"`
}

type SetProgramParams struct {
	ID int64 `json:"id"`
}

// RuleFileView is the wire shape returned by list/request: the full
// record, not just {id, name}. create returns only the new id.
type RuleFileView struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}
