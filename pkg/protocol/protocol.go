// Package protocol defines the chat wire format: message framing and the
// keyword frames exchanged during authentication.
//
// Every logical message is one UTF-8 text payload sent as a frame:
//
//	[4-byte big-endian length][payload]
//
// Length-prefixing makes framing collision-free for arbitrary payload text,
// including the reserved command prefixes below.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// MaxFrameSize is the maximum framed payload size (64KB).
const MaxFrameSize = 65536

// Keyword prefixes for authentication-phase frames ("KEYWORD: payload").
const (
	KeywordUsername = "USERNAME: "
	KeywordPassword = "PASSWORD: "
	KeywordRegister = "REGISTER: "
	KeywordClient   = "CLIENT: "
)

// Server responses during the authentication exchange.
const (
	PromptKnownUser   = "Existing user."
	PromptUnknownUser = "Username not recognized."
	LoginOK           = "Login successful"
	LoginFailed       = "Login failed. Incorrect password."
	RegisterOK        = "Registration successful."
)

// Reserved client commands recognized after admission.
const (
	CmdList         = "-list"
	CmdSendToPrefix = "-sendto "
)

// WriteFrame writes one length-prefixed frame carrying text.
func WriteFrame(w io.Writer, text string) error {
	data := []byte(text)
	if len(data) > MaxFrameSize {
		return fmt.Errorf("protocol: frame too large: %d bytes", len(data))
	}

	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(data))) //nolint:gosec // length already bounds-checked above
	if _, err := w.Write(lenBuf); err != nil {
		return fmt.Errorf("protocol: write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("protocol: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and returns its payload text.
// A connection closed cleanly before any byte of a new frame returns io.EOF;
// a close mid-frame returns io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (string, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		if err == io.EOF {
			return "", io.EOF
		}
		return "", fmt.Errorf("protocol: read length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length > MaxFrameSize {
		return "", fmt.Errorf("protocol: frame too large: %d bytes", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", fmt.Errorf("protocol: read payload: %w", err)
	}
	return string(data), nil
}

// CutKeyword returns the payload of a "KEYWORD: payload" frame and whether the
// frame carried that keyword.
func CutKeyword(frame, keyword string) (string, bool) {
	return strings.CutPrefix(frame, keyword)
}

// CommandKind discriminates the parsed variants of a post-admission client line.
type CommandKind int

const (
	KindBroadcast CommandKind = iota
	KindListRoster
	KindDirectMessage
)

// Command is the tagged variant produced by parsing one client line.
type Command struct {
	Kind   CommandKind
	Target string // direct message recipient, KindDirectMessage only
	Text   string // message body, KindBroadcast and KindDirectMessage
}

// ParseCommand classifies one incoming line from an admitted session.
// Exact "-list" requests the roster; "-sendto <user> <text>" addresses a
// single recipient; anything else is a broadcast. A "-sendto" line without a
// body falls through to broadcast so the malformed command is at least visible
// to the sender's peers rather than silently swallowed.
func ParseCommand(line string) Command {
	if line == CmdList {
		return Command{Kind: KindListRoster}
	}
	if rest, ok := strings.CutPrefix(line, CmdSendToPrefix); ok {
		target, text, found := strings.Cut(rest, " ")
		if found && target != "" {
			return Command{Kind: KindDirectMessage, Target: target, Text: text}
		}
	}
	return Command{Kind: KindBroadcast, Text: line}
}
