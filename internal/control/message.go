// Package control implements the player control channel: one JSON command
// record and one short acknowledgment per unix-socket connection.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// CommandPing probes a running instance for liveness.
	CommandPing = "PING"
	// CommandPlay asks the instance to play one media file.
	CommandPlay = "PLAY"
	// CommandStop stops playback and returns to the background image.
	CommandStop = "STOP"
	// CommandExit asks the instance to shut down cleanly.
	CommandExit = "EXIT"
)

const (
	// AckOK is the acknowledgment for an accepted command.
	AckOK = "OK"
	// AckError is the acknowledgment for a rejected command.
	AckError = "ERROR"
)

// Message is one control command. File and Duration are only meaningful for
// PLAY; Duration is whole seconds, zero means play to end of file.
type Message struct {
	Command  string `json:"command"`
	File     string `json:"file,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

// Ping constructs a liveness probe message.
func Ping() Message {
	return Message{Command: CommandPing}
}

// Play constructs a playback request for one media file.
func Play(file string, durationSeconds int) Message {
	return Message{Command: CommandPlay, File: file, Duration: durationSeconds}
}

// Stop constructs a stop-playback request.
func Stop() Message {
	return Message{Command: CommandStop}
}

// Exit constructs a clean-shutdown request.
func Exit() Message {
	return Message{Command: CommandExit}
}

// Validate checks structural message validity before encoding.
func (m Message) Validate() error {
	switch strings.TrimSpace(m.Command) {
	case "":
		return errors.New("command is required")
	case CommandPing, CommandStop, CommandExit:
		return nil
	case CommandPlay:
		if strings.TrimSpace(m.File) == "" {
			return errors.New("play command requires a file")
		}
		if m.Duration < 0 {
			return fmt.Errorf("play duration %d must not be negative", m.Duration)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", m.Command)
	}
}

// Encode renders the message as one newline-terminated JSON record.
func (m Message) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s command: %w", m.Command, err)
	}
	return append(payload, '\n'), nil
}

// Decode parses one JSON record into a Message and validates it.
func Decode(record []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(record, &msg); err != nil {
		return Message{}, fmt.Errorf("decode command record: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}
