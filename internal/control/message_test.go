package control

import (
	"strings"
	"testing"
)

func TestEncodeProducesOneNewlineTerminatedRecord(t *testing.T) {
	t.Parallel()

	record, err := Play("/media/test1.mp4", 20).Encode()
	if err != nil {
		t.Fatalf("encode play: %v", err)
	}
	if !strings.HasSuffix(string(record), "\n") {
		t.Fatalf("record %q not newline terminated", record)
	}
	if strings.Count(string(record), "\n") != 1 {
		t.Fatalf("record %q must contain exactly one newline", record)
	}

	msg, err := Decode(record)
	if err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if msg.Command != CommandPlay {
		t.Fatalf("command = %q, want %q", msg.Command, CommandPlay)
	}
	if msg.File != "/media/test1.mp4" {
		t.Fatalf("file = %q", msg.File)
	}
	if msg.Duration != 20 {
		t.Fatalf("duration = %d, want 20", msg.Duration)
	}
}

func TestValidateRejectsMalformedMessages(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		msg  Message
	}{
		{name: "empty command", msg: Message{}},
		{name: "unknown command", msg: Message{Command: "REWIND"}},
		{name: "play without file", msg: Message{Command: CommandPlay}},
		{name: "negative duration", msg: Message{Command: CommandPlay, File: "/a.mp4", Duration: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := tc.msg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestControlCommandsCarryNoPayload(t *testing.T) {
	t.Parallel()

	for _, msg := range []Message{Ping(), Stop(), Exit()} {
		record, err := msg.Encode()
		if err != nil {
			t.Fatalf("encode %s: %v", msg.Command, err)
		}
		if strings.Contains(string(record), "file") || strings.Contains(string(record), "duration") {
			t.Fatalf("%s record %q must omit payload fields", msg.Command, record)
		}
	}
}

func TestDecodeRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	if _, err := Decode([]byte("not-json\n")); err == nil {
		t.Fatal("expected decode error")
	}
}
