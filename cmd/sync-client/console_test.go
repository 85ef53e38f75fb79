package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secureconnect-sync/internal/domain"
	"secureconnect-sync/internal/msgsync"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    command
		wantErr bool
	}{
		{line: "", want: command{}},
		{line: "call bob", want: command{name: "call", peer: "bob", kind: domain.MediaAudio}},
		{line: "CALL bob Video", want: command{name: "call", peer: "bob", kind: domain.MediaVideo}},
		{line: "call bob hologram", wantErr: true},
		{line: "call", wantErr: true},
		{line: "msg bob  hello   there ", want: command{name: "msg", peer: "bob", text: "hello   there"}},
		{line: "msg bob", wantErr: true},
		{line: "open bob", want: command{name: "open", peer: "bob"}},
		{line: "accept", want: command{name: "accept"}},
		{line: "dance", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatEntry(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	entry := msgsync.Entry{
		Message: domain.Message{SenderID: "alice", Content: "hi", Timestamp: ts, Status: domain.StatusDelivered},
		Origin:  domain.OriginServerConfirmed,
	}

	assert.Equal(t, "[12:00:00] alice: hi (delivered)", formatEntry(entry))

	entry.Origin = domain.OriginLocalOptimistic
	assert.Equal(t, "[12:00:00] alice: hi (sending)", formatEntry(entry))

	entry.Failed = true
	assert.Equal(t, "[12:00:00] alice: hi (failed)", formatEntry(entry))
}
