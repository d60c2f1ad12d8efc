package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePacket(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   *Packet
		hasErr bool
	}{
		{name: "bare type", line: "ping\n", want: &Packet{Type: "ping"}},
		{name: "crlf", line: "userConnected|7\r\n", want: &Packet{Type: "userConnected", Fields: []string{"7"}}},
		{name: "empty field kept", line: "newMessage|1|2|", want: &Packet{Type: "newMessage", Fields: []string{"1", "2", ""}}},
		{name: "escaped pipe", line: `newMessage|1|2|a\|b`, want: &Packet{Type: "newMessage", Fields: []string{"1", "2", "a|b"}}},
		{name: "escaped newline", line: `newMessage|1|2|a\nb\r`, want: &Packet{Type: "newMessage", Fields: []string{"1", "2", "a\nb\r"}}},
		{name: "unknown escape", line: `x|a\tb`, want: &Packet{Type: "x", Fields: []string{`a\tb`}}},
		{name: "empty", line: "\n", hasErr: true},
		{name: "no type", line: "|1", hasErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePacket(tt.line)
			if tt.hasErr {
				assert.ErrorIs(t, err, ErrInvalidPacket)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEscapeRoundTrip(t *testing.T) {
	message := "Hello|World,Test\\Backslash\nNewline\r"

	line := FormatPacket("newMessage", "1", "2", message)
	assert.Equal(t, "newMessage|1|2|Hello\\|World\\,Test\\\\Backslash\\nNewline\\r\n", line)

	pkt, err := ParsePacket(line)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", message}, pkt.Fields)
}
