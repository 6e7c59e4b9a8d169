package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_ValidRecords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			name: "thinking fragment",
			raw:  `{"type":"thinking","content":"hmm"}`,
			want: Event{Type: EventThinking, Content: "hmm"},
		},
		{
			name: "answer fragment",
			raw:  `{"type":"answer","content":"hello"}`,
			want: Event{Type: EventAnswer, Content: "hello"},
		},
		{
			name: "empty answer fragment is legal",
			raw:  `{"type":"answer","content":""}`,
			want: Event{Type: EventAnswer},
		},
		{
			name: "tool_call with id and args",
			raw:  `{"type":"tool_call","tool_call_id":"c1","tool_name":"scan_url","tool_args":{"url":"https://x"}}`,
			want: Event{Type: EventToolCall, ToolCallID: "c1", ToolName: "scan_url", ToolArgs: []byte(`{"url":"https://x"}`)},
		},
		{
			name: "tool_call without id",
			raw:  `{"type":"tool_call","tool_name":"scan_url"}`,
			want: Event{Type: EventToolCall, ToolName: "scan_url"},
		},
		{
			name: "tool_result by name only",
			raw:  `{"type":"tool_result","tool_name":"scan_url","content":"clean"}`,
			want: Event{Type: EventToolResult, ToolName: "scan_url", Content: "clean"},
		},
		{
			name: "tool_result failure",
			raw:  `{"type":"tool_result","tool_name":"scan_url","content":"timeout","is_error":true}`,
			want: Event{Type: EventToolResult, ToolName: "scan_url", Content: "timeout", IsError: true},
		},
		{
			name: "done with thread id",
			raw:  `{"type":"done","thread_id":"t-1","tool_calls":["scan_url"]}`,
			want: Event{Type: EventDone, ThreadID: "t-1", ToolCalls: []string{"scan_url"}},
		},
		{
			name: "bare done",
			raw:  `{"type":"done"}`,
			want: Event{Type: EventDone},
		},
		{
			name: "error event",
			raw:  `{"type":"error","error":"model overloaded"}`,
			want: Event{Type: EventError, Error: "model overloaded"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want.Type, got.Type)
			assert.Equal(t, tt.want.Content, got.Content)
			assert.Equal(t, tt.want.ToolCallID, got.ToolCallID)
			assert.Equal(t, tt.want.ToolName, got.ToolName)
			assert.Equal(t, tt.want.ThreadID, got.ThreadID)
			assert.Equal(t, tt.want.ToolCalls, got.ToolCalls)
			assert.Equal(t, tt.want.Error, got.Error)
			assert.Equal(t, tt.want.IsError, got.IsError)
			if tt.want.ToolArgs != nil {
				assert.JSONEq(t, string(tt.want.ToolArgs), string(got.ToolArgs))
			}
		})
	}
}

func TestDecode_MalformedRecords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid JSON", `{"type":"answer"`},
		{"missing type tag", `{"content":"orphan"}`},
		{"unknown type", `{"type":"telemetry","content":"x"}`},
		{"tool_call without name", `{"type":"tool_call","tool_args":{}}`},
		{"tool_result without any key", `{"type":"tool_result","content":"x"}`},
		{"error without message", `{"type":"error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.True(t, errors.Is(err, ErrMalformed))
			assert.NotEmpty(t, de.Reason)
		})
	}
}

func TestDecode_RawPreviewIsBounded(t *testing.T) {
	raw := `{"type":"bogus","content":"` + strings.Repeat("a", 4096) + `"}`

	_, err := Decode([]byte(raw))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.LessOrEqual(t, len(de.Raw), maxRawPreview+len("..."))
}

func TestEncode_RoundTrip(t *testing.T) {
	ev := ToolCall("c1", "scan_url", []byte(`{"url":"https://x"}`))

	data, err := Encode(ev)
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ev.Type, back.Type)
	assert.Equal(t, ev.ToolCallID, back.ToolCallID)
	assert.Equal(t, ev.ToolName, back.ToolName)
}

func TestEvent_Terminal(t *testing.T) {
	assert.True(t, Done("", nil).Terminal())
	assert.True(t, Errorf("boom").Terminal())
	assert.False(t, Answer("x").Terminal())
	assert.False(t, Thinking("x").Terminal())
	assert.False(t, ToolCall("", "scan", nil).Terminal())
}

func TestRequest_Normalize(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		r := Request{Message: "hi"}
		require.NoError(t, r.Normalize())
		assert.Equal(t, ThreadNew, r.ThreadID)
		assert.Equal(t, ModeSimple, r.Mode)
	})

	t.Run("empty message rejected", func(t *testing.T) {
		r := Request{Message: "   "}
		assert.ErrorIs(t, r.Normalize(), ErrEmptyMessage)
	})

	t.Run("invalid mode rejected", func(t *testing.T) {
		r := Request{Message: "hi", Mode: "ludicrous"}
		assert.Error(t, r.Normalize())
	})
}
