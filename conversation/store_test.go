package conversation

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/rtsession-go/events"
)

func serverEvent[T any](t *testing.T, raw string) events.ServerEvent {
	t.Helper()
	evt, err := events.ParseServerEvent([]byte(raw))
	require.NoError(t, err)
	require.IsType(t, new(T), evt)
	return evt
}

func apply(t *testing.T, s *Store, evt events.ServerEvent) (*Item, *Delta) {
	t.Helper()
	it, d, err := s.Apply(evt)
	require.NoError(t, err)
	return it, d
}

func assistantItem(t *testing.T, s *Store, id string) *Item {
	t.Helper()
	it, _ := apply(t, s, serverEvent[events.ConversationItemCreatedEvent](t,
		`{"type":"conversation.item.created","item":{"id":"`+id+`","type":"message","role":"assistant","status":"in_progress","content":[]}}`))
	apply(t, s, serverEvent[events.ResponseContentPartAddedEvent](t,
		`{"type":"response.content_part.added","item_id":"`+id+`","content_index":0,"part":{"type":"audio","transcript":""}}`))
	return it
}

func audioDelta(id string, pcm []byte) string {
	return `{"type":"response.audio.delta","item_id":"` + id + `","content_index":0,"delta":"` + base64.StdEncoding.EncodeToString(pcm) + `"}`
}

func TestStoreItemCreatedIsIdempotent(t *testing.T) {
	s := NewStore()
	raw := `{"type":"conversation.item.created","item":{"id":"item_1","type":"message","role":"user","content":[{"type":"input_text","text":"hi"}]}}`

	first, _ := apply(t, s, serverEvent[events.ConversationItemCreatedEvent](t, raw))
	second, _ := apply(t, s, serverEvent[events.ConversationItemCreatedEvent](t, raw))

	require.Same(t, first, second)
	require.Equal(t, 1, s.Len())
	require.Equal(t, "hi", first.Formatted.Text)
	require.Equal(t, RoleUser, first.Role)
}

func TestStoreStreamsAssistantDeltas(t *testing.T) {
	s := NewStore()
	assistantItem(t, s, "item_a")

	it, d := apply(t, s, serverEvent[events.ResponseDeltaEvent](t, audioDelta("item_a", []byte{1, 0, 2, 0})))
	require.Equal(t, []byte{1, 0, 2, 0}, d.Audio)
	apply(t, s, serverEvent[events.ResponseDeltaEvent](t, audioDelta("item_a", []byte{3, 0})))
	require.Equal(t, []byte{1, 0, 2, 0, 3, 0}, it.Formatted.Audio)

	_, d = apply(t, s, serverEvent[events.ResponseDeltaEvent](t,
		`{"type":"response.audio_transcript.delta","item_id":"item_a","content_index":0,"delta":"Hel"}`))
	require.Equal(t, "Hel", d.Transcript)
	apply(t, s, serverEvent[events.ResponseDeltaEvent](t,
		`{"type":"response.audio_transcript.delta","item_id":"item_a","content_index":0,"delta":"lo"}`))
	require.Equal(t, "Hello", it.Formatted.Transcript)
	require.Equal(t, "Hello", it.Content[0].Transcript)

	apply(t, s, serverEvent[events.ResponseOutputItemDoneEvent](t,
		`{"type":"response.output_item.done","item":{"id":"item_a","type":"message","status":"completed"}}`))
	require.Equal(t, StatusCompleted, it.Status)
}

func TestStoreDeltaForUnknownItem(t *testing.T) {
	s := NewStore()
	_, _, err := s.Apply(serverEvent[events.ResponseDeltaEvent](t, audioDelta("missing", []byte{0, 0})))
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestStoreTruncateCutsAudioAndTranscript(t *testing.T) {
	s := NewStore()
	it := assistantItem(t, s, "item_a")
	apply(t, s, serverEvent[events.ResponseDeltaEvent](t, audioDelta("item_a", make([]byte, 4800))))
	it.Formatted.Transcript = "long answer"

	file, err := it.File()
	require.NoError(t, err)
	require.Len(t, file, 44+4800)

	apply(t, s, serverEvent[events.ConversationItemTruncatedEvent](t,
		`{"type":"conversation.item.truncated","item_id":"item_a","content_index":0,"audio_end_ms":50}`))

	require.Len(t, it.Formatted.Audio, 2400)
	require.Empty(t, it.Formatted.Transcript)
	require.Nil(t, it.Formatted.File)

	file, err = it.File()
	require.NoError(t, err)
	require.Len(t, file, 44+2400)
}

func TestItemFileIsCached(t *testing.T) {
	it := &Item{Formatted: Formatted{Audio: []byte{1, 0, 2, 0}}}

	a, err := it.File()
	require.NoError(t, err)
	b, err := it.File()
	require.NoError(t, err)
	require.Same(t, &a[0], &b[0])

	it.Formatted.Audio = append(it.Formatted.Audio, 3, 0)
	c, err := it.File()
	require.NoError(t, err)
	require.Len(t, c, 44+6)

	empty := &Item{}
	f, err := empty.File()
	require.NoError(t, err)
	require.Nil(t, f)
}

func TestStoreFunctionCall(t *testing.T) {
	s := NewStore()
	it, _ := apply(t, s, serverEvent[events.ConversationItemCreatedEvent](t,
		`{"type":"conversation.item.created","item":{"id":"item_f","type":"function_call","call_id":"call_1","name":"set_memory","arguments":""}}`))
	require.Equal(t, StatusInProgress, it.Status)

	_, d := apply(t, s, serverEvent[events.ResponseDeltaEvent](t,
		`{"type":"response.function_call_arguments.delta","item_id":"item_f","call_id":"call_1","delta":"{\"key\":"}`))
	require.Equal(t, `{"key":`, d.Arguments)
	apply(t, s, serverEvent[events.ResponseDeltaEvent](t,
		`{"type":"response.function_call_arguments.delta","item_id":"item_f","call_id":"call_1","delta":"\"a\"}"}`))
	require.Equal(t, `{"key":"a"}`, it.Formatted.Tool.Arguments)

	out, d := s.AddFunctionOutput(it, `{"ok":true}`)
	require.Equal(t, "call_1", out.ID)
	require.Equal(t, TypeFunctionCallOutput, out.Type)
	require.Equal(t, `{"ok":true}`, out.Formatted.Output)
	require.Equal(t, "set_memory", d.FunctionOutput.Name)

	echo, _ := apply(t, s, serverEvent[events.ConversationItemCreatedEvent](t,
		`{"type":"conversation.item.created","item":{"id":"call_1","type":"function_call_output","call_id":"call_1","output":"{\"ok\":true}"}}`))
	require.Same(t, out, echo)
	require.Equal(t, 2, s.Len())
}

func TestStoreAttachesSpeechAudio(t *testing.T) {
	s := NewStore()
	// 200ms of input at 24 kHz
	input := make([]byte, 9600)
	for i := range input {
		input[i] = byte(i)
	}
	s.AppendInputAudio(input)

	apply(t, s, serverEvent[events.SpeechStartedEvent](t,
		`{"type":"input_audio_buffer.speech_started","audio_start_ms":50,"item_id":"item_u"}`))
	apply(t, s, serverEvent[events.SpeechStoppedEvent](t,
		`{"type":"input_audio_buffer.speech_stopped","audio_end_ms":150,"item_id":"item_u"}`))
	apply(t, s, serverEvent[events.InputAudioTranscriptionCompletedEvent](t,
		`{"type":"conversation.item.input_audio_transcription.completed","item_id":"item_u","content_index":0,"transcript":"hey"}`))

	it, _ := apply(t, s, serverEvent[events.ConversationItemCreatedEvent](t,
		`{"type":"conversation.item.created","item":{"id":"item_u","type":"message","role":"user","content":[{"type":"input_audio"}]}}`))

	require.Equal(t, input[2400:7200], it.Formatted.Audio)
	require.Equal(t, "hey", it.Formatted.Transcript)
}

func TestStoreCommittedInputGoesToNextUserAudioItem(t *testing.T) {
	s := NewStore()
	require.False(t, s.PendingInputAudio())

	s.AppendInputAudio([]byte{1, 0, 2, 0})
	require.True(t, s.PendingInputAudio())
	s.CommitInputAudio()
	require.False(t, s.PendingInputAudio())

	it, _ := apply(t, s, serverEvent[events.ConversationItemCreatedEvent](t,
		`{"type":"conversation.item.created","item":{"id":"item_u","type":"message","role":"user","content":[{"type":"input_audio"}]}}`))
	require.Equal(t, []byte{1, 0, 2, 0}, it.Formatted.Audio)
}

func TestStoreDelete(t *testing.T) {
	s := NewStore()
	assistantItem(t, s, "item_a")
	assistantItem(t, s, "item_b")

	_, ok := s.Delete("item_a")
	require.True(t, ok)
	_, ok = s.Delete("item_a")
	require.False(t, ok)

	it, _ := apply(t, s, serverEvent[events.ConversationItemDeletedEvent](t,
		`{"type":"conversation.item.deleted","item_id":"item_a"}`))
	require.Nil(t, it)

	items := s.Items()
	require.Len(t, items, 1)
	require.Equal(t, "item_b", items[0].ID)
}

func TestItemClone(t *testing.T) {
	it := &Item{
		ID:        "item_a",
		Formatted: Formatted{Audio: []byte{1, 2}, Tool: &ToolCall{Name: "x"}},
	}
	c := it.Clone()
	c.Formatted.Audio = append(c.Formatted.Audio, 3)
	c.Formatted.Tool.Name = "y"

	it.Formatted.Audio = append(it.Formatted.Audio[:2], 4)
	require.Equal(t, []byte{1, 2, 3}, c.Formatted.Audio)
	require.Equal(t, "x", it.Formatted.Tool.Name)
}
