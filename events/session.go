package events

import "github.com/codewandler/rtsession-go/tool"

type AudioFormat string

const (
	AudioFormatPCM16 AudioFormat = "pcm16"
)

const (
	ModalityText  = "text"
	ModalityAudio = "audio"
)

type Session struct {
	ID                      string                   `json:"id,omitempty"`
	Object                  string                   `json:"object,omitempty"`
	ExpiresAt               int64                    `json:"expires_at,omitempty"`
	Model                   string                   `json:"model,omitempty"`
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
	ToolChoice              string                   `json:"tool_choice,omitempty"`
	Temperature             float64                  `json:"temperature,omitempty"`
}

// SessionUpdate is always sent in full. TurnDetection has no omitempty on
// purpose: a nil value is serialized as null, which switches the server to
// manual turn handling.
type SessionUpdate struct {
	Modalities              []string                 `json:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty"`
	InputAudioFormat        AudioFormat              `json:"input_audio_format,omitempty"`
	OutputAudioFormat       AudioFormat              `json:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection"`
	Tools                   []tool.Tool              `json:"tools,omitempty"`
	ToolChoice              tool.Choice              `json:"tool_choice,omitempty"`
	Temperature             float64                  `json:"temperature,omitempty"`
	MaxResponseOutputTokens string                   `json:"max_response_output_tokens,omitempty"`
}

type InputAudioTranscription struct {
	Model string `json:"model"`
}

// TurnDetection holds the VAD configuration.
type TurnDetection struct {
	Type              string  `json:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response,omitempty"`
	InterruptResponse bool    `json:"interrupt_response,omitempty"`
}
