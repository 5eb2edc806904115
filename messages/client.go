// Package messages defines the websocket envelope: parsing and validation of
// inbound messages and the outbound messages sent to clients.
package messages

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/room4-2/live-persona/agent"
	"github.com/room4-2/live-persona/audio"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
)

// ErrMalformed is returned for envelopes that cannot be decoded
var ErrMalformed = errors.New("malformed message")

// Inbound message types
const (
	TypeAddClientToGroup         = "add-client-to-group"
	TypeRemoveClientFromGroup    = "remove-client-from-group"
	TypeRequestGroupInfo         = "request-group-info"
	TypeFetchHistoryList         = "fetch-history-list"
	TypeFetchAndSetHistory       = "fetch-and-set-history"
	TypeCreateNewHistory         = "create-new-history"
	TypeDeleteHistory            = "delete-history"
	TypeInterruptSignal          = "interrupt-signal"
	TypeMicAudioData             = "mic-audio-data"
	TypeRawAudioData             = "raw-audio-data"
	TypeMicAudioEnd              = "mic-audio-end"
	TypeTextInput                = "text-input"
	TypeAISpeakSignal            = "ai-speak-signal"
	TypeFetchConfigs             = "fetch-configs"
	TypeSwitchConfig             = "switch-config"
	TypeFetchBackgrounds         = "fetch-backgrounds"
	TypeAudioPlayStart           = "audio-play-start"
	TypeExpressionCommand        = "expression-command"
	TypeMotionCommand            = "motion-command"
	TypeTextGenerationRequest    = "text-generation-request"
	TypeSetBackendMode           = "set-backend-mode"
	TypeGetBackendMode           = "get-backend-mode"
	TypeGetCharacterState        = "get-character-state"
	TypeFrontendPlaybackComplete = "frontend-playback-complete"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Envelope is a parsed inbound message. The payload fields sit next to the
// type discriminator.
type Envelope struct {
	Type string
	raw  []byte
}

// Parse reads the discriminator of a raw message
func Parse(raw []byte) (Envelope, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := sonic.Unmarshal(raw, &head); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return Envelope{Type: head.Type, raw: raw}, nil
}

// Decode unmarshals the payload into v and validates it. Validation errors
// read "<field> is required" or "<field> is invalid".
func (e Envelope) Decode(v any) error {
	if err := sonic.Unmarshal(e.raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return fmt.Errorf("%s is required", fe.Field())
			}
			return fmt.Errorf("%s is invalid", fe.Field())
		}
		return err
	}
	return nil
}

// AddClientPayload is the body of add-client-to-group
type AddClientPayload struct {
	InviteeUID string `json:"invitee_uid" validate:"required"`
}

// RemoveClientPayload is the body of remove-client-from-group
type RemoveClientPayload struct {
	TargetUID string `json:"target_uid" validate:"required"`
}

// HistoryPayload is the body of fetch-and-set-history and delete-history
type HistoryPayload struct {
	HistoryUID string `json:"history_uid" validate:"required"`
}

// MicAudioPayload is the body of mic-audio-data
type MicAudioPayload struct {
	Audio []float32 `json:"audio"`
}

// RawAudioPayload is the body of raw-audio-data
type RawAudioPayload struct {
	Audio    RawAudio `json:"audio"`
	Encoding string   `json:"encoding" validate:"omitempty,oneof=pcm16 mulaw"`
}

// Samples decodes the chunk according to its encoding
func (p RawAudioPayload) Samples() []float32 {
	if p.Audio.Samples != nil {
		return p.Audio.Samples
	}
	if p.Encoding == "mulaw" {
		return audio.DecodeMuLaw(p.Audio.Bytes)
	}
	return audio.DecodePCM16(p.Audio.Bytes)
}

// RawAudio accepts either a JSON array of samples or a base64 string of
// encoded bytes.
type RawAudio struct {
	Samples []float32
	Bytes   []byte
}

// Empty reports whether the chunk carries no audio
func (r RawAudio) Empty() bool {
	return len(r.Samples) == 0 && len(r.Bytes) == 0
}

// UnmarshalJSON implements json.Unmarshaler
func (r *RawAudio) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		return nil
	case strings.HasPrefix(trimmed, "["):
		return sonic.Unmarshal(data, &r.Samples)
	case strings.HasPrefix(trimmed, `"`):
		var encoded string
		if err := sonic.Unmarshal(data, &encoded); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("invalid base64 audio: %w", err)
		}
		r.Bytes = decoded
		return nil
	default:
		return errors.New("audio must be a sample array or a base64 string")
	}
}

// TriggerPayload is the body of mic-audio-end, text-input and ai-speak-signal
type TriggerPayload struct {
	Text   string        `json:"text"`
	Images []agent.Image `json:"images"`
}

// InterruptPayload carries the part of the reply the user heard
type InterruptPayload struct {
	Text string `json:"text"`
}

// SwitchConfigPayload is the body of switch-config
type SwitchConfigPayload struct {
	File string `json:"file" validate:"required"`
}

// AudioPlayStartPayload is the body of audio-play-start
type AudioPlayStartPayload struct {
	DisplayText *DisplayText `json:"display_text"`
}

// ExpressionPayload is the body of expression-command
type ExpressionPayload struct {
	ExpressionID *int `json:"expression_id" validate:"required"`
	Duration     int  `json:"duration" validate:"gte=0"`
	Priority     int  `json:"priority"`
}

// MotionPayload is the body of motion-command
type MotionPayload struct {
	MotionGroup *string `json:"motion_group" validate:"required"`
	MotionIndex *int    `json:"motion_index" validate:"required"`
	Loop        bool    `json:"loop"`
	Priority    int     `json:"priority"`
}

// TextGenerationPayload is the body of text-generation-request
type TextGenerationPayload struct {
	Prompt  string         `json:"prompt" validate:"required"`
	Context map[string]any `json:"context"`
}

// BackendModePayload is the body of set-backend-mode
type BackendModePayload struct {
	Mode string `json:"mode"`
}
