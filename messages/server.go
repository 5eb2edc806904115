package messages

import (
	"github.com/room4-2/live-persona/agent"
	"github.com/room4-2/live-persona/catalog"
	"github.com/room4-2/live-persona/history"
)

// Outbound message types
const (
	TypeFullText               = "full-text"
	TypeSetModelAndConf        = "set-model-and-conf"
	TypeControl                = "control"
	TypeGroupUpdate            = "group-update"
	TypeGroupOperationResult   = "group-operation-result"
	TypeHistoryList            = "history-list"
	TypeHistoryData            = "history-data"
	TypeNewHistoryCreated      = "new-history-created"
	TypeHistoryDeleted         = "history-deleted"
	TypeConfigFiles            = "config-files"
	TypeConfigSwitched         = "config-switched"
	TypeBackgroundFiles        = "background-files"
	TypeUserInputTranscription = "user-input-transcription"
	TypeAudio                  = "audio"
	TypeBackendSynthComplete   = "backend-synth-complete"
	TypeExpressionAck          = "expression-ack"
	TypeMotionAck              = "motion-ack"
	TypeTextGenerationChunk    = "text-generation-chunk"
	TypeTextGenerationResponse = "text-generation-response"
	TypeBackendModeSet         = "backend-mode-set"
	TypeBackendMode            = "backend-mode"
	TypeCharacterState         = "character-state"
	TypeError                  = "error"
)

// Control signal texts
const (
	ControlStartMic    = "start-mic"
	ControlInterrupt   = "interrupt"
	ControlMicAudioEnd = "mic-audio-end"
	ControlChainStart  = "conversation-chain-start"
	ControlChainEnd    = "conversation-chain-end"
)

// ConversationInterrupted is the text of the interrupt-signal sent to clients
const ConversationInterrupted = "conversation-interrupted"

// DefaultSliceLength is the volume slice length in milliseconds
const DefaultSliceLength = 20

// Text is any message that only carries a text field
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewFullText creates a full-text message
func NewFullText(text string) Text {
	return Text{Type: TypeFullText, Text: text}
}

// NewControl creates a control signal
func NewControl(text string) Text {
	return Text{Type: TypeControl, Text: text}
}

// NewTranscription echoes the recognized user speech
func NewTranscription(text string) Text {
	return Text{Type: TypeUserInputTranscription, Text: text}
}

// NewInterruptSignal tells a client its conversation was cut short
func NewInterruptSignal() Text {
	return Text{Type: TypeInterruptSignal, Text: ConversationInterrupted}
}

// SetModelAndConf describes the model and character a client should render
type SetModelAndConf struct {
	Type      string         `json:"type"`
	ModelInfo map[string]any `json:"model_info"`
	ConfName  string         `json:"conf_name"`
	ConfUID   string         `json:"conf_uid"`
	ClientUID string         `json:"client_uid"`
}

// NewSetModelAndConf creates a set-model-and-conf message
func NewSetModelAndConf(modelInfo map[string]any, confName, confUID, clientUID string) SetModelAndConf {
	return SetModelAndConf{
		Type:      TypeSetModelAndConf,
		ModelInfo: modelInfo,
		ConfName:  confName,
		ConfUID:   confUID,
		ClientUID: clientUID,
	}
}

// GroupUpdate reports the recipient's group
type GroupUpdate struct {
	Type    string   `json:"type"`
	Members []string `json:"members"`
	IsOwner bool     `json:"is_owner"`
}

// NewGroupUpdate creates a group-update message; nil members become []
func NewGroupUpdate(members []string, isOwner bool) GroupUpdate {
	if members == nil {
		members = []string{}
	}
	return GroupUpdate{Type: TypeGroupUpdate, Members: members, IsOwner: isOwner}
}

// Result reports the outcome of an operation
type Result struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewGroupOperationResult creates a group-operation-result message
func NewGroupOperationResult(success bool, message string) Result {
	return Result{Type: TypeGroupOperationResult, Success: success, Message: message}
}

// HistoryList lists stored histories
type HistoryList struct {
	Type      string            `json:"type"`
	Histories []history.Summary `json:"histories"`
}

// NewHistoryList creates a history-list message
func NewHistoryList(histories []history.Summary) HistoryList {
	if histories == nil {
		histories = []history.Summary{}
	}
	return HistoryList{Type: TypeHistoryList, Histories: histories}
}

// HistoryData carries the messages of one history
type HistoryData struct {
	Type     string            `json:"type"`
	Messages []history.Message `json:"messages"`
}

// NewHistoryData creates a history-data message
func NewHistoryData(msgs []history.Message) HistoryData {
	if msgs == nil {
		msgs = []history.Message{}
	}
	return HistoryData{Type: TypeHistoryData, Messages: msgs}
}

// HistoryRef points at one history
type HistoryRef struct {
	Type       string `json:"type"`
	Success    *bool  `json:"success,omitempty"`
	HistoryUID string `json:"history_uid"`
}

// NewHistoryCreated creates a new-history-created message
func NewHistoryCreated(uid string) HistoryRef {
	return HistoryRef{Type: TypeNewHistoryCreated, HistoryUID: uid}
}

// NewHistoryDeleted creates a history-deleted message
func NewHistoryDeleted(success bool, uid string) HistoryRef {
	return HistoryRef{Type: TypeHistoryDeleted, Success: &success, HistoryUID: uid}
}

// ConfigFiles lists alternative character configs
type ConfigFiles struct {
	Type    string               `json:"type"`
	Configs []catalog.ConfigFile `json:"configs"`
}

// NewConfigFiles creates a config-files message
func NewConfigFiles(configs []catalog.ConfigFile) ConfigFiles {
	if configs == nil {
		configs = []catalog.ConfigFile{}
	}
	return ConfigFiles{Type: TypeConfigFiles, Configs: configs}
}

// ConfigSwitched confirms a character switch
type ConfigSwitched struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewConfigSwitched creates a config-switched message
func NewConfigSwitched(name string) ConfigSwitched {
	return ConfigSwitched{Type: TypeConfigSwitched, Message: "Switched to config: " + name}
}

// BackgroundFiles lists background images
type BackgroundFiles struct {
	Type  string   `json:"type"`
	Files []string `json:"files"`
}

// NewBackgroundFiles creates a background-files message
func NewBackgroundFiles(files []string) BackgroundFiles {
	if files == nil {
		files = []string{}
	}
	return BackgroundFiles{Type: TypeBackgroundFiles, Files: files}
}

// DisplayText is the caption shown with a spoken unit
type DisplayText struct {
	Text   string `json:"text"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Audio is one playable unit. Audio is base64 WAV or null for a silent unit.
type Audio struct {
	Type        string         `json:"type"`
	Audio       *string        `json:"audio"`
	Volumes     []float64      `json:"volumes"`
	SliceLength int            `json:"slice_length"`
	DisplayText *DisplayText   `json:"display_text"`
	Actions     *agent.Actions `json:"actions"`
	Forwarded   bool           `json:"forwarded"`
}

// NewSilentAudio creates an audio message without sound
func NewSilentAudio(text *DisplayText, actions *agent.Actions, forwarded bool) Audio {
	return Audio{
		Type:        TypeAudio,
		Volumes:     []float64{},
		SliceLength: DefaultSliceLength,
		DisplayText: text,
		Actions:     actions,
		Forwarded:   forwarded,
	}
}

// Forward returns a copy of a marked as forwarded to another group member
func (a Audio) Forward() Audio {
	a.Forwarded = true
	return a
}

// Signal is a message with no fields besides its type
type Signal struct {
	Type string `json:"type"`
}

// NewBackendSynthComplete marks the end of a reply's audio
func NewBackendSynthComplete() Signal {
	return Signal{Type: TypeBackendSynthComplete}
}

// ExpressionAck acknowledges an expression-command
type ExpressionAck struct {
	Type         string `json:"type"`
	ExpressionID int    `json:"expression_id"`
	Result       any    `json:"result"`
}

// NewExpressionAck creates an expression-ack message
func NewExpressionAck(id int, result any) ExpressionAck {
	return ExpressionAck{Type: TypeExpressionAck, ExpressionID: id, Result: result}
}

// MotionAck acknowledges a motion-command
type MotionAck struct {
	Type        string `json:"type"`
	MotionGroup string `json:"motion_group"`
	MotionIndex int    `json:"motion_index"`
	Result      any    `json:"result"`
}

// NewMotionAck creates a motion-ack message
func NewMotionAck(group string, index int, result any) MotionAck {
	return MotionAck{Type: TypeMotionAck, MotionGroup: group, MotionIndex: index, Result: result}
}

// MotionCommand asks the client to play a motion
type MotionCommand struct {
	Type        string `json:"type"`
	MotionGroup string `json:"motion_group"`
	MotionIndex int    `json:"motion_index"`
	Loop        bool   `json:"loop"`
	Priority    int    `json:"priority"`
}

// NewMotionCommand creates a motion-command message
func NewMotionCommand(group string, index int, loop bool, priority int) MotionCommand {
	return MotionCommand{
		Type:        TypeMotionCommand,
		MotionGroup: group,
		MotionIndex: index,
		Loop:        loop,
		Priority:    priority,
	}
}

// TextGeneration is one chunk or the final text of a text-generation-request
type TextGeneration struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	IsComplete bool   `json:"is_complete"`
}

// NewTextGenerationChunk creates a text-generation-chunk message
func NewTextGenerationChunk(text string) TextGeneration {
	return TextGeneration{Type: TypeTextGenerationChunk, Text: text}
}

// NewTextGenerationResponse creates the final text-generation-response
func NewTextGenerationResponse(text string) TextGeneration {
	return TextGeneration{Type: TypeTextGenerationResponse, Text: text, IsComplete: true}
}

// BackendMode reports the backend mode
type BackendMode struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

// NewBackendModeSet confirms a mode change
func NewBackendModeSet(mode string) BackendMode {
	return BackendMode{Type: TypeBackendModeSet, Mode: mode}
}

// NewBackendMode reports the current mode
func NewBackendMode(mode string) BackendMode {
	return BackendMode{Type: TypeBackendMode, Mode: mode}
}

// CharacterState carries an adapter's character snapshot
type CharacterState struct {
	Type  string `json:"type"`
	State any    `json:"state"`
}

// NewCharacterState creates a character-state message
func NewCharacterState(state any) CharacterState {
	return CharacterState{Type: TypeCharacterState, State: state}
}

// Error is the terminal response of every failed request
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError creates an error message
func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}
