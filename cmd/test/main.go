package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"time"

	"github.com/room4-2/live-persona/audio"
	"github.com/room4-2/live-persona/messages"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// serverMessage holds the fields of any outbound message the probe prints
type serverMessage struct {
	Type        string                `json:"type"`
	Text        string                `json:"text"`
	Message     string                `json:"message"`
	Audio       *string               `json:"audio"`
	DisplayText *messages.DisplayText `json:"display_text"`
	Forwarded   bool                  `json:"forwarded"`
	Members     []string              `json:"members"`
	ClientUID   string                `json:"client_uid"`
}

// AudioPlayer streams audio via sox
type AudioPlayer struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	closed bool
}

func NewAudioPlayer() *AudioPlayer {
	cmd := exec.Command("sox",
		"-t", "raw",
		"-r", fmt.Sprint(audio.SampleRate),
		"-b", "16",
		"-c", "1",
		"-e", "signed-integer",
		"-",
		"-d",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		zap.S().Warnf("sox stdin error: %v", err)
		return nil
	}
	if err := cmd.Start(); err != nil {
		zap.S().Warnf("sox start error: %v", err)
		return nil
	}
	return &AudioPlayer{cmd: cmd, stdin: stdin}
}

func (p *AudioPlayer) Play(pcm []byte) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	_, _ = p.stdin.Write(pcm)
}

func (p *AudioPlayer) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	_ = p.stdin.Close()
	_ = p.cmd.Wait()
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(msg map[string]any) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/client-ws", "WebSocket server URL")
	text := flag.String("text", "", "Text to send as a text-input turn")
	audioFile := flag.String("file", "", "Audio file to stream (16 kHz PCM16 or WAV)")
	vad := flag.Bool("vad", false, "Stream audio as raw-audio-data through server-side VAD")
	interruptAfter := flag.Duration("interrupt-after", 0, "Send interrupt-signal this long after the first reply unit")
	play := flag.Bool("play", false, "Play received audio with sox")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	zap.S().Infof("🔌 Connecting to %s...", *serverURL)
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		zap.S().Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	c := &client{conn: conn}

	var player *AudioPlayer
	if *play {
		if player = NewAudioPlayer(); player == nil {
			zap.S().Fatal("Failed to create audio player (is sox installed?)")
		}
		defer player.Close()
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	turnDone := make(chan struct{}, 1)
	firstUnit := make(chan string, 1)
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				zap.S().Infof("Read error: %v", err)
				return
			}
			var msg serverMessage
			if err := sonic.Unmarshal(raw, &msg); err != nil {
				zap.S().Warnf("Parse error: %v", err)
				continue
			}
			handle(msg, player, firstUnit, turnDone)
		}
	}()

	switch {
	case *audioFile != "":
		if err := streamAudio(c, *audioFile, *vad); err != nil {
			zap.S().Fatalf("Failed to stream audio: %v", err)
		}
	case *text != "":
		zap.S().Infof("📤 Sending text: %s", *text)
		if err := c.send(map[string]any{"type": messages.TypeTextInput, "text": *text}); err != nil {
			zap.S().Fatalf("Send error: %v", err)
		}
	default:
		zap.S().Info("📤 Asking the character to speak first")
		if err := c.send(map[string]any{"type": messages.TypeAISpeakSignal}); err != nil {
			zap.S().Fatalf("Send error: %v", err)
		}
	}

	if *interruptAfter > 0 {
		go func() {
			heard := <-firstUnit
			time.Sleep(*interruptAfter)
			zap.S().Infof("✋ Interrupting after hearing %q", heard)
			if err := c.send(map[string]any{"type": messages.TypeInterruptSignal, "text": heard}); err != nil {
				zap.S().Warnf("Send error: %v", err)
			}
		}()
	}

	select {
	case <-done:
		zap.S().Info("Connection closed")
	case <-turnDone:
		zap.S().Info("--- Turn complete ---")
	case <-interrupt:
		zap.S().Info("👋 Interrupted, closing...")
	case <-time.After(60 * time.Second):
		zap.S().Info("⏰ Timeout waiting for response")
	}
	_ = c.send(map[string]any{"type": messages.TypeFrontendPlaybackComplete})
	c.mu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
}

func handle(msg serverMessage, player *AudioPlayer, firstUnit chan<- string, turnDone chan<- struct{}) {
	switch msg.Type {
	case messages.TypeSetModelAndConf:
		zap.S().Infof("✅ Connected as %s", msg.ClientUID)
	case messages.TypeUserInputTranscription:
		fmt.Printf("🎤 You: %s\n", msg.Text)
	case messages.TypeAudio:
		if msg.DisplayText != nil {
			fmt.Printf("💬 %s: %s\n", msg.DisplayText.Name, msg.DisplayText.Text)
			select {
			case firstUnit <- msg.DisplayText.Text:
			default:
			}
		}
		if msg.Audio != nil {
			wav, err := base64.StdEncoding.DecodeString(*msg.Audio)
			if err == nil && len(wav) > 44 {
				player.Play(wav[44:])
			}
		}
	case messages.TypeControl:
		zap.S().Debugf("📊 Control: %s", msg.Text)
		if msg.Text == messages.ControlChainEnd {
			select {
			case turnDone <- struct{}{}:
			default:
			}
		}
	case messages.TypeInterruptSignal:
		zap.S().Infof("⏹️ Interrupted: %s", msg.Text)
	case messages.TypeGroupUpdate:
		zap.S().Infof("👥 Group: %v", msg.Members)
	case messages.TypeError:
		zap.S().Errorf("❌ Error: %s", msg.Message)
	}
}

// streamAudio sends a PCM or WAV file in 100ms chunks, either as float
// samples followed by mic-audio-end or as raw PCM for server-side VAD
func streamAudio(c *client, path string, vad bool) error {
	pcm, err := loadAudioFile(path)
	if err != nil {
		return err
	}

	chunkSize := audio.SampleRate / 10 * 2
	for i := 0; i < len(pcm); i += chunkSize {
		chunk := pcm[i:min(i+chunkSize, len(pcm))]

		msg := map[string]any{"type": messages.TypeMicAudioData, "audio": audio.DecodePCM16(chunk)}
		if vad {
			msg = map[string]any{"type": messages.TypeRawAudioData, "audio": base64.StdEncoding.EncodeToString(chunk)}
		}
		if err := c.send(msg); err != nil {
			return err
		}
		zap.S().Debugf("📤 Sent chunk %d/%d (%d bytes)", i/chunkSize+1, (len(pcm)+chunkSize-1)/chunkSize, len(chunk))
		time.Sleep(100 * time.Millisecond)
	}

	if vad {
		zap.S().Info("✅ Audio streamed, waiting for the server to detect the end of speech...")
		return nil
	}
	zap.S().Info("✅ Audio sent, waiting for response...")
	return c.send(map[string]any{"type": messages.TypeMicAudioEnd})
}

// loadAudioFile loads PCM or WAV file and returns raw PCM bytes
func loadAudioFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > 44 && string(data[0:4]) == "RIFF" {
		zap.S().Info("📁 Detected WAV file, skipping header")
		return data[44:], nil
	}
	zap.S().Info("📁 Detected raw PCM file")
	return data, nil
}
