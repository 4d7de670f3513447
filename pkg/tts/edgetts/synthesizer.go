package edgetts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"printcast/pkg/tts"
)

// DefaultVoice is used when no voice is configured.
const DefaultVoice = "en-US-AvaMultilingualNeural"

const outputFormat = "audio-24khz-48kbitrate-mono-mp3"

// Endpoint holds the connection parameters for the Edge read-aloud service.
type Endpoint struct {
	BaseURL            string
	Origin             string
	UserAgent          string
	TrustedClientToken string
	SecMSGecVersion    string
}

// EndpointFromEnv reads the EDGE_TTS_* variables.
func EndpointFromEnv() (Endpoint, error) {
	e := Endpoint{
		BaseURL:            os.Getenv("EDGE_TTS_BASE_URL"),
		Origin:             os.Getenv("EDGE_TTS_ORIGIN"),
		UserAgent:          os.Getenv("EDGE_TTS_USER_AGENT"),
		TrustedClientToken: os.Getenv("EDGE_TTS_TRUSTED_CLIENT_TOKEN"),
		SecMSGecVersion:    os.Getenv("EDGE_TTS_SEC_MS_GEC_VERSION"),
	}
	for name, v := range map[string]string{
		"EDGE_TTS_BASE_URL":             e.BaseURL,
		"EDGE_TTS_ORIGIN":               e.Origin,
		"EDGE_TTS_USER_AGENT":           e.UserAgent,
		"EDGE_TTS_TRUSTED_CLIENT_TOKEN": e.TrustedClientToken,
		"EDGE_TTS_SEC_MS_GEC_VERSION":   e.SecMSGecVersion,
	} {
		if v == "" {
			return Endpoint{}, fmt.Errorf("%s environment variable is required", name)
		}
	}
	return e, nil
}

// Synthesizer implements tts.Synthesizer for Microsoft Edge TTS.
type Synthesizer struct {
	endpoint Endpoint
	dialer   *websocket.Dialer
	now      func() time.Time
}

// New creates an Edge TTS synthesizer.
func New(endpoint Endpoint) *Synthesizer {
	return &Synthesizer{endpoint: endpoint, dialer: websocket.DefaultDialer, now: time.Now}
}

// Synthesize generates an .mp3 file.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice, outputPath string) (string, error) {
	if voice == "" {
		voice = DefaultVoice
	}

	fullPath := outputPath
	if !strings.HasSuffix(strings.ToLower(fullPath), ".mp3") {
		fullPath += ".mp3"
	}
	file, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	conn, err := s.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := sendConfig(conn); err != nil {
		return "", err
	}

	requestID := strings.ReplaceAll(uuid.New().String(), "-", "")
	ssml := buildSSML(voice, text)
	if err := sendSSML(conn, ssml, requestID); err != nil {
		return "", err
	}

	if err := consumeResponses(ctx, conn, file); err != nil {
		tts.Log("EDGETTS", text, 0, err)
		return "", err
	}
	tts.Log("EDGETTS", text, 200, nil)
	return "mp3", nil
}

func (s *Synthesizer) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Origin", s.endpoint.Origin)
	header.Set("Pragma", "no-cache")
	header.Set("Cache-Control", "no-cache")
	header.Set("User-Agent", s.endpoint.UserAgent)
	header.Set("Accept-Language", "en-US,en;q=0.9")

	muid := strings.ReplaceAll(uuid.New().String(), "-", "")
	header.Set("Cookie", fmt.Sprintf("muid=%s", muid))

	url := s.url()

	var dialErr error
	for i := 0; i < 3; i++ {
		conn, resp, err := s.dialer.DialContext(ctx, url, header)
		if err == nil {
			return conn, nil
		}
		dialErr = err
		if resp != nil {
			slog.Warn("EdgeTTS: handshake failure", "status", resp.Status, "status_code", resp.StatusCode)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("websocket dial failed after retries: %w", dialErr)
}

func (s *Synthesizer) url() string {
	token := secMSGec(s.now(), s.endpoint.TrustedClientToken)
	return fmt.Sprintf("%s?TrustedClientToken=%s&Sec-MS-GEC=%s&Sec-MS-GEC-Version=%s",
		s.endpoint.BaseURL, s.endpoint.TrustedClientToken, token, s.endpoint.SecMSGecVersion)
}

// secMSGec derives the Sec-MS-GEC token: Windows file-time ticks rounded
// down to five minutes, concatenated with the client token, SHA-256, upper hex.
func secMSGec(now time.Time, trustedClientToken string) string {
	ticks := now.Unix() + 11644473600
	ticks -= ticks % 300
	str := fmt.Sprintf("%d0000000%s", ticks, trustedClientToken)

	hash := sha256.Sum256([]byte(str))
	return strings.ToUpper(hex.EncodeToString(hash[:]))
}

func sendConfig(conn *websocket.Conn) error {
	msg := "Content-Type:application/json; charset=utf-8\r\nPath:speech.config\r\n\r\n" +
		`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},"outputFormat":"` + outputFormat + `"}}}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send speech.config: %w", err)
	}
	return nil
}

func sendSSML(conn *websocket.Conn, ssml, requestID string) error {
	msg := fmt.Sprintf("X-RequestId:%s\r\nContent-Type:application/ssml+xml\r\nPath:ssml\r\n\r\n%s", requestID, ssml)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send ssml: %w", err)
	}
	return nil
}

var ssmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\"", "&quot;",
	"'", "&apos;",
)

func buildSSML(voice, text string) string {
	return fmt.Sprintf("<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'><voice name='%s'>%s</voice></speak>",
		voice, ssmlEscaper.Replace(text))
}

func consumeResponses(ctx context.Context, conn *websocket.Conn, w io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message failed: %w", err)
		}

		switch msgType {
		case websocket.TextMessage:
			if strings.Contains(string(data), "Path:turn.end") {
				return nil
			}
		case websocket.BinaryMessage:
			if err := writeAudioFrame(data, w); err != nil {
				return err
			}
		}
	}
}

// writeAudioFrame strips the length-prefixed header from a binary frame.
func writeAudioFrame(data []byte, w io.Writer) error {
	if len(data) < 2 {
		return nil
	}
	headerLength := int(uint16(data[0])<<8 | uint16(data[1]))
	if len(data) < 2+headerLength {
		return nil
	}
	audio := data[2+headerLength:]
	if len(audio) == 0 {
		return nil
	}
	if _, err := w.Write(audio); err != nil {
		return fmt.Errorf("write audio data failed: %w", err)
	}
	return nil
}

// Voices returns a short list of neural voices.
func (s *Synthesizer) Voices(ctx context.Context) ([]tts.Voice, error) {
	return []tts.Voice{
		{ID: DefaultVoice, Name: "Ava (Multilingual)", Language: "en-US", IsNeural: true},
		{ID: "en-US-AndrewMultilingualNeural", Name: "Andrew (Multilingual)", Language: "en-US", IsNeural: true},
		{ID: "en-GB-SoniaNeural", Name: "Sonia (UK)", Language: "en-GB", IsNeural: true},
		{ID: "de-DE-SeraphinaNeural", Name: "Seraphina (Germany)", Language: "de-DE", IsNeural: true},
	}, nil
}
