// Command posture-cam streams webcam frames to a posture server and prints
// the labels it answers with. Press Enter to capture a reference posture.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tutortoise/posture-service/logging"

	"github.com/blackjack/webcam"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// V4L2 fourcc for Motion-JPEG.
const pixelFormatMJPEG webcam.PixelFormat = 'M' | 'J'<<8 | 'P'<<16 | 'G'<<24

const frameTimeout = 5 // seconds

type reply struct {
	Type         string `json:"type"`
	Label        string `json:"label"`
	Message      string `json:"message"`
	Changed      bool   `json:"changed"`
	State        string `json:"state"`
	ReferenceSet bool   `json:"reference_set"`
	Code         string `json:"code"`
}

func main() {
	addr := flag.String("addr", "localhost:8080", "posture server address")
	device := flag.String("device", "/dev/video0", "video device")
	width := flag.Uint("width", 640, "frame width")
	height := flag.Uint("height", 480, "frame height")
	interval := flag.Duration("interval", 100*time.Millisecond, "frame send interval")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	logger := logging.NewConsole(*debug)

	cam, err := openCamera(*device, uint32(*width), uint32(*height), logger)
	if err != nil {
		logger.Fatal().Err(err).Str("device", *device).Msg("opening camera")
	}
	defer cam.Close()

	id, err := startSession(*addr)
	if err != nil {
		logger.Fatal().Err(err).Msg("starting session")
	}
	defer stopSession(*addr, id, logger)
	logger.Info().Str("session_id", id).Msg("session started")

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/sessions/" + id + "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		logger.Error().Err(err).Str("url", u.String()).Msg("dial")
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		readReplies(conn, logger)
	}()

	captures := make(chan struct{}, 1)
	go func() {
		in := bufio.NewScanner(os.Stdin)
		for in.Scan() {
			select {
			case captures <- struct{}{}:
			default:
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	if err := cam.StartStreaming(); err != nil {
		logger.Error().Err(err).Msg("starting camera stream")
		return
	}
	fmt.Fprintln(os.Stderr, "streaming; press Enter to capture a reference posture")

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			frame, err := grabFrame(cam)
			if err != nil {
				var timeout *webcam.Timeout
				if errors.As(err, &timeout) {
					logger.Warn().Msg("camera timed out")
					continue
				}
				logger.Error().Err(err).Msg("reading frame")
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				logger.Error().Err(err).Msg("write")
				return
			}
		case <-captures:
			if err := conn.WriteJSON(map[string]string{"type": "capture"}); err != nil {
				logger.Error().Err(err).Msg("write")
				return
			}
		case <-done:
			return
		case <-interrupt:
			// Send a close frame and give the server a moment to close its side.
			err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				logger.Warn().Err(err).Msg("write close")
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}

func openCamera(device string, width, height uint32, logger zerolog.Logger) (*webcam.Webcam, error) {
	cam, err := webcam.Open(device)
	if err != nil {
		return nil, err
	}

	formats := cam.GetSupportedFormats()
	if _, ok := formats[pixelFormatMJPEG]; !ok {
		cam.Close()
		return nil, fmt.Errorf("%s does not support Motion-JPEG", device)
	}

	f, w, h, err := cam.SetImageFormat(pixelFormatMJPEG, width, height)
	if err != nil {
		cam.Close()
		return nil, err
	}
	logger.Info().Str("format", formats[f]).Uint32("width", w).Uint32("height", h).Msg("camera ready")
	return cam, nil
}

// grabFrame copies the newest frame out of the driver buffer.
func grabFrame(cam *webcam.Webcam) ([]byte, error) {
	if err := cam.WaitForFrame(frameTimeout); err != nil {
		return nil, err
	}
	data, err := cam.ReadFrame()
	if err != nil {
		return nil, err
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	return frame, nil
}

func readReplies(conn *websocket.Conn, logger zerolog.Logger) {
	var last string
	for {
		var r reply
		if err := conn.ReadJSON(&r); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("read")
			}
			return
		}

		switch r.Type {
		case "error":
			logger.Warn().Str("code", r.Code).Msg(r.Message)
		default:
			if r.Label != "" && r.Label != last {
				last = r.Label
				fmt.Printf("%s  %s  [%s]\n", time.Now().Format("15:04:05.000"), r.Message, r.State)
			}
		}
	}
}

func startSession(addr string) (string, error) {
	resp, err := http.Post("http://"+addr+"/sessions", "application/json", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.ID, nil
}

func stopSession(addr, id string, logger zerolog.Logger) {
	req, err := http.NewRequest(http.MethodDelete, "http://"+addr+"/sessions/"+id, nil)
	if err != nil {
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("stopping session")
		return
	}
	resp.Body.Close()
}
