// Command console is a terminal front end for a realtime session: type to
// chat, use /talk to speak, and hear the assistant on the default speaker.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"

	rtsession "github.com/codewandler/rtsession-go"
	"github.com/codewandler/rtsession-go/config"
	"github.com/codewandler/rtsession-go/conversation"
	"github.com/codewandler/rtsession-go/eventlog"
	"github.com/codewandler/rtsession-go/tool"
)

const help = `commands:
  /talk        start or stop push-to-talk recording
  /vad         toggle server voice activity detection
  /voice       toggle spoken replies (reconnects)
  /cancel      stop the assistant's current reply
  /memory      show what the assistant remembers
  /quit        end the session
anything else is sent as a text message`

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		envFile     = ".env"
		instruction = ""
		speakerRate = 24_000
		phone       = false
		debug       = false
	)
	flag.StringVar(&envFile, "env", envFile, "dotenv file to load")
	flag.StringVar(&instruction, "instruction", instruction, "override the assistant instructions")
	flag.IntVar(&speakerRate, "speaker-sample-rate", speakerRate, "speaker sample rate")
	flag.BoolVar(&phone, "phone", false, "emulate 8kHz telephone audio")
	flag.BoolVar(&debug, "debug", false, "enable debug logs")
	flag.Parse()

	cfg, err := config.Load(envFile)
	must(err)
	if instruction != "" {
		cfg.Instructions = instruction
	}
	if phone {
		cfg.SampleRate = 8_000
		speakerRate = 8_000
	}
	if debug {
		cfg.LogLevel = slog.LevelDebug
	}
	logger := cfg.Logger()

	must(portaudio.Initialize())
	defer portaudio.Terminate()

	store, closeStore, err := cfg.MemoryStore(ctx)
	must(err)
	defer closeStore()

	done := make(chan struct{})
	var endOnce sync.Once
	opts := append(cfg.SessionOptions(),
		rtsession.WithLogger(logger),
		rtsession.WithMicrophone(newMic(cfg.SampleRate)),
		rtsession.WithSpeaker(newSpeaker(speakerRate)),
		rtsession.WithTools(
			tool.Binding{
				Tool: tool.Function("get_time", "Get the current time", nil),
				Handler: func(context.Context, map[string]any) (map[string]any, error) {
					return map[string]any{"time": time.Now().Format(time.RFC3339)}, nil
				},
			},
			tool.Binding{
				Tool: tool.Function("conversation_end", "End the conversation", nil),
				Handler: func(context.Context, map[string]any) (map[string]any, error) {
					endOnce.Do(func() { close(done) })
					return map[string]any{"ended": true}, nil
				},
			},
		),
	)
	if store != nil {
		opts = append(opts, rtsession.WithMemoryStore(store))
	}

	session, err := rtsession.New(opts...)
	must(err)

	session.OnConversationUpdated(printUpdate)
	session.OnError(func(err error) {
		at := eventlog.FormatElapsed(session.StartTime(), time.Now())
		var connErr *rtsession.ConnectionError
		if errors.As(err, &connErr) {
			fmt.Printf("[%s] connection lost: %v\n", at, err)
			cancel()
			return
		}
		fmt.Printf("[%s] error: %v\n", at, err)
	})

	must(session.Connect(ctx))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = session.Disconnect(shutdownCtx)
	}()

	fmt.Println(help)
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(ctx, session, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

func handleLine(ctx context.Context, s *rtsession.Session, line string) (quit bool) {
	var err error
	switch line {
	case "":
		return false
	case "/quit":
		return true
	case "/talk":
		if s.IsRecording() {
			err = s.StopRecording()
		} else {
			err = s.StartRecording()
			if err == nil {
				fmt.Println("(recording, /talk again to send)")
			}
		}
	case "/vad":
		next := rtsession.TurnDetectionServerVAD
		if s.TurnDetection() == rtsession.TurnDetectionServerVAD {
			next = rtsession.TurnDetectionManual
		}
		err = s.ChangeTurnEndType(next)
		if err == nil {
			fmt.Println("turn detection:", next)
		}
	case "/voice":
		next := rtsession.OutputModeConversation
		if s.OutputMode() == rtsession.OutputModeConversation {
			next = rtsession.OutputModeText
		}
		err = s.SetOutputMode(ctx, next)
		if err == nil {
			fmt.Println("output mode:", next)
		}
	case "/cancel":
		err = cancelLast(s)
	case "/memory":
		var mem map[string]string
		if mem, err = s.Memory(ctx); err == nil {
			for k, v := range mem {
				fmt.Printf("  %s = %s\n", k, v)
			}
		}
	default:
		err = s.SubmitText(line)
	}
	if err != nil {
		fmt.Println("error:", err)
	}
	return false
}

func cancelLast(s *rtsession.Session) error {
	items := s.Items()
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if it.Role == conversation.RoleAssistant && it.Status == conversation.StatusInProgress {
			return s.CancelResponse(it.ID, 0)
		}
	}
	return nil
}

func printUpdate(it *conversation.Item, delta *conversation.Delta) {
	if delta != nil {
		switch {
		case delta.Text != "":
			fmt.Print(delta.Text)
		case delta.Transcript != "" && it.Role == conversation.RoleAssistant:
			fmt.Print(delta.Transcript)
		case delta.FunctionOutput != nil:
			fmt.Printf("[%s] %s\n", delta.FunctionOutput.Name, delta.FunctionOutput.Output)
		}
		return
	}
	if it.Status != conversation.StatusCompleted {
		return
	}
	switch {
	case it.Role == conversation.RoleAssistant:
		fmt.Println()
	case it.Role == conversation.RoleUser && it.Formatted.Transcript != "":
		fmt.Println("you>", it.Formatted.Transcript)
	case it.Type == conversation.TypeFunctionCall:
		fmt.Printf("[call %s] %s\n", it.Formatted.Tool.Name, it.Formatted.Tool.Arguments)
	}
}
