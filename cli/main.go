// Package main provides an interactive terminal view of one clinichat conversation.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/xiaot623/clinichat/internal/adapter/messagelog"
	"github.com/xiaot623/clinichat/internal/adapter/pendingqueue"
	"github.com/xiaot623/clinichat/internal/capture"
	"github.com/xiaot623/clinichat/internal/chatview"
	"github.com/xiaot623/clinichat/internal/config"
	"github.com/xiaot623/clinichat/internal/domain"
	"github.com/xiaot623/clinichat/internal/highlight"
	"github.com/xiaot623/clinichat/internal/linker"
	"github.com/xiaot623/clinichat/internal/logging"
	"github.com/xiaot623/clinichat/internal/synchronizer"
)

const helpText = `Type a message and press Enter to send it.
Commands:
  /role doctor|patient   switch sender role
  /record <file>         start recording from an audio file
  /stop                  stop recording and send the clip
  /cancel                discard the current recording
  /search <text>         search this conversation
  /summary               generate a summary
  /retry [message_id]    re-attach failed clips
  /show                  print the conversation
  /quit                  exit`

func main() {
	cfg := config.Load()

	apiURL := flag.String("api", cfg.APIURL, "clinichat API base URL")
	conversationID := flag.Int64("conversation", 0, "conversation to open; 0 creates a new one")
	role := flag.String("role", string(domain.SenderRoleDoctor), "sender role (doctor or patient)")
	doctorLang := flag.String("doctor-lang", "English", "doctor language for a new conversation")
	patientLang := flag.String("patient-lang", "Spanish", "patient language for a new conversation")
	flag.Parse()

	// Keep the terminal for the conversation; logs go to stderr.
	logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := messagelog.NewClient(*apiURL, cfg.RequestTimeout)

	if *conversationID == 0 {
		conv, err := client.CreateConversation(ctx, domain.CreateConversationRequest{
			DoctorLanguage:  *doctorLang,
			PatientLanguage: *patientLang,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create conversation")
		}
		*conversationID = conv.ID
	}

	conv, err := client.GetConversation(ctx, *conversationID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open conversation")
	}

	device := capture.NewFileDevice("", cfg.RecordChunkSize)
	opts := chatview.Options{
		PollInterval:      cfg.PollInterval,
		Device:            device,
		RelinkInterval:    cfg.RelinkInterval,
		RelinkMaxAttempts: cfg.RelinkMaxAttempts,
		Notifications:     true,
		Logger:            logger,
	}
	if cfg.PendingDBPath != "" {
		queue, err := pendingqueue.Open(cfg.PendingDBPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open pending queue")
		}
		defer queue.Close()
		opts.Pending = queue
	}

	view := chatview.New(client, conv.ID, opts)
	if err := view.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start view")
	}
	defer view.Close()

	fmt.Printf("Conversation %d (doctor: %s, patient: %s)\n", conv.ID, conv.DoctorLanguage, conv.PatientLanguage)
	fmt.Println(helpText)

	updates, unsubscribe := view.Subscribe()
	defer unsubscribe()
	go printUpdates(updates)

	s := &session{view: view, device: device, role: domain.SenderRole(*role)}
	if !s.role.Valid() {
		logger.Fatal().Str("role", *role).Msg("role must be doctor or patient")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Printf("[%s] > ", s.role)
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if s.handle(ctx, strings.TrimSpace(line)) {
				fmt.Println("Bye!")
				return
			}
		}
	}
}

type session struct {
	view   *chatview.View
	device *capture.FileDevice
	role   domain.SenderRole
}

// handle runs one input line and reports whether the user asked to quit.
func (s *session) handle(ctx context.Context, input string) bool {
	if input == "" {
		return false
	}
	if !strings.HasPrefix(input, "/") {
		if _, err := s.view.SendText(ctx, s.role, input); err != nil {
			fmt.Printf("send failed: %v\n", err)
		}
		return false
	}

	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit":
		return true
	case "/role":
		r := domain.SenderRole(arg)
		if !r.Valid() {
			fmt.Println("role must be doctor or patient")
			return false
		}
		s.role = r
	case "/record":
		if arg == "" {
			fmt.Println("usage: /record <file>")
			return false
		}
		if err := s.device.SetPath(arg); err != nil {
			fmt.Printf("cannot record: %v\n", err)
			return false
		}
		if err := s.view.StartRecording(ctx); err != nil {
			fmt.Printf("cannot record: %v\n", err)
			return false
		}
		fmt.Println("recording... /stop to send, /cancel to discard")
	case "/stop":
		msg, err := s.view.StopRecording(ctx, s.role)
		var partial *linker.PartialCommitError
		switch {
		case errors.As(err, &partial):
			fmt.Printf("message %d sent without audio: %v (use /retry %d)\n", partial.Message.ID, partial.Err, partial.Message.ID)
		case err != nil:
			fmt.Printf("voice send failed: %v\n", err)
		default:
			fmt.Printf("voice message %d sent\n", msg.ID)
		}
	case "/cancel":
		s.view.CancelRecording()
	case "/search":
		s.search(ctx, arg)
	case "/summary":
		summary, err := s.view.Summary(ctx)
		if err != nil {
			fmt.Printf("summary failed: %v\n", err)
			return false
		}
		fmt.Printf("--- summary ---\n%s\n", summary.SummaryText)
	case "/retry":
		s.retry(ctx, arg)
	case "/show":
		printSnapshot(s.view.Snapshot())
	case "/help":
		fmt.Println(helpText)
	default:
		fmt.Printf("unknown command %s\n", cmd)
	}
	return false
}

func (s *session) search(ctx context.Context, query string) {
	results, err := s.view.Search(ctx, query)
	if err != nil {
		fmt.Printf("search failed: %v\n", err)
		return
	}
	if len(results) == 0 {
		fmt.Println("no matches")
		return
	}
	for _, r := range results {
		fmt.Printf("#%d %s: %s\n", r.Message.ID, r.Message.SenderRole,
			highlight.Mark(domain.Deref(r.Message.OriginalContent), r.Original, "*", "*"))
		if r.Message.TranslatedContent != nil {
			fmt.Printf("    %s\n", highlight.Mark(*r.Message.TranslatedContent, r.Translated, "*", "*"))
		}
	}
}

func (s *session) retry(ctx context.Context, arg string) {
	if arg != "" {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			fmt.Println("usage: /retry [message_id]")
			return
		}
		if err := s.view.RetryAttach(ctx, id); err != nil {
			fmt.Printf("retry failed: %v\n", err)
			return
		}
		fmt.Printf("audio attached to message %d\n", id)
		return
	}

	for _, id := range s.view.Unlinked() {
		if err := s.view.RetryAttach(ctx, id); err != nil {
			fmt.Printf("retry of %d failed: %v\n", id, err)
		}
	}
	n, err := s.view.RetryPending(ctx)
	if err != nil {
		fmt.Printf("some queued clips still failing: %v\n", err)
	}
	if n > 0 {
		fmt.Printf("%d queued clips attached\n", n)
	}
}

func printUpdates(updates <-chan synchronizer.Snapshot) {
	var shown int
	for snap := range updates {
		// Only announce growth; the full log is available with /show.
		if len(snap.Messages) > shown {
			for _, m := range snap.Messages[shown:] {
				fmt.Printf("\n%s\n", formatMessage(m))
			}
		}
		shown = len(snap.Messages)
	}
}

func printSnapshot(snap synchronizer.Snapshot) {
	if snap.LastErr != nil {
		fmt.Printf("(last sync failed: %v)\n", snap.LastErr)
	}
	for _, m := range snap.Messages {
		fmt.Println(formatMessage(m))
	}
}

func formatMessage(m domain.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d [%s] %s", m.ID, m.CreatedAt.Local().Format("15:04:05"), m.SenderRole)
	switch {
	case m.AudioPending():
		b.WriteString(": (audio pending)")
	case m.IsAudioPlaceholder():
		fmt.Fprintf(&b, ": (audio) %s", domain.Deref(m.AudioPath))
	default:
		fmt.Fprintf(&b, ": %s", domain.Deref(m.OriginalContent))
		if m.TranslatedContent != nil {
			fmt.Fprintf(&b, "\n    -> %s", *m.TranslatedContent)
		}
	}
	return b.String()
}

