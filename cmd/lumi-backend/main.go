package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lumikid/lumi/pkg/backend"
	"github.com/lumikid/lumi/pkg/logging"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	labelerURL := flag.String("labeler-url", os.Getenv("LABELER_URL"), "remote image labeler endpoint")
	staticLabel := flag.String("static-label", "", "fixed label for development, bypasses the labeler")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := logging.InitLogger(logging.ParseLevel(*logLevel))
	slog.SetDefault(logger)

	groqKey := os.Getenv("GROQ_API_KEY")
	if groqKey == "" {
		fmt.Fprintln(os.Stderr, "GROQ_API_KEY is required")
		os.Exit(1)
	}

	var labeler backend.Labeler
	switch {
	case *staticLabel != "":
		labeler = backend.StaticLabeler{Value: *staticLabel}
	case *labelerURL != "":
		labeler = backend.NewHTTPLabeler(*labelerURL)
	default:
		fmt.Fprintln(os.Stderr, "one of -labeler-url or -static-label is required")
		os.Exit(1)
	}

	tts := backend.NewElevenLabsTTS(backend.ElevenLabsConfig{
		APIKey:  os.Getenv("ELEVENLABS_API_KEY"),
		VoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		ModelID: os.Getenv("ELEVENLABS_MODEL_ID"),
	})

	srv := backend.NewServer(*addr, labeler, backend.NewGroqClient(groqKey), tts)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("server_error", "error", err.Error())
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("shutdown_signal", "signal", sig.String())
	}

	if err := srv.Shutdown(); err != nil {
		slog.Error("shutdown_error", "error", err.Error())
	}
}
