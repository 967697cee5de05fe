package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lumikid/lumi/pkg/exchange"
	"github.com/lumikid/lumi/pkg/lumi"
	"github.com/lumikid/lumi/pkg/runner"
	"github.com/lumikid/lumi/pkg/session"
)

func main() {
	configPath := flag.String("config", "lumi.yaml", "path to config file")
	imagePath := flag.String("image", "", "image to analyze on startup")
	flag.Parse()

	cfg, err := lumi.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	eng, err := lumi.NewEngine(lumi.EngineOptions{
		Config: cfg,
		Callbacks: session.Callbacks{
			OnTranscript: printTranscript,
			OnPartial: func(text string) {
				fmt.Printf("  … %s\r", text)
			},
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine error: %v\n", err)
		os.Exit(1)
	}

	lr := runner.NewLifecycleRunner(eng, runner.Hooks{
		OnStart: func() {
			eng.Start()
			eng.RequestMicrophoneAccess(func(granted bool) {
				slog.Info("microphone_access", "granted", granted)
			})
			if *imagePath != "" {
				analyzeStartupImage(eng, *imagePath)
			}
		},
	}, 15*time.Second)

	if err := runner.RunUntilSignal(lr); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
}

func analyzeStartupImage(eng *lumi.Engine, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Error("image_read_error", "path", path, "error", err.Error())
		return
	}
	if err := eng.Session().SetImage(raw); err != nil {
		slog.Error("image_decode_error", "path", path, "error", err.Error())
		return
	}
	eng.Session().Analyze()
}

func printTranscript(records []exchange.Record) {
	if len(records) == 0 {
		return
	}
	last := records[len(records)-1]
	who := "you"
	if last.Role == exchange.RoleAssistant {
		who = "lumi"
	}
	fmt.Printf("[%s] %s\n", who, last.Text)
}
