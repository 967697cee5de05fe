// Package backend is the remote assistant service: it labels an uploaded
// image, generates a kid-friendly response about it, and converts responses
// to speech.
package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/lumikid/lumi/pkg/logging"
)

// Responder generates the assistant's text for a labeled image.
type Responder interface {
	Respond(ctx context.Context, label, question string) (string, error)
}

type Server struct {
	app   *fiber.App
	addr  string
	log   *slog.Logger
	label Labeler
	llm   Responder
	tts   Synthesizer
}

func NewServer(addr string, label Labeler, llm Responder, tts Synthesizer) *Server {
	s := &Server{
		addr:  addr,
		log:   logging.NewComponentLogger(slog.Default(), "backend"),
		label: label,
		llm:   llm,
		tts:   tts,
	}

	app := fiber.New(fiber.Config{
		AppName:               "Lumi Assistant",
		DisableStartupMessage: true,
		BodyLimit:             16 * 1024 * 1024,
	})
	app.Use(cors.New())

	app.Post("/analyze_image", s.handleAnalyzeImage)
	app.Post("/chat_about_image", s.handleChatAboutImage)
	app.Post("/get_speech", s.handleGetSpeech)

	s.app = app
	return s
}

func (s *Server) Listen() error {
	s.log.Info("backend_listening", slog.String("addr", s.addr))
	return s.app.Listen(s.addr)
}

func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(5 * time.Second)
}

// App exposes the fiber app for in-process testing.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) handleAnalyzeImage(c *fiber.Ctx) error {
	return s.answer(c, "")
}

func (s *Server) handleChatAboutImage(c *fiber.Ctx) error {
	question := strings.TrimSpace(c.FormValue("question"))
	if question == "" {
		return errorJSON(c, fiber.StatusBadRequest, "missing question field")
	}
	return s.answer(c, question)
}

func (s *Server) answer(c *fiber.Ctx, question string) error {
	image, err := imageFromForm(c)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := c.Context()
	label, err := s.label.Label(ctx, image)
	if err != nil {
		s.log.Error("label_error", slog.String("error", err.Error()))
		return errorJSON(c, fiber.StatusBadGateway, fmt.Sprintf("image recognition failed: %v", err))
	}

	text, err := s.llm.Respond(ctx, label, question)
	if err != nil {
		s.log.Error("respond_error",
			slog.String("label", label),
			slog.String("error", err.Error()))
		return errorJSON(c, fiber.StatusBadGateway, fmt.Sprintf("response generation failed: %v", err))
	}

	s.log.Info("answer_served",
		slog.String("label", label),
		slog.Bool("with_question", question != ""),
		slog.Int("response_chars", len(text)))

	return c.JSON(fiber.Map{
		"object_label": label,
		"ai_response":  text,
	})
}

func (s *Server) handleGetSpeech(c *fiber.Ctx) error {
	text := strings.TrimSpace(c.Query("text"))
	if text == "" {
		return errorJSON(c, fiber.StatusBadRequest, "missing text parameter")
	}

	audio, err := s.tts.Synthesize(c.Context(), text)
	if err != nil {
		s.log.Error("synthesize_error", slog.String("error", err.Error()))
		return errorJSON(c, fiber.StatusBadGateway, fmt.Sprintf("speech synthesis failed: %v", err))
	}

	c.Set(fiber.HeaderContentType, "audio/mpeg")
	return c.Send(audio)
}

func imageFromForm(c *fiber.Ctx) ([]byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("missing file part")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("unreadable file part")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unreadable file part")
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file part")
	}
	return data, nil
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}
