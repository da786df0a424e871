package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/upsc-prep-api/utils/logger"
	"github.com/sahilchouksey/upsc-prep-api/utils/response"
	"go.uber.org/zap"
)

type APIServer struct {
	app           *fiber.App
	listenAddress string
}

// NewAPIServer creates the fiber app. bodyLimitMB must cover a question
// paper and an answer key in one multipart request.
func NewAPIServer(listenAddress string, bodyLimitMB int) *APIServer {
	return &APIServer{
		app: fiber.New(fiber.Config{
			AppName:      "upsc-prep-api",
			BodyLimit:    bodyLimitMB * 1024 * 1024,
			ErrorHandler: errorHandler,
		}),
		listenAddress: listenAddress,
	}
}

func (s *APIServer) GetEngine() *fiber.App {
	return s.app
}

func (s *APIServer) Run() error {
	logger.Log.Info("starting API server", zap.String("address", s.listenAddress))
	return s.app.Listen(s.listenAddress)
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler keeps errors returned by handlers and middleware in the
// standard response envelope.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	if code >= fiber.StatusInternalServerError {
		logger.Log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return response.InternalServerError(c, "")
	}
	if code == fiber.StatusRequestEntityTooLarge {
		return response.PayloadTooLarge(c, "Request body too large")
	}
	return response.Error(c, code, err.Error(), "REQUEST_ERROR")
}
