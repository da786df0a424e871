package imports

import (
	"bufio"
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/upsc-prep-api/model"
	"github.com/sahilchouksey/upsc-prep-api/utils/logger"
	"github.com/sahilchouksey/upsc-prep-api/utils/sse"
	"go.uber.org/zap"
)

// StreamStatus handles GET /api/v1/imports/:id/stream
// Sends a "state" event on every pipeline transition and ends with
// "complete" or "failed".
func (h *ImportHandler) StreamStatus(c *fiber.Ctx) error {
	imp, ok, err := h.ownedImport(c)
	if !ok {
		return err
	}
	importID := imp.ID

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("Transfer-Encoding", "chunked")
	c.Set("X-Accel-Buffering", "no") // Disable nginx buffering

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		// The fiber context is not valid inside the stream writer
		ctx, cancel := context.WithTimeout(context.Background(), h.maxStream)
		defer cancel()

		if err := h.stream(ctx, w, importID); err != nil {
			logger.Log.Debug("import stream closed", zap.Uint("import_id", importID), zap.Error(err))
		}
	})
	return nil
}

func (h *ImportHandler) stream(ctx context.Context, w *bufio.Writer, importID uint) error {
	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	keepAlive := time.NewTicker(h.keepAliveInterval)
	defer keepAlive.Stop()

	lastSeq := -1
	var lastStatus model.ImportStatus
	for {
		job, err := h.service.GetStatus(ctx, importID)
		if err != nil {
			_ = sse.SendFailed(w, "internal", "Import status unavailable")
			return err
		}

		// Without Redis the job comes from the database and Seq stays 0.
		if job.Seq != lastSeq || job.Status != lastStatus {
			lastSeq, lastStatus = job.Seq, job.Status
			if err := sse.SendState(w, strconv.Itoa(job.Seq), job); err != nil {
				return err
			}
		}

		switch job.Status {
		case model.ImportStatusDone:
			imp, err := h.service.GetImport(ctx, importID)
			if err != nil {
				return sse.SendComplete(w, job)
			}
			return sse.SendComplete(w, imp.ToResponse())
		case model.ImportStatusFailed:
			return sse.SendFailed(w, job.FailureKind, job.FailureReason)
		}

		select {
		case <-ctx.Done():
			_ = sse.SendFailed(w, "timeout", "Stream closed before the import finished")
			return ctx.Err()
		case <-keepAlive.C:
			// A write error means the client went away
			if err := sse.SendKeepAlive(w); err != nil {
				return err
			}
		case <-poll.C:
		}
	}
}
