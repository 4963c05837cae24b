package api

import (
	"encoding/base64"
	"encoding/json"
	"path"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/vibecode-sh/vibecode-server/internal/gateway"
	"github.com/vibecode-sh/vibecode-server/internal/host"
	"github.com/vibecode-sh/vibecode-server/internal/httputil"
	"github.com/vibecode-sh/vibecode-server/internal/ids"
	"github.com/vibecode-sh/vibecode-server/internal/protocol"
)

// uploadChunkBytes is the raw payload size per file.upload.chunk command. Base64 expansion keeps the resulting frame
// well under the gateway text frame limit.
const uploadChunkBytes = 64 * 1024

// downloadStallTimeout bounds the wait for the next file.content event of an open download.
const downloadStallTimeout = 30 * time.Second

// maxUploadBytes bounds the decoded size of a single upload request.
const maxUploadBytes = 32 << 20

// FileHandler serves file transfer under /hosts/{host_id}/files. Uploads are pushed as acked chunk commands; downloads
// stream back through a hub transfer route.
type FileHandler struct {
	hostGuard
	gateways gateway.Repository
	relay    Relay
}

// NewFileHandler creates a new file handler.
func NewFileHandler(hosts host.Repository, gateways gateway.Repository, relay Relay, logger zerolog.Logger) *FileHandler {
	return &FileHandler{
		hostGuard: hostGuard{hosts: hosts, log: logger},
		gateways:  gateways,
		relay:     relay,
	}
}

// cancelTransfer tells the gateway to abort an in-flight transfer. Fire-and-forget; the gateway may already be gone.
func (h *FileHandler) cancelTransfer(gatewayID, transferID string) {
	cmd, err := json.Marshal(protocol.FileCancelCommand{
		Type:          protocol.TypeFileCancel,
		SchemaVersion: protocol.SchemaVersion,
		TransferID:    transferID,
	})
	if err != nil {
		return
	}
	h.relay.Notify(gatewayID, cmd)
}

type uploadRequest struct {
	DestPath string `json:"dest_path"`
	Content  string `json:"content"` // base64-encoded file body
}

type uploadResponse struct {
	TransferID string `json:"transfer_id"`
	DestPath   string `json:"dest_path"`
	Size       int64  `json:"size"`
	Chunks     int    `json:"chunks"`
}

// Upload handles POST /hosts/{host_id}/files. The body is pushed to the gateway as an acked begin/chunk/end command
// sequence; any dispatch failure aborts the transfer on the gateway side before reporting it.
func (h *FileHandler) Upload(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	gatewayID, err := gatewayIDFor(c, h.gateways, hst.ID, h.log)
	if err != nil {
		return err
	}

	var body uploadRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if body.DestPath == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "dest_path is required")
	}
	data, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "content must be base64")
	}
	if len(data) > maxUploadBytes {
		return httputil.Fail(c, fiber.StatusRequestEntityTooLarge, "file too large")
	}

	transferID := ids.NewTransferID()
	totalChunks := (len(data) + uploadChunkBytes - 1) / uploadChunkBytes

	begin, err := json.Marshal(protocol.FileUploadBeginCommand{
		Type:          protocol.TypeFileUploadBegin,
		SchemaVersion: protocol.SchemaVersion,
		RequestID:     ids.NewRequestID("up"),
		TransferID:    transferID,
		DestPath:      body.DestPath,
		Size:          int64(len(data)),
		TotalChunks:   totalChunks,
	})
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	if _, err := h.relay.Send(gatewayID, begin); err != nil {
		return mapCommandError(c, err)
	}

	for seq := 0; seq < totalChunks; seq++ {
		start := seq * uploadChunkBytes
		end := start + uploadChunkBytes
		if end > len(data) {
			end = len(data)
		}
		chunk, err := json.Marshal(protocol.FileUploadChunkCommand{
			Type:          protocol.TypeFileUploadChunk,
			SchemaVersion: protocol.SchemaVersion,
			RequestID:     ids.NewRequestID("up"),
			TransferID:    transferID,
			Seq:           seq,
			Data:          base64.StdEncoding.EncodeToString(data[start:end]),
		})
		if err != nil {
			h.cancelTransfer(gatewayID, transferID)
			return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
		}
		if _, err := h.relay.Send(gatewayID, chunk); err != nil {
			h.cancelTransfer(gatewayID, transferID)
			return mapCommandError(c, err)
		}
	}

	fin, err := json.Marshal(protocol.FileUploadEndCommand{
		Type:          protocol.TypeFileUploadEnd,
		SchemaVersion: protocol.SchemaVersion,
		RequestID:     ids.NewRequestID("up"),
		TransferID:    transferID,
	})
	if err != nil {
		h.cancelTransfer(gatewayID, transferID)
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	if _, err := h.relay.Send(gatewayID, fin); err != nil {
		h.cancelTransfer(gatewayID, transferID)
		return mapCommandError(c, err)
	}

	h.log.Info().Str("host_id", hst.ID).Str("transfer_id", transferID).Int("bytes", len(data)).Msg("File uploaded")
	return httputil.SuccessStatus(c, fiber.StatusCreated, uploadResponse{
		TransferID: transferID,
		DestPath:   body.DestPath,
		Size:       int64(len(data)),
		Chunks:     totalChunks,
	})
}

// Download handles GET /hosts/{host_id}/files?path=. The transfer route is opened before the command is dispatched so
// no content event can arrive unrouted; the response buffers the full file and returns it as an octet stream.
func (h *FileHandler) Download(c fiber.Ctx) error {
	hst, err := h.requireOwnedHost(c)
	if err != nil {
		return err
	}
	gatewayID, err := gatewayIDFor(c, h.gateways, hst.ID, h.log)
	if err != nil {
		return err
	}

	filePath := c.Query("path")
	if filePath == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, "path is required")
	}

	transferID := ids.NewTransferID()
	events, cancel, err := h.relay.OpenTransfer(gatewayID, transferID)
	if err != nil {
		return mapCommandError(c, err)
	}
	defer cancel()

	cmd, err := json.Marshal(protocol.FileDownloadCommand{
		Type:          protocol.TypeFileDownload,
		SchemaVersion: protocol.SchemaVersion,
		RequestID:     ids.NewRequestID("dl"),
		TransferID:    transferID,
		Path:          filePath,
	})
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, "internal error")
	}
	if _, err := h.relay.Send(gatewayID, cmd); err != nil {
		return mapCommandError(c, err)
	}

	var buf []byte
	stall := time.NewTimer(downloadStallTimeout)
	defer stall.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return httputil.Fail(c, fiber.StatusBadGateway, "transfer interrupted")
			}
			if !stall.Stop() {
				<-stall.C
			}
			stall.Reset(downloadStallTimeout)

			switch ev.Type {
			case protocol.TypeFileContentBegin:
				if ev.Size > 0 {
					buf = make([]byte, 0, ev.Size)
				}
			case protocol.TypeFileContentChunk:
				chunk, err := base64.StdEncoding.DecodeString(ev.Data)
				if err != nil {
					h.cancelTransfer(gatewayID, transferID)
					return httputil.Fail(c, fiber.StatusBadGateway, "transfer corrupted")
				}
				buf = append(buf, chunk...)
			case protocol.TypeFileContentEnd:
				if ev.Error != "" {
					return httputil.Fail(c, fiber.StatusBadGateway, ev.Error)
				}
				c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
				c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+path.Base(filePath)+`"`)
				return c.Send(buf)
			}
		case <-stall.C:
			h.cancelTransfer(gatewayID, transferID)
			return httputil.Fail(c, fiber.StatusBadGateway, "transfer stalled")
		}
	}
}
