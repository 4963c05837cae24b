package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/vibecode-sh/vibecode-server/internal/protocol"
)

func TestFileUploadChunksBody(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	content := bytes.Repeat([]byte("vibecode"), 12800) // 100 KiB, two chunks
	resp, raw := env.request(t, http.MethodPost, "/hosts/"+testHost+"/files", testUser, map[string]string{
		"dest_path": "/home/vibe/notes.txt",
		"content":   base64.StdEncoding.EncodeToString(content),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", resp.StatusCode, raw)
	}
	var body uploadResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.Size != int64(len(content)) || body.Chunks != 2 {
		t.Fatalf("size/chunks = %d/%d, want %d/2", body.Size, body.Chunks, len(content))
	}

	sent := env.relay.sentEnvelopes()
	wantTypes := []string{
		protocol.TypeFileUploadBegin,
		protocol.TypeFileUploadChunk,
		protocol.TypeFileUploadChunk,
		protocol.TypeFileUploadEnd,
	}
	if len(sent) != len(wantTypes) {
		t.Fatalf("commands sent = %d, want %d", len(sent), len(wantTypes))
	}
	var reassembled []byte
	for i, env2 := range sent {
		if env2.Type != wantTypes[i] {
			t.Fatalf("command[%d] = %q, want %q", i, env2.Type, wantTypes[i])
		}
		if env2.TransferID != body.TransferID {
			t.Fatalf("command[%d] transfer = %q, want %q", i, env2.TransferID, body.TransferID)
		}
	}
	env.relay.mu.Lock()
	frames := append([][]byte(nil), env.relay.sentRaw...)
	env.relay.mu.Unlock()
	for _, frame := range frames[1:3] {
		var chunk protocol.FileUploadChunkCommand
		if err := json.Unmarshal(frame, &chunk); err != nil {
			t.Fatalf("unmarshal chunk: %v", err)
		}
		data, err := base64.StdEncoding.DecodeString(chunk.Data)
		if err != nil {
			t.Fatalf("decode chunk data: %v", err)
		}
		reassembled = append(reassembled, data...)
	}
	if !bytes.Equal(reassembled, content) {
		t.Fatal("reassembled chunks differ from the uploaded content")
	}
}

func TestFileUploadMidTransferFailureCancels(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.relay.reply = func(env protocol.Envelope) ([]byte, error) {
		if env.Type == protocol.TypeFileUploadChunk {
			return nil, errors.New("gateway disconnected")
		}
		return json.Marshal(protocol.AckEvent{Type: protocol.TypeAck, RequestID: env.RequestID, OK: true})
	}

	resp, _ := env.request(t, http.MethodPost, "/hosts/"+testHost+"/files", testUser, map[string]string{
		"dest_path": "/home/vibe/notes.txt",
		"content":   base64.StdEncoding.EncodeToString([]byte("payload")),
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}

	notified := env.relay.notifiedFrames()
	if len(notified) != 1 {
		t.Fatalf("notifications = %d, want one file.cancel", len(notified))
	}
	var cancel protocol.FileCancelCommand
	if err := json.Unmarshal(notified[0], &cancel); err != nil {
		t.Fatalf("unmarshal cancel: %v", err)
	}
	if cancel.Type != protocol.TypeFileCancel {
		t.Fatalf("notify type = %q, want file.cancel", cancel.Type)
	}
}

func TestFileUploadRejectsBadBase64(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodPost, "/hosts/"+testHost+"/files", testUser, map[string]string{
		"dest_path": "/home/vibe/notes.txt",
		"content":   "%%% not base64 %%%",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestFileDownloadStreamsContent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	content := []byte("the file body, in two chunks")
	ch := make(chan protocol.FileContentEvent, 8)
	ch <- protocol.FileContentEvent{Type: protocol.TypeFileContentBegin, Size: int64(len(content)), TotalChunks: 2}
	ch <- protocol.FileContentEvent{Type: protocol.TypeFileContentChunk, Seq: 0, Data: base64.StdEncoding.EncodeToString(content[:10])}
	ch <- protocol.FileContentEvent{Type: protocol.TypeFileContentChunk, Seq: 1, Data: base64.StdEncoding.EncodeToString(content[10:])}
	ch <- protocol.FileContentEvent{Type: protocol.TypeFileContentEnd}
	env.relay.transferCh = ch

	resp, raw := env.request(t, http.MethodGet, "/hosts/"+testHost+"/files?path=/home/vibe/notes.txt", testUser, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", resp.StatusCode, raw)
	}
	if !bytes.Equal(raw, content) {
		t.Fatalf("body = %q, want the streamed content", raw)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="notes.txt"` {
		t.Fatalf("content disposition = %q", cd)
	}
}

func TestFileDownloadGatewayError(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	ch := make(chan protocol.FileContentEvent, 2)
	ch <- protocol.FileContentEvent{Type: protocol.TypeFileContentEnd, Error: "no such file"}
	env.relay.transferCh = ch

	resp, raw := env.request(t, http.MethodGet, "/hosts/"+testHost+"/files?path=/missing", testUser, nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	var body map[string]string
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if body["error"] != "no such file" {
		t.Fatalf("error = %q, want the gateway's message", body["error"])
	}
}

func TestFileDownloadInterruptedTransfer(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	ch := make(chan protocol.FileContentEvent, 2)
	ch <- protocol.FileContentEvent{Type: protocol.TypeFileContentBegin, Size: 100}
	close(ch)
	env.relay.transferCh = ch

	resp, _ := env.request(t, http.MethodGet, "/hosts/"+testHost+"/files?path=/f", testUser, nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502 when the route closes early", resp.StatusCode)
	}
}

func TestFileDownloadRequiresPath(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodGet, "/hosts/"+testHost+"/files", testUser, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
