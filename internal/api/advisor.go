package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/STTM-NSU/trading-sim/internal/advisor"
	"github.com/bytedance/sonic"
)

type chunkDelta struct {
	Content string `json:"content"`
}

type chunkChoice struct {
	Delta chunkDelta `json:"delta"`
}

// chatChunk mirrors the OpenAI streaming chunk so existing clients can parse the relay.
type chatChunk struct {
	Choices []chunkChoice `json:"choices"`
}

func (h *Handler) handlePsychology(w http.ResponseWriter, r *http.Request) {
	var req advisor.PsychologyRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.advisor.AnalyzePsychology(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleTrends(w http.ResponseWriter, r *http.Request) {
	var req advisor.TrendRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	resp, err := h.advisor.PredictTrends(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChat relays the mentor's answer as server-sent events. Errors before the first byte
// get a JSON error with the mapped status; errors mid-stream end the stream with an error event.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req advisor.ChatRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	stream, err := h.advisor.Chat(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer stream.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		tok, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if r.Context().Err() != nil {
				h.logger.Debugf("chat client went away")
				return
			}
			h.logger.Errorf("%s: chat stream failed", err)
			_ = writeEvent(w, errorResponse{Error: message(err)})
			flush(flusher)
			return
		}

		if err := writeEvent(w, chatChunk{Choices: []chunkChoice{{Delta: chunkDelta{Content: tok}}}}); err != nil {
			h.logger.Debugf("%s: chat client went away", err)
			return
		}
		flush(flusher)
	}

	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flush(flusher)
}

func writeEvent(w io.Writer, v any) error {
	payload, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func flush(f http.Flusher) {
	if f != nil {
		f.Flush()
	}
}
