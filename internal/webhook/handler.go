package webhook

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/markb/mentionbot/internal/log"
)

const maxPayload = 1 << 20

// Handler answers CRC challenges and hands every other request to Next.
type Handler struct {
	Secret string
	// Next receives ordinary payload deliveries.
	Next http.Handler
	// VerifyPayloads requires a valid signature header on POST bodies
	// before they reach Next.
	VerifyPayloads bool
}

type crcResponse struct {
	ResponseToken string `json:"response_token"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Query().Has("crc_token") {
		h.serveCRC(w, r)
		return
	}

	if h.VerifyPayloads && r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxPayload))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		if err := VerifySignature(body, r.Header.Get(SignatureHeader), h.Secret); err != nil {
			log.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr, "error", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	if h.Next == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.Next.ServeHTTP(w, r)
}

func (h *Handler) serveCRC(w http.ResponseWriter, r *http.Request) {
	digest, err := ComputeChallengeResponse(r.URL.Query().Get("crc_token"), h.Secret)
	if err != nil {
		log.Error("crc challenge failed", "error", err)
		http.Error(w, "webhook secret not configured", http.StatusInternalServerError)
		return
	}
	body, err := json.Marshal(crcResponse{ResponseToken: signaturePrefix + digest})
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
