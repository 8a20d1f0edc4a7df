// mock-gateway is a local stand-in for the payment gateway's modification
// and payment-details endpoints, with Idempotency-Key replay.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/meridianpay/recon/internal/gateway"
	"github.com/meridianpay/recon/internal/logging"
)

type replayStore struct {
	mu        sync.Mutex
	responses map[string][]byte
}

func newReplayStore() *replayStore {
	return &replayStore{responses: map[string][]byte{}}
}

// Replay returns the stored response for a seen idempotency key, or invokes
// build once and remembers the result.
func (s *replayStore) Replay(key string, build func() []byte) []byte {
	if key == "" {
		return build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if resp, ok := s.responses[key]; ok {
		return resp
	}
	resp := build()
	s.responses[key] = resp
	return resp
}

func main() {
	logging.Init("mock-gateway", "info", os.Getenv("APP_ENV"))

	store := newReplayStore()
	counter := &pspCounter{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /capture", modificationHandler(store, counter, gateway.ResponseCaptureReceived))
	mux.HandleFunc("POST /refund", modificationHandler(store, counter, gateway.ResponseRefundReceived))
	mux.HandleFunc("POST /cancel", modificationHandler(store, counter, gateway.ResponseCancelReceived))
	mux.HandleFunc("POST /payments/details", detailsHandler(counter))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	slog.Info("mock gateway started", "addr", ":8081")
	if err := http.ListenAndServe(":8081", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type pspCounter struct {
	mu sync.Mutex
	n  int
}

func (c *pspCounter) next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return fmt.Sprintf("MOCK%d%04d", time.Now().Unix(), c.n)
}

func modificationHandler(store *replayStore, counter *pspCounter, response string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MerchantAccount   string `json:"merchantAccount"`
			OriginalReference string `json:"originalReference"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.MerchantAccount == "" || req.OriginalReference == "" {
			http.Error(w, "merchantAccount and originalReference are required", http.StatusUnprocessableEntity)
			return
		}

		key := r.Header.Get("Idempotency-Key")
		body := store.Replay(key, func() []byte {
			b, _ := json.Marshal(map[string]string{
				"pspReference": counter.next(),
				"response":     response,
			})
			return b
		})

		slog.Info("modification handled",
			"path", r.URL.Path,
			"original_reference", req.OriginalReference,
			"idempotency_key", key,
		)

		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}
}

func detailsHandler(counter *pspCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Details map[string]string `json:"details"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if len(req.Details) == 0 {
			http.Error(w, "details are required", http.StatusUnprocessableEntity)
			return
		}

		// The redirectResult blob steers the outcome so flows can be
		// exercised end to end: "refused" and "pending" map to themselves,
		// anything else authorises.
		resultCode := "Authorised"
		switch req.Details["redirectResult"] {
		case "refused":
			resultCode = "Refused"
		case "pending":
			resultCode = "Pending"
		}

		writeJSON(w, map[string]any{
			"resultCode":        resultCode,
			"pspReference":      counter.next(),
			"merchantReference": req.Details["merchantReference"],
			"paymentMethod":     map[string]string{"type": "scheme", "brand": "visa"},
		})
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
