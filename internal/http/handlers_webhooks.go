package httpx

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/webhook"
)

// WebhookHandlers provides the inbound webhook intake endpoint.
type WebhookHandlers struct {
	Verifier   *webhook.Verifier
	Dispatcher *webhook.Dispatcher
	// MaxBodyBytes caps accepted payload size; zero disables the cap.
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Receive handles one marketplace delivery. Status codes tell the sender
// what to do: 401 means a signature problem the sender must fix, 400 means
// the signed body is not valid JSON, 500 asks for redelivery, and 200
// acknowledges everything else so marketplaces stop retrying payloads we
// can never process.
func (h *WebhookHandlers) Receive(w http.ResponseWriter, r *http.Request) {
	marketplace := model.Marketplace(r.PathValue("marketplace"))
	if !marketplace.Valid() {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "unknown_marketplace",
			Err:     errors.New("unknown marketplace"),
		})
		return
	}

	body := r.Body
	if h.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, ErrorParams{
				Code:    http.StatusRequestEntityTooLarge,
				ErrCode: "payload_too_large",
				Err:     errors.New("payload exceeds size limit"),
			})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "read_failed", Err: err})
		return
	}

	verified, err := h.Verifier.Verify(r.Context(), webhook.VerifyRequest{
		Marketplace: marketplace,
		Body:        payload,
		Headers:     r.Header,
		Query:       r.URL.Query(),
	})
	if err != nil {
		var challenge *webhook.ChallengeError
		if errors.As(err, &challenge) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(challenge.Response)
			return
		}
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "verification_failed",
			Err:     errors.New("verification failed"),
		})
		return
	}

	outcome, err := h.Dispatcher.Dispatch(r.Context(), verified)
	if err != nil {
		if errors.Is(err, webhook.ErrMalformedPayload) {
			WriteError(w, ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: "malformed_payload",
				Err:     errors.New("payload is not valid JSON"),
			})
			return
		}
		var derr *webhook.DispatchError
		if errors.As(err, &derr) && !derr.Retryable {
			// Permanent failure: acknowledge so the sender stops redelivering.
			if h.Logger != nil {
				h.Logger.WarnContext(r.Context(), "webhook acknowledged without processing",
					"marketplace", marketplace, "error", err)
			}
			WriteJSON(w, http.StatusOK, map[string]string{"outcome": string(model.OutcomeIgnored)})
			return
		}
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "dispatch_failed",
			Err:     errors.New("event processing failed, retry later"),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}
