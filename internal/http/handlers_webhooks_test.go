package httpx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/meschain/marketsync/internal/domain/model"
)

func signWebhook(body string) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func signedHeader(body string) http.Header {
	h := http.Header{}
	h.Set("X-Trendyol-Signature", signWebhook(body))
	return h
}

const orderCreatedPayload = `{
	"eventType": "OrderCreated",
	"eventId": "evt-1",
	"order": {"orderNumber": "ord-1", "productId": "item-1", "quantity": 2}
}`

func TestWebhooks_VerifiedDeliveryDispatched(t *testing.T) {
	f := newRouterFixture(t)

	f.ledger.EXPECT().
		MarkProcessed(gomock.Any(), model.MarketplaceTrendyol, model.TopicItemSold, "evt-1").
		Return(true, nil)

	rec := f.do(http.MethodPost, "/webhooks/trendyol", orderCreatedPayload, signedHeader(orderCreatedPayload))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "handled", resp["outcome"])
}

func TestWebhooks_DuplicateAcknowledged(t *testing.T) {
	f := newRouterFixture(t)

	f.ledger.EXPECT().
		MarkProcessed(gomock.Any(), model.MarketplaceTrendyol, model.TopicItemSold, "evt-1").
		Return(false, nil)

	rec := f.do(http.MethodPost, "/webhooks/trendyol", orderCreatedPayload, signedHeader(orderCreatedPayload))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "duplicate", resp["outcome"])
}

func TestWebhooks_LedgerOutageAsksForRedelivery(t *testing.T) {
	f := newRouterFixture(t)

	f.ledger.EXPECT().
		MarkProcessed(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(false, assert.AnError)

	rec := f.do(http.MethodPost, "/webhooks/trendyol", orderCreatedPayload, signedHeader(orderCreatedPayload))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhooks_BadSignatureRejected(t *testing.T) {
	f := newRouterFixture(t)

	h := http.Header{}
	h.Set("X-Trendyol-Signature", "deadbeef")
	rec := f.do(http.MethodPost, "/webhooks/trendyol", orderCreatedPayload, h)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhooks_MissingSignatureRejected(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(http.MethodPost, "/webhooks/trendyol", orderCreatedPayload, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhooks_UnknownMarketplaceRejected(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(http.MethodPost, "/webhooks/etsy", orderCreatedPayload, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhooks_ChallengeHandshake(t *testing.T) {
	f := newRouterFixture(t)

	rec := f.do(http.MethodPost, "/webhooks/trendyol?challenge_code=tok-123", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, signWebhook("tok-123"), resp["challengeResponse"])
}

func TestWebhooks_OversizedPayloadRejected(t *testing.T) {
	f := newRouterFixture(t)

	huge := strings.Repeat("x", 8192)
	rec := f.do(http.MethodPost, "/webhooks/trendyol", huge, signedHeader(huge))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWebhooks_MalformedBodyRejected(t *testing.T) {
	f := newRouterFixture(t)

	// The signature is over the exact bytes, so a correctly signed body
	// that is not JSON still reaches the dispatcher. It must answer 400,
	// not acknowledge a payload that was never processed.
	body := `{not json`
	rec := f.do(http.MethodPost, "/webhooks/trendyol", body, signedHeader(body))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "malformed_payload", resp["error"])
}

func TestWebhooks_UnmappedEventAcknowledged(t *testing.T) {
	f := newRouterFixture(t)

	body := `{"eventType": "SomethingNew", "eventId": "evt-9"}`
	rec := f.do(http.MethodPost, "/webhooks/trendyol", body, signedHeader(body))

	// Unknown topics are acknowledged without touching the ledger so the
	// sender stops retrying.
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ignored", resp["outcome"])
}
