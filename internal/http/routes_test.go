package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/mocks"
	"github.com/meschain/marketsync/internal/service"
	"github.com/meschain/marketsync/internal/webhook"
)

const testWebhookSecret = "wh-secret"

type stubNotifier struct{}

func (stubNotifier) Subscribe(model.JobType) (func(), <-chan struct{}) {
	ch := make(chan struct{})
	close(ch)
	return func() {}, ch
}

func (stubNotifier) StopAll() {}

type routerFixture struct {
	jobs      *mocks.MockJobRepository
	schedules *mocks.MockScheduleRepository
	sweeper   *mocks.MockSweeperRepository
	ledger    *mocks.MockEventLedger
	handler   http.Handler
}

// newRouterFixture wires the full router against repository mocks. The
// webhook pipeline is real: verifier, classifier and dispatcher run the
// production code paths; only the stores are mocked.
func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := &routerFixture{
		jobs:      mocks.NewMockJobRepository(ctrl),
		schedules: mocks.NewMockScheduleRepository(ctrl),
		sweeper:   mocks.NewMockSweeperRepository(ctrl),
		ledger:    mocks.NewMockEventLedger(ctrl),
	}

	jobSvc, err := service.NewJobService(service.JobServiceOptions{
		Repo:         f.jobs,
		DefaultLease: time.Minute,
		Notifier:     stubNotifier{},
	})
	require.NoError(t, err)

	schedSvc, err := service.NewScheduleService(service.ScheduleServiceOptions{Repo: f.schedules})
	require.NoError(t, err)

	verifier := webhook.NewVerifier(webhook.VerifierOptions{
		Secrets: map[model.Marketplace]string{model.MarketplaceTrendyol: testWebhookSecret},
	})
	dispatcher := webhook.NewDispatcher(webhook.DispatcherOptions{
		Ledger: f.ledger,
		Handlers: map[model.Topic]webhook.Handler{
			model.TopicItemSold: func(context.Context, *model.Event) (model.DispatchOutcome, error) {
				return model.OutcomeHandled, nil
			},
		},
	})

	f.handler = NewRouter(RouterServices{
		Jobs:                jobSvc,
		Schedules:           schedSvc,
		Sweeper:             f.sweeper,
		Verifier:            verifier,
		Dispatcher:          dispatcher,
		WebhookMaxBodyBytes: 4096,
	})
	return f
}

func (f *routerFixture) do(method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}
