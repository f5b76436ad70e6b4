// Package mocks provides mock implementations for testing the marketsync job system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our repository interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(job, nil)
package mocks

// Generate mock for JobRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_repository_mock.go github.com/meschain/marketsync/internal/core JobRepository

// Generate mock for ScheduleRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=schedule_repository_mock.go github.com/meschain/marketsync/internal/core ScheduleRepository

// Generate mock for JobIntrospector interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_introspector_mock.go github.com/meschain/marketsync/internal/core JobIntrospector

// Generate mock for SweeperRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=sweeper_repository_mock.go github.com/meschain/marketsync/internal/core SweeperRepository

// Generate mock for StockRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=stock_repository_mock.go github.com/meschain/marketsync/internal/core StockRepository

// Generate mock for EventLedger interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=event_ledger_mock.go github.com/meschain/marketsync/internal/core EventLedger

// Generate mock for CacheRepository interface from internal/core package.
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=cache_repository_mock.go github.com/meschain/marketsync/internal/core CacheRepository
