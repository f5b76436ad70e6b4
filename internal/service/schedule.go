package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meschain/marketsync/internal/core"
	"github.com/meschain/marketsync/internal/domain/model"
)

// minScheduleInterval mirrors the model-level floor on definition intervals.
const minScheduleInterval = time.Minute

// ScheduleServiceOptions groups dependencies for ScheduleService.
type ScheduleServiceOptions struct {
	Repo   core.ScheduleRepository // Required: schedule definition repository
	Logger *slog.Logger            // Optional: structured logger
}

// ScheduleService manages recurring job definitions.
type ScheduleService struct {
	repo   core.ScheduleRepository
	logger *slog.Logger
}

// NewScheduleService constructs a new ScheduleService.
func NewScheduleService(opts ScheduleServiceOptions) (*ScheduleService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ScheduleRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "schedule_service")
	}

	return &ScheduleService{repo: opts.Repo, logger: logger}, nil
}

// Create registers a new recurring definition.
func (s *ScheduleService) Create(
	ctx context.Context,
	req *model.CreateScheduleRequest,
) (*model.ScheduleDefinition, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate definition: %w", err)
	}

	def, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create definition: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "schedule definition created",
			"id", def.ID, "name", def.Name, "job_type", def.JobType, "interval", def.Interval)
	}

	return def, nil
}

// GetByID returns a definition by its ID.
func (s *ScheduleService) GetByID(ctx context.Context, id string) (*model.ScheduleDefinition, error) {
	def, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get definition %s: %w", id, err)
	}
	return def, nil
}

// List returns definitions with pagination.
func (s *ScheduleService) List(ctx context.Context, limit, offset int) ([]*model.ScheduleDefinition, error) {
	p := normalizePagination(limit, offset)
	defs, err := s.repo.List(ctx, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	return defs, nil
}

// Update applies a partial update to a definition.
func (s *ScheduleService) Update(
	ctx context.Context,
	id string,
	req model.UpdateScheduleRequest,
) (*model.ScheduleDefinition, error) {
	if req.Interval != nil && *req.Interval < minScheduleInterval {
		return nil, errors.New("interval must be at least one minute")
	}

	def, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("update definition %s: %w", id, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "schedule definition updated", "id", def.ID, "name", def.Name)
	}

	return def, nil
}

// SetActive toggles a definition. Deactivating never touches jobs already
// queued from it; they drain normally.
func (s *ScheduleService) SetActive(ctx context.Context, id string, active bool) (*model.ScheduleDefinition, error) {
	def, err := s.repo.SetActive(ctx, id, active)
	if err != nil {
		return nil, fmt.Errorf("set definition %s active=%t: %w", id, active, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "schedule definition toggled",
			"id", def.ID, "name", def.Name, "active", def.IsActive)
	}

	return def, nil
}

// Delete removes a definition. Returns false when it did not exist.
func (s *ScheduleService) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete definition %s: %w", id, err)
	}

	if deleted && s.logger != nil {
		s.logger.InfoContext(ctx, "schedule definition deleted", "id", id)
	}

	return deleted, nil
}
