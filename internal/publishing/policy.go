/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package publishing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/inkwell/internal/events"
	"github.com/friendsincode/inkwell/internal/models"
)

// ValidatePolicy checks the structural rules of a policy. It does not look at
// Active; Schedule rejects inactive policies separately.
func ValidatePolicy(p models.SchedulePolicy) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	}
	if !p.Cadence.Valid() {
		return fmt.Errorf("%w: unknown cadence %q", ErrInvalidPolicy, p.Cadence)
	}

	hasInterval := p.IntervalMinutes != nil
	if p.Cadence == models.CadenceCustom {
		if !hasInterval || *p.IntervalMinutes <= 0 {
			return fmt.Errorf("%w: custom cadence requires a positive interval_minutes", ErrInvalidPolicy)
		}
	} else if hasInterval {
		return fmt.Errorf("%w: interval_minutes is only valid with custom cadence", ErrInvalidPolicy)
	}

	if _, _, _, err := p.Blackout(); err != nil {
		return fmt.Errorf("%w: blackout: %v", ErrInvalidPolicy, err)
	}

	if p.DailyCap != nil && *p.DailyCap <= 0 {
		return fmt.Errorf("%w: daily_cap must be positive when set", ErrInvalidPolicy)
	}

	return nil
}

// CreatePolicy validates and stores a new policy.
func (s *Service) CreatePolicy(ctx context.Context, p models.SchedulePolicy) (*models.SchedulePolicy, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := ValidatePolicy(p); err != nil {
		return nil, err
	}
	if err := s.ensureNameFree(ctx, p.Name, ""); err != nil {
		return nil, err
	}

	p.ID = uuid.NewString()
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}

	s.logger.Info().Str("policy_id", p.ID).Str("name", p.Name).Msg("policy created")
	s.emit(ctx, events.EventPolicyCreated, policyPayload(&p))
	return &p, nil
}

// UpdatePolicy replaces the configurable fields of an existing policy.
// Entries already scheduled keep their target times.
func (s *Service) UpdatePolicy(ctx context.Context, id string, p models.SchedulePolicy) (*models.SchedulePolicy, error) {
	existing, err := s.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}

	p.Name = strings.TrimSpace(p.Name)
	if err := ValidatePolicy(p); err != nil {
		return nil, err
	}
	if err := s.ensureNameFree(ctx, p.Name, id); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Model(existing).
		Select("Name", "Active", "Cadence", "IntervalMinutes", "BlackoutStart", "BlackoutEnd", "DailyCap", "Priority").
		Updates(&p).Error
	if err != nil {
		return nil, fmt.Errorf("update policy: %w", err)
	}

	updated, err := s.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("policy_id", id).Msg("policy updated")
	s.emit(ctx, events.EventPolicyUpdated, policyPayload(updated))
	return updated, nil
}

// DeactivatePolicy stops a policy from accepting new entries and from
// promoting its scheduled ones. Deactivating twice is not an error.
func (s *Service) DeactivatePolicy(ctx context.Context, id string) (*models.SchedulePolicy, error) {
	policy, err := s.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.Active {
		return policy, nil
	}

	if err := s.db.WithContext(ctx).Model(policy).Update("active", false).Error; err != nil {
		return nil, fmt.Errorf("deactivate policy: %w", err)
	}
	policy.Active = false

	s.logger.Info().Str("policy_id", id).Msg("policy deactivated")
	s.emit(ctx, events.EventPolicyDeactivated, policyPayload(policy))
	return policy, nil
}

// GetPolicy loads a policy by ID.
func (s *Service) GetPolicy(ctx context.Context, id string) (*models.SchedulePolicy, error) {
	var policy models.SchedulePolicy
	err := s.db.WithContext(ctx).First(&policy, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return &policy, nil
}

// GetPolicyByName loads a policy by its unique name.
func (s *Service) GetPolicyByName(ctx context.Context, name string) (*models.SchedulePolicy, error) {
	var policy models.SchedulePolicy
	err := s.db.WithContext(ctx).First(&policy, "name = ?", strings.TrimSpace(name)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("policy %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return &policy, nil
}

// ListPolicies returns all policies, highest priority first.
func (s *Service) ListPolicies(ctx context.Context) ([]models.SchedulePolicy, error) {
	var policies []models.SchedulePolicy
	if err := s.db.WithContext(ctx).Order("priority DESC").Order("name ASC").Find(&policies).Error; err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}

func (s *Service) ensureNameFree(ctx context.Context, name, exceptID string) error {
	query := s.db.WithContext(ctx).Model(&models.SchedulePolicy{}).Where("name = ?", name)
	if exceptID != "" {
		query = query.Where("id <> ?", exceptID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("check policy name: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: name %q already in use", ErrInvalidPolicy, name)
	}
	return nil
}

func policyPayload(p *models.SchedulePolicy) events.Payload {
	return events.Payload{
		"resource_type": "policy",
		"resource_id":   p.ID,
		"policy_id":     p.ID,
		"name":          p.Name,
		"active":        p.Active,
		"cadence":       string(p.Cadence),
	}
}
