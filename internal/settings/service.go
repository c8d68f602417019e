package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrStoreUnavailable wraps every failure of the persistence collaborator.
	ErrStoreUnavailable = errors.New("settings store unavailable")
	// ErrInvalidTenant is returned for blank tenant keys before storage is touched.
	ErrInvalidTenant = errors.New("tenant key required")
)

// Repository is the persistence collaborator contract.
type Repository interface {
	FindByTenant(ctx context.Context, tenant string) (*Record, error)
	Upsert(ctx context.Context, rec Record) (Record, error)
	// CreateIfAbsent never overwrites an existing row.
	CreateIfAbsent(ctx context.Context, rec Record) (bool, error)
}

// Service implements load-with-defaults and all-fields save on top of a Repository.
// Records are never cached beyond a single call.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Load returns the tenant's record, creating it with defaults on first read.
func (s *Service) Load(ctx context.Context, tenant string) (Record, error) {
	tenant, err := normalizeTenant(tenant)
	if err != nil {
		return Record{}, err
	}
	rec, err := s.repo.FindByTenant(ctx, tenant)
	if err != nil {
		return Record{}, unavailable(err)
	}
	if rec != nil {
		return *rec, nil
	}
	// A concurrent Save may win the race to create the row; re-read either way.
	created, err := s.repo.CreateIfAbsent(ctx, Defaults(tenant))
	if err != nil {
		return Record{}, unavailable(err)
	}
	rec, err = s.repo.FindByTenant(ctx, tenant)
	if err != nil {
		return Record{}, unavailable(err)
	}
	if rec == nil {
		return Record{}, unavailable(fmt.Errorf("settings for %s vanished after create", tenant))
	}
	if created {
		s.logger.Info("settings defaults created", "tenant", tenant)
	}
	return *rec, nil
}

// Save overwrites every field of the tenant's record.
func (s *Service) Save(ctx context.Context, tenant string, rec Record) (Record, error) {
	tenant, err := normalizeTenant(tenant)
	if err != nil {
		return Record{}, err
	}
	rec.Tenant = tenant
	rec.MeasurementID = strings.TrimSpace(rec.MeasurementID)
	saved, err := s.repo.Upsert(ctx, rec)
	if err != nil {
		return Record{}, unavailable(err)
	}
	s.logger.Info("settings saved", "tenant", tenant, "configured", saved.Configured())
	return saved, nil
}

func normalizeTenant(tenant string) (string, error) {
	tenant = strings.ToLower(strings.TrimSpace(tenant))
	if tenant == "" {
		return "", ErrInvalidTenant
	}
	return tenant, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
