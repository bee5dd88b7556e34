package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/promo-engine/internal/domain"
	"github.com/kursadbilgin/promo-engine/internal/observability"
	"github.com/kursadbilgin/promo-engine/internal/repository"
	"go.uber.org/zap"
)

// RedeemableStatus is the stored status a code must carry to verify as valid
// or to be redeemed. It is the legacy-facing label, not an internal status,
// so freshly generated codes ("new") do not qualify.
const RedeemableStatus = string(domain.LegacyLabelActive)

type VerifyResult struct {
	Found      bool
	Valid      bool
	Status     string
	RedeemedAt *time.Time
	VerifiedAt *time.Time
}

type VerifyService struct {
	codes   repository.PromoCodeRepository
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewVerifyService(codes repository.PromoCodeRepository, logger *zap.Logger) (*VerifyService, error) {
	if codes == nil {
		return nil, fmt.Errorf("promo code repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerifyService{codes: codes, logger: logger, now: time.Now}, nil
}

func (s *VerifyService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Check looks a code up without changing it.
func (s *VerifyService) Check(ctx context.Context, code string) (VerifyResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return VerifyResult{}, fmt.Errorf("%w: code is required", domain.ErrValidation)
	}

	pc, err := s.codes.GetByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		s.metrics.IncVerify("check", "not_found")
		return VerifyResult{}, nil
	}
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to load promo code: %w", err)
	}

	valid := string(pc.Status) == RedeemableStatus && pc.RedeemedAt == nil
	s.metrics.IncVerify("check", validOutcome(valid))

	return VerifyResult{
		Found:      true,
		Valid:      valid,
		Status:     pc.Status.String(),
		RedeemedAt: pc.RedeemedAt,
		VerifiedAt: pc.VerifiedAt,
	}, nil
}

// Redeem performs a one-time redemption. It reports false when the code is
// unknown or no longer eligible.
func (s *VerifyService) Redeem(ctx context.Context, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, fmt.Errorf("%w: code is required", domain.ErrValidation)
	}

	ok, err := s.codes.RedeemIfStatus(ctx, code, RedeemableStatus, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to redeem promo code: %w", err)
	}
	s.metrics.IncVerify("redeem", validOutcome(ok))
	if ok {
		s.logger.Info("promo code redeemed", zap.String("code", code))
	}
	return ok, nil
}

func validOutcome(ok bool) string {
	if ok {
		return "valid"
	}
	return "invalid"
}
