package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/promo-engine/internal/domain"
)

func TestVerifyServiceCheck(t *testing.T) {
	t.Parallel()

	redeemedAt := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	codes := map[string]*domain.PromoCode{
		"ACTIVE":   {Code: "ACTIVE", Status: domain.CodeStatus("active")},
		"NEW":      {Code: "NEW", Status: domain.CodeStatusNew},
		"ISSUED":   {Code: "ISSUED", Status: domain.CodeStatusIssued},
		"REDEEMED": {Code: "REDEEMED", Status: domain.CodeStatus("active"), RedeemedAt: &redeemedAt},
	}
	repo := &fakePromoCodeRepo{
		getByCodeFn: func(ctx context.Context, code string) (*domain.PromoCode, error) {
			if pc, ok := codes[code]; ok {
				return pc, nil
			}
			return nil, domain.ErrNotFound
		},
	}
	svc, err := NewVerifyService(repo, nil)
	if err != nil {
		t.Fatalf("NewVerifyService() error = %v", err)
	}

	tests := []struct {
		code      string
		wantFound bool
		wantValid bool
	}{
		{code: " ACTIVE ", wantFound: true, wantValid: true},
		{code: "NEW", wantFound: true, wantValid: false},
		{code: "ISSUED", wantFound: true, wantValid: false},
		{code: "REDEEMED", wantFound: true, wantValid: false},
		{code: "MISSING", wantFound: false, wantValid: false},
	}

	for _, tt := range tests {
		got, err := svc.Check(context.Background(), tt.code)
		if err != nil {
			t.Fatalf("Check(%q) error = %v", tt.code, err)
		}
		if got.Found != tt.wantFound || got.Valid != tt.wantValid {
			t.Fatalf("Check(%q) = %+v, want found=%v valid=%v", tt.code, got, tt.wantFound, tt.wantValid)
		}
	}

	if _, err := svc.Check(context.Background(), "  "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Check(blank) error = %v, want ErrValidation", err)
	}
}

func TestVerifyServiceRedeemOnce(t *testing.T) {
	t.Parallel()

	status := map[string]string{"ACTIVE": "active", "NEW": "new"}
	repo := &fakePromoCodeRepo{
		redeemIfStatusFn: func(ctx context.Context, code string, from string, at time.Time) (bool, error) {
			if from != RedeemableStatus {
				t.Fatalf("from = %q, want %q", from, RedeemableStatus)
			}
			if status[code] != from {
				return false, nil
			}
			status[code] = domain.CodeStatusRedeemed.String()
			return true, nil
		},
	}
	svc, err := NewVerifyService(repo, nil)
	if err != nil {
		t.Fatalf("NewVerifyService() error = %v", err)
	}

	ok, err := svc.Redeem(context.Background(), "ACTIVE")
	if err != nil || !ok {
		t.Fatalf("first Redeem() = %v, %v, want true", ok, err)
	}
	ok, err = svc.Redeem(context.Background(), "ACTIVE")
	if err != nil || ok {
		t.Fatalf("second Redeem() = %v, %v, want false", ok, err)
	}
	ok, err = svc.Redeem(context.Background(), "NEW")
	if err != nil || ok {
		t.Fatalf("Redeem(new) = %v, %v, want false", ok, err)
	}
	if _, err := svc.Redeem(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Redeem(blank) error = %v, want ErrValidation", err)
	}
}

func TestVerifyServiceRedeemStoreError(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("db down")
	repo := &fakePromoCodeRepo{
		redeemIfStatusFn: func(ctx context.Context, code string, from string, at time.Time) (bool, error) {
			return false, storeErr
		},
	}
	svc, err := NewVerifyService(repo, nil)
	if err != nil {
		t.Fatalf("NewVerifyService() error = %v", err)
	}

	if _, err := svc.Redeem(context.Background(), "X"); !errors.Is(err, storeErr) {
		t.Fatalf("Redeem() error = %v, want %v", err, storeErr)
	}
}
