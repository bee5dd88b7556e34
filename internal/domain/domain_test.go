package domain

import (
	"errors"
	"sort"
	"testing"
	"time"
)

func TestNormalizeBatchName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{input: "", want: ""},
		{input: "   ", want: ""},
		{input: "summer sale", want: "BATCH_SUMMER SALE"},
		{input: " batch_summer ", want: "BATCH_SUMMER"},
		{input: "BATCH_X", want: "BATCH_X"},
	}

	for _, tt := range tests {
		if got := NormalizeBatchName(tt.input); got != tt.want {
			t.Fatalf("NormalizeBatchName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDefaultBatchName(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.October, 15, 9, 30, 1, 250_000_000, time.UTC)
	if got := DefaultBatchName(now); got != "BATCH_20261015T093001.250Z" {
		t.Fatalf("DefaultBatchName() = %q", got)
	}
}

func TestFoldLegacyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want CodeStatus
	}{
		{raw: "active", want: CodeStatusNew},
		{raw: "USED", want: CodeStatusIssued},
		{raw: "redeemed", want: CodeStatusRedeemed},
		{raw: "Blocked", want: CodeStatusInvalid},
		{raw: "expired", want: CodeStatusExpired},
		{raw: "Reported", want: CodeStatus("reported")},
		{raw: "new", want: CodeStatusNew},
	}

	for _, tt := range tests {
		if got := FoldLegacyStatus(tt.raw); got != tt.want {
			t.Fatalf("FoldLegacyStatus(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestStatusMappingRoundTrip(t *testing.T) {
	t.Parallel()

	for internal, label := range InternalToLegacy {
		if got := LegacyToInternal[label]; got != internal {
			t.Fatalf("LegacyToInternal[%q] = %q, want %q", label, got, internal)
		}
	}
}

func TestMapStatusFilter(t *testing.T) {
	t.Parallel()

	if got := MapStatusFilter(""); got != "" {
		t.Fatalf("MapStatusFilter(\"\") = %q, want empty", got)
	}
	if got := MapStatusFilter("all"); got != "" {
		t.Fatalf("MapStatusFilter(all) = %q, want empty", got)
	}
	if got := MapStatusFilter(" Active "); got != CodeStatusNew {
		t.Fatalf("MapStatusFilter(Active) = %q, want new", got)
	}
	if got := MapStatusFilter("issued"); got != CodeStatusIssued {
		t.Fatalf("MapStatusFilter(issued) = %q, want issued", got)
	}
}

func TestLegacyLabelsFor(t *testing.T) {
	t.Parallel()

	got := LegacyLabelsFor(CodeStatusNew)
	sort.Strings(got)
	if len(got) != 2 || got[0] != "active" || got[1] != "new" {
		t.Fatalf("LegacyLabelsFor(new) = %v, want [active new]", got)
	}

	got = LegacyLabelsFor(CodeStatus("reported"))
	if len(got) != 1 || got[0] != "reported" {
		t.Fatalf("LegacyLabelsFor(reported) = %v, want [reported]", got)
	}
}

func TestGenerateRequestNormalize(t *testing.T) {
	t.Parallel()

	expires := " 2027-01-01 "
	blank := "  "
	payload, err := GenerateRequest{
		Name:      "spring",
		Prefix:    " sp_ring ",
		Length:    99,
		Count:     250_000,
		ExpiresAt: &expires,
		Metadata:  &blank,
		Format:    "LEGACY",
	}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if payload.Name != "BATCH_SPRING" {
		t.Fatalf("Name = %q, want BATCH_SPRING", payload.Name)
	}
	if payload.Prefix != "SPRING" {
		t.Fatalf("Prefix = %q, want SPRING", payload.Prefix)
	}
	if payload.Length != MaxCodeLength {
		t.Fatalf("Length = %d, want %d", payload.Length, MaxCodeLength)
	}
	if payload.Count != MaxCodeCount {
		t.Fatalf("Count = %d, want %d", payload.Count, MaxCodeCount)
	}
	if payload.ExpiresAt == nil || *payload.ExpiresAt != "2027-01-01" {
		t.Fatalf("ExpiresAt = %v, want 2027-01-01", payload.ExpiresAt)
	}
	if payload.Metadata != nil {
		t.Fatalf("Metadata = %v, want nil", *payload.Metadata)
	}
	if payload.Format != CodeFormatLegacy {
		t.Fatalf("Format = %q, want legacy", payload.Format)
	}
}

func TestGenerateRequestNormalizeRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  GenerateRequest
	}{
		{name: "zero count", req: GenerateRequest{Count: 0}},
		{name: "negative count", req: GenerateRequest{Count: -5}},
		{name: "unknown format", req: GenerateRequest{Count: 1, Format: "qr"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := tt.req.Normalize(); !errors.Is(err, ErrValidation) {
				t.Fatalf("Normalize() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestClampLength(t *testing.T) {
	t.Parallel()

	tests := map[int]int{0: DefaultCodeLength, 1: MinCodeLength, 12: 12, 30: MaxCodeLength, -3: MinCodeLength}
	for input, want := range tests {
		if got := ClampLength(input); got != want {
			t.Fatalf("ClampLength(%d) = %d, want %d", input, got, want)
		}
	}
}

func TestBatchValidate(t *testing.T) {
	t.Parallel()

	b := Batch{Name: "BATCH_A", Status: BatchStatusPending, Quantity: 1}
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	b.Status = BatchStatus("done")
	if err := b.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
}
