package domain

import (
	"strings"
	"time"
)

// CodeStatus is the internal, stored status of a promo code.
type CodeStatus string

const (
	CodeStatusNew      CodeStatus = "new"
	CodeStatusIssued   CodeStatus = "issued"
	CodeStatusRedeemed CodeStatus = "redeemed"
	CodeStatusInvalid  CodeStatus = "invalid"
)

func (s CodeStatus) String() string { return string(s) }

func (s CodeStatus) IsValid() bool {
	switch s {
	case CodeStatusNew, CodeStatusIssued, CodeStatusRedeemed, CodeStatusInvalid:
		return true
	}
	return false
}

// LegacyLabel is the presentation status vocabulary used for filtering and
// display, and stored verbatim in the legacy tables.
type LegacyLabel string

const (
	LegacyLabelActive   LegacyLabel = "active"
	LegacyLabelUsed     LegacyLabel = "used"
	LegacyLabelRedeemed LegacyLabel = "redeemed"
	LegacyLabelReported LegacyLabel = "reported"
	LegacyLabelExpired  LegacyLabel = "expired"
	LegacyLabelBlocked  LegacyLabel = "blocked"
)

func (l LegacyLabel) String() string { return string(l) }

// CodeStatusExpired is the bucket for expired codes. It has no internal
// equivalent, so it never matches a stored modern row.
const CodeStatusExpired CodeStatus = "expired"

// LegacyToInternal folds legacy labels into internal buckets. Labels not in
// the table pass through lower-cased.
var LegacyToInternal = map[LegacyLabel]CodeStatus{
	LegacyLabelActive:   CodeStatusNew,
	LegacyLabelUsed:     CodeStatusIssued,
	LegacyLabelRedeemed: CodeStatusRedeemed,
	LegacyLabelBlocked:  CodeStatusInvalid,
	LegacyLabelExpired:  CodeStatusExpired,
}

// InternalToLegacy is the inverse of LegacyToInternal over the modeled statuses.
var InternalToLegacy = map[CodeStatus]LegacyLabel{
	CodeStatusNew:      LegacyLabelActive,
	CodeStatusIssued:   LegacyLabelUsed,
	CodeStatusRedeemed: LegacyLabelRedeemed,
	CodeStatusInvalid:  LegacyLabelBlocked,
}

// FoldLegacyStatus maps a raw legacy status string to its internal bucket.
func FoldLegacyStatus(raw string) CodeStatus {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if mapped, ok := LegacyToInternal[LegacyLabel(normalized)]; ok {
		return mapped
	}
	return CodeStatus(normalized)
}

// MapStatusFilter translates a caller-supplied status filter, which may be a
// legacy label or an internal status, into the internal bucket. An empty
// filter (or "all") yields "".
func MapStatusFilter(value string) CodeStatus {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" || normalized == "all" {
		return ""
	}
	return FoldLegacyStatus(normalized)
}

// LegacyLabelsFor returns every raw legacy status value that folds into bucket.
func LegacyLabelsFor(bucket CodeStatus) []string {
	labels := []string{string(bucket)}
	for label, mapped := range LegacyToInternal {
		if mapped == bucket && string(label) != string(bucket) {
			labels = append(labels, string(label))
		}
	}
	return labels
}

// PromoCode is a single redeemable token belonging to exactly one batch.
type PromoCode struct {
	ID         string
	Code       string
	BatchID    string
	Status     CodeStatus
	Metadata   *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	RedeemedAt *time.Time
	VerifiedAt *time.Time
}

// CodeRow is one promo-code listing row from either table family. Status is
// the raw stored value; folding happens in the listing layer.
type CodeRow struct {
	ID        string
	Code      string
	Status    string
	BatchID   string
	BatchName *string
	Metadata  *string
	CreatedAt *time.Time
	UpdatedAt *time.Time
}

// LegacyCodeSchema is the set of columns present on the legacy promo code
// table, inspected once per request.
type LegacyCodeSchema struct {
	Columns map[string]struct{}
	// Legacy batches table is present and can be joined for batch names.
	HasBatchTable bool
}

func NewLegacyCodeSchema(columns []string) LegacyCodeSchema {
	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
	}
	return LegacyCodeSchema{Columns: set}
}

func (s LegacyCodeSchema) Has(column string) bool {
	_, ok := s.Columns[column]
	return ok
}

// Exists reports whether the legacy table exists at all.
func (s LegacyCodeSchema) Exists() bool {
	return len(s.Columns) > 0
}
