package repository

import (
	"context"
	"slices"
	"strings"

	"github.com/kursadbilgin/promo-engine/internal/domain"
	"gorm.io/gorm"
)

// BatchFilter narrows a batch listing. Status is matched verbatim against the
// stored value.
type BatchFilter struct {
	Search string
	Status string
}

// CodeFilter narrows a modern promo-code listing.
type CodeFilter struct {
	Search string
	Status domain.CodeStatus
}

// LegacyCodeFilter narrows a legacy promo-code listing. Statuses are raw
// lower-cased labels; any match is accepted.
type LegacyCodeFilter struct {
	Search   string
	Statuses []string
}

type Page struct {
	Offset int
	Limit  int
}

type BatchListingRepository interface {
	LegacyBatchTableExists(ctx context.Context) (bool, error)
	CountBatches(ctx context.Context, source domain.Source, filter BatchFilter) (int64, error)
	CountBatchesByStatus(ctx context.Context, source domain.Source, search string) (map[string]int64, error)
	ListBatches(ctx context.Context, source domain.Source, filter BatchFilter, page Page) ([]domain.BatchRow, error)
	CountRedeemedByBatch(ctx context.Context, batchIDs []string) (map[string]int64, error)
}

type CodeListingRepository interface {
	CountCodes(ctx context.Context, filter CodeFilter) (int64, error)
	CountCodesByStatus(ctx context.Context, search string) (map[string]int64, error)
	ListCodes(ctx context.Context, filter CodeFilter, page Page) ([]domain.CodeRow, error)

	InspectLegacyCodeSchema(ctx context.Context) (domain.LegacyCodeSchema, error)
	CountLegacyCodes(ctx context.Context, schema domain.LegacyCodeSchema, filter LegacyCodeFilter) (int64, error)
	CountLegacyCodesByStatus(ctx context.Context, schema domain.LegacyCodeSchema, search string) (map[string]int64, error)
	ListLegacyCodes(ctx context.Context, schema domain.LegacyCodeSchema, filter LegacyCodeFilter, page Page) ([]domain.CodeRow, error)
}

type GormListingRepo struct {
	db *gorm.DB
}

func NewGormListingRepo(db *gorm.DB) *GormListingRepo {
	return &GormListingRepo{db: db}
}

func (r *GormListingRepo) LegacyBatchTableExists(ctx context.Context) (bool, error) {
	return r.tableExists(ctx, legacyBatchTable)
}

func (r *GormListingRepo) CountBatches(ctx context.Context, source domain.Source, filter BatchFilter) (int64, error) {
	if source == domain.SourceLegacy {
		exists, err := r.LegacyBatchTableExists(ctx)
		if err != nil || !exists {
			return 0, err
		}
	}

	var count int64
	err := r.batchQuery(ctx, source, filter).Count(&count).Error
	return count, err
}

func (r *GormListingRepo) CountBatchesByStatus(ctx context.Context, source domain.Source, search string) (map[string]int64, error) {
	var rows []statusCount
	err := r.batchQuery(ctx, source, BatchFilter{Search: search}).
		Select("COALESCE(status, '') AS status, COUNT(*) AS count").
		Group("COALESCE(status, '')").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return statusCountsToMap(rows, false), nil
}

func (r *GormListingRepo) ListBatches(ctx context.Context, source domain.Source, filter BatchFilter, page Page) ([]domain.BatchRow, error) {
	q := r.batchQuery(ctx, source, filter)
	if source == domain.SourceLegacy {
		q = q.Select(`CAST(id AS TEXT) AS id, name, COALESCE(status, '') AS status,
			COALESCE(total_codes, 0) AS quantity, '' AS prefix, '' AS suffix,
			COALESCE(assigned_user, '') AS created_by, created_at, updated_at,
			redeemed_count, amount_per_code, expiration_date`)
	} else {
		q = q.Select(`CAST(id AS TEXT) AS id, name, status, quantity,
			COALESCE(prefix, '') AS prefix, COALESCE(suffix, '') AS suffix,
			created_by, created_at, updated_at`)
	}

	var rows []batchListRow
	err := q.Order("created_at DESC").
		Offset(page.Offset).
		Limit(page.Limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.BatchRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, batchRowToDomain(row))
	}
	return out, nil
}

func (r *GormListingRepo) CountRedeemedByBatch(ctx context.Context, batchIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(batchIDs))
	if len(batchIDs) == 0 {
		return out, nil
	}

	var rows []batchCount
	err := r.db.WithContext(ctx).
		Model(&PromoCodeModel{}).
		Select("CAST(batch_id AS TEXT) AS batch_id, COUNT(*) AS count").
		Where("batch_id IN ? AND status = ?", batchIDs, domain.CodeStatusRedeemed).
		Group("batch_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.BatchID] = row.Count
	}
	return out, nil
}

func (r *GormListingRepo) batchQuery(ctx context.Context, source domain.Source, filter BatchFilter) *gorm.DB {
	table := batchTable
	if source == domain.SourceLegacy {
		table = legacyBatchTable
	}

	q := r.db.WithContext(ctx).Table(table)
	if filter.Search != "" {
		q = q.Where("name ILIKE ?", likePattern(filter.Search))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	return q
}

func (r *GormListingRepo) CountCodes(ctx context.Context, filter CodeFilter) (int64, error) {
	var count int64
	err := r.codeQuery(ctx, filter).Count(&count).Error
	return count, err
}

func (r *GormListingRepo) CountCodesByStatus(ctx context.Context, search string) (map[string]int64, error) {
	var rows []statusCount
	err := r.codeQuery(ctx, CodeFilter{Search: search}).
		Select("pc.status AS status, COUNT(*) AS count").
		Group("pc.status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return statusCountsToMap(rows, false), nil
}

func (r *GormListingRepo) ListCodes(ctx context.Context, filter CodeFilter, page Page) ([]domain.CodeRow, error) {
	var rows []codeListRow
	err := r.codeQuery(ctx, filter).
		Select(`CAST(pc.id AS TEXT) AS id, pc.code, pc.status, CAST(pc.batch_id AS TEXT) AS batch_id,
			b.name AS batch_name, pc.metadata, pc.created_at, pc.updated_at`).
		Joins("LEFT JOIN " + batchTable + " b ON b.id = pc.batch_id").
		Order("pc.created_at DESC").
		Offset(page.Offset).
		Limit(page.Limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return codeRowsToDomain(rows), nil
}

func (r *GormListingRepo) codeQuery(ctx context.Context, filter CodeFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Table(promoCodeTable + " AS pc")
	if filter.Search != "" {
		q = q.Where("pc.code ILIKE ?", likePattern(filter.Search))
	}
	if filter.Status != "" {
		q = q.Where("pc.status = ?", filter.Status)
	}
	return q
}

func (r *GormListingRepo) InspectLegacyCodeSchema(ctx context.Context) (domain.LegacyCodeSchema, error) {
	var columns []string
	err := r.db.WithContext(ctx).
		Raw(`SELECT column_name FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = ?
			ORDER BY ordinal_position`, legacyPromoCodeTable).
		Scan(&columns).Error
	if err != nil {
		return domain.LegacyCodeSchema{}, err
	}

	schema := domain.NewLegacyCodeSchema(columns)
	if schema.Exists() {
		hasBatches, err := r.LegacyBatchTableExists(ctx)
		if err != nil {
			return domain.LegacyCodeSchema{}, err
		}
		schema.HasBatchTable = hasBatches
	}
	return schema, nil
}

func (r *GormListingRepo) CountLegacyCodes(ctx context.Context, schema domain.LegacyCodeSchema, filter LegacyCodeFilter) (int64, error) {
	if !schema.Exists() {
		return 0, nil
	}

	var count int64
	err := r.legacyCodeQuery(ctx, schema, filter).Count(&count).Error
	return count, err
}

func (r *GormListingRepo) CountLegacyCodesByStatus(ctx context.Context, schema domain.LegacyCodeSchema, search string) (map[string]int64, error) {
	if !schema.Exists() {
		return map[string]int64{}, nil
	}

	q := r.legacyCodeQuery(ctx, schema, LegacyCodeFilter{Search: search})
	if !schema.Has("status") {
		// Rows without a status column are all active.
		var count int64
		if err := q.Count(&count).Error; err != nil {
			return nil, err
		}
		return map[string]int64{string(domain.LegacyLabelActive): count}, nil
	}

	var rows []statusCount
	err := legacyStatusCounts(q).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return statusCountsToMap(rows, true), nil
}

func (r *GormListingRepo) ListLegacyCodes(
	ctx context.Context,
	schema domain.LegacyCodeSchema,
	filter LegacyCodeFilter,
	page Page,
) ([]domain.CodeRow, error) {
	if !schema.Exists() {
		return []domain.CodeRow{}, nil
	}

	q := r.legacyCodeQuery(ctx, schema, filter).Select(legacyCodeProjection(schema))
	if schema.Has("batch_id") && schema.HasBatchTable {
		q = q.Joins("LEFT JOIN " + legacyBatchTable + " lb ON CAST(lb.id AS TEXT) = CAST(pc.batch_id AS TEXT)")
	}

	var rows []codeListRow
	err := q.Order(legacyCodeOrder(schema)).
		Offset(page.Offset).
		Limit(page.Limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return codeRowsToDomain(rows), nil
}

// legacyStatusExpr reads a NULL legacy status as active everywhere the
// status is projected, counted or filtered.
const legacyStatusExpr = "LOWER(COALESCE(pc.status, 'active'))"

func (r *GormListingRepo) legacyCodeQuery(ctx context.Context, schema domain.LegacyCodeSchema, filter LegacyCodeFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Table(legacyPromoCodeTable + " AS pc")
	if filter.Search != "" && schema.Has("code") {
		q = q.Where("pc.code ILIKE ?", likePattern(filter.Search))
	}
	if len(filter.Statuses) > 0 {
		switch {
		case schema.Has("status"):
			q = q.Where(legacyStatusExpr+" IN ?", filter.Statuses)
		case !slices.Contains(filter.Statuses, string(domain.LegacyLabelActive)):
			// Without a status column every row reads as active.
			q = q.Where("1 = 0")
		}
	}
	return q
}

func legacyStatusCounts(q *gorm.DB) *gorm.DB {
	return q.Select(legacyStatusExpr + " AS status, COUNT(*) AS count").Group(legacyStatusExpr)
}

// legacyCodeProjection substitutes literal defaults for absent columns so the
// scan target is always the same shape.
func legacyCodeProjection(schema domain.LegacyCodeSchema) string {
	column := func(name, expr, fallback string) string {
		if schema.Has(name) {
			return expr + " AS " + name
		}
		return fallback + " AS " + name
	}

	cols := []string{
		column("id", "CAST(pc.id AS TEXT)", "''"),
		column("code", "pc.code", "''"),
		column("status", legacyStatusExpr, "'active'"),
		column("batch_id", "CAST(pc.batch_id AS TEXT)", "''"),
		column("metadata", "CAST(pc.metadata AS TEXT)", "NULL::text"),
		column("created_at", "pc.created_at", "NULL::timestamptz"),
		column("updated_at", "pc.updated_at", "NULL::timestamptz"),
	}
	if schema.Has("batch_id") && schema.HasBatchTable {
		cols = append(cols, "lb.name AS batch_name")
	} else {
		cols = append(cols, "NULL::text AS batch_name")
	}
	return strings.Join(cols, ", ")
}

func legacyCodeOrder(schema domain.LegacyCodeSchema) string {
	for _, col := range []string{"created_at", "updated_at", "code", "id"} {
		if schema.Has(col) {
			return "pc." + col + " DESC"
		}
	}
	return "1"
}

func codeRowsToDomain(rows []codeListRow) []domain.CodeRow {
	out := make([]domain.CodeRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, codeRowToDomain(row))
	}
	return out
}

func statusCountsToMap(rows []statusCount, lower bool) map[string]int64 {
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		key := row.Status
		if lower {
			key = strings.ToLower(strings.TrimSpace(key))
		}
		out[key] += row.Count
	}
	return out
}

func likePattern(search string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.TrimSpace(search))
	return "%" + escaped + "%"
}

func (r *GormListingRepo) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := r.db.WithContext(ctx).
		Raw(`SELECT EXISTS (SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = ?)`, table).
		Scan(&exists).Error
	return exists, err
}
