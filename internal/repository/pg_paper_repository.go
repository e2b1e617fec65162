package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// Compile-time interface verification.
var _ PaperRepository = (*PgPaperRepository)(nil)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const paperColumns = `id, source, category, external_id, link, title, authors, abstract,
	published_at, source_updated_at, keywords, journal, citation_count,
	fetch_timestamp, last_updated`

// PgPaperRepository is a PostgreSQL implementation of PaperRepository.
type PgPaperRepository struct {
	db DBTX
}

// NewPgPaperRepository creates a new PostgreSQL paper repository.
func NewPgPaperRepository(db DBTX) *PgPaperRepository {
	return &PgPaperRepository{db: db}
}

// FindExisting returns stored records in scope matching any of the keys.
func (r *PgPaperRepository) FindExisting(ctx context.Context, scope domain.Scope, keys []domain.IdentityKey) ([]*domain.PaperRecord, error) {
	values := groupKeys(scope, keys)
	if values.empty() {
		return nil, nil
	}

	query := `SELECT ` + paperColumns + `
		FROM papers
		WHERE source = $1 AND category = $2
		  AND (external_id = ANY($3::text[]) OR link = ANY($4::text[]) OR title_key = ANY($5::text[]))`

	rows, err := r.db.Query(ctx, query,
		string(scope.Source), scope.Category,
		values.externalIDs, values.links, values.titles,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing papers: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaperRecord
	for rows.Next() {
		rec, err := scanPaperFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan paper: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating papers: %w", err)
	}

	return out, nil
}

const insertPaperSQL = `
	INSERT INTO papers (
		id, identity_key, source, category, external_id, link, title, title_key,
		authors, abstract, published_at, source_updated_at, keywords, journal,
		citation_count, fetch_timestamp, last_updated
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
	)
	ON CONFLICT DO NOTHING
	RETURNING id`

// pendingInsert is one validated record ready to be sent.
type pendingInsert struct {
	idx  int
	args []any
}

// InsertMany inserts records and reports one outcome per record, in order.
// ON CONFLICT DO NOTHING turns an identity collision into an
// AlreadyExistsError.
//
// The records go out as one pgx.Batch first. A batch runs in a single
// implicit transaction, so any failed statement rolls back its siblings;
// when that happens every record is resent on its own and committed
// independently.
func (r *PgPaperRepository) InsertMany(ctx context.Context, records []*domain.PaperRecord) []error {
	results := make([]error, len(records))
	pending := make([]pendingInsert, 0, len(records))

	for i, rec := range records {
		if err := validateForInsert(rec); err != nil {
			results[i] = err
			continue
		}
		args, err := insertArgs(rec)
		if err != nil {
			results[i] = err
			continue
		}
		pending = append(pending, pendingInsert{idx: i, args: args})
	}

	if len(pending) == 0 || r.insertBatch(ctx, records, pending, results) {
		return results
	}

	for _, p := range pending {
		var id uuid.UUID
		err := r.db.QueryRow(ctx, insertPaperSQL, p.args...).Scan(&id)
		results[p.idx] = insertOutcome(records[p.idx], err)
	}
	return results
}

// insertBatch sends pending as one batch and reports whether it committed.
// Outcomes are written into results either way.
func (r *PgPaperRepository) insertBatch(ctx context.Context, records []*domain.PaperRecord, pending []pendingInsert, results []error) bool {
	batch := &pgx.Batch{}
	for _, p := range pending {
		batch.Queue(insertPaperSQL, p.args...)
	}

	br := r.db.SendBatch(ctx, batch)
	committed := true
	for _, p := range pending {
		var id uuid.UUID
		err := br.QueryRow().Scan(&id)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			committed = false
		}
		results[p.idx] = insertOutcome(records[p.idx], err)
	}
	if err := br.Close(); err != nil {
		committed = false
	}
	return committed
}

func insertArgs(rec *domain.PaperRecord) ([]any, error) {
	authorsJSON, err := json.Marshal(authorsOrEmpty(rec.Authors))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal authors: %w", err)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return []any{
		rec.ID,
		rec.IdentityKey().String(),
		string(rec.Source),
		rec.Category,
		nullIfEmpty(rec.ExternalID),
		nullIfEmpty(rec.Link),
		rec.Title,
		domain.NormalizeTitle(rec.Title),
		authorsJSON,
		rec.Abstract,
		rec.Published,
		rec.Updated,
		keywordsOrEmpty(rec.Keywords),
		rec.Journal,
		rec.CitationCount,
		rec.FetchTimestamp,
		rec.LastUpdated,
	}, nil
}

func insertOutcome(rec *domain.PaperRecord, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err):
		return domain.NewAlreadyExistsError("paper", rec.IdentityKey().String())
	default:
		return fmt.Errorf("failed to insert paper: %w", err)
	}
}

// UpdateMutable overwrites the mutable fields of a stored record.
func (r *PgPaperRepository) UpdateMutable(ctx context.Context, id uuid.UUID, rec *domain.PaperRecord) error {
	if rec == nil {
		return domain.NewValidationError("paper", "paper cannot be nil")
	}

	authorsJSON, err := json.Marshal(authorsOrEmpty(rec.Authors))
	if err != nil {
		return fmt.Errorf("failed to marshal authors: %w", err)
	}

	query := `
		UPDATE papers SET
			title = $2,
			title_key = $3,
			abstract = $4,
			authors = $5,
			link = $6,
			source_updated_at = $7,
			last_updated = $8,
			identity_key = $9
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		id,
		rec.Title,
		domain.NormalizeTitle(rec.Title),
		rec.Abstract,
		authorsJSON,
		nullIfEmpty(rec.Link),
		rec.Updated,
		rec.LastUpdated,
		rec.IdentityKey().String(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewAlreadyExistsError("paper", rec.IdentityKey().String())
		}
		return fmt.Errorf("failed to update paper: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("paper", id.String())
	}

	return nil
}

// Count returns the number of stored records.
func (r *PgPaperRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM papers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count papers: %w", err)
	}
	return n, nil
}

// CountBySource returns the number of stored records per provider.
func (r *PgPaperRepository) CountBySource(ctx context.Context) (map[domain.SourceType]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT source, COUNT(*) FROM papers GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to count papers by source: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SourceType]int64)
	for rows.Next() {
		var source string
		var n int64
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("failed to scan source count: %w", err)
		}
		counts[domain.SourceType(source)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source counts: %w", err)
	}

	return counts, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func authorsOrEmpty(authors []string) []string {
	if authors == nil {
		return []string{}
	}
	return authors
}

func keywordsOrEmpty(keywords []string) []string {
	if keywords == nil {
		return []string{}
	}
	return keywords
}

// paperScanDest holds the destination pointers for scanning a papers row.
type paperScanDest struct {
	rec         domain.PaperRecord
	source      string
	externalID  *string
	link        *string
	authorsJSON []byte
}

// destinations returns the slice of pointers for Scan operations, in
// paperColumns order.
func (d *paperScanDest) destinations() []interface{} {
	return []interface{}{
		&d.rec.ID, &d.source, &d.rec.Category, &d.externalID, &d.link, &d.rec.Title,
		&d.authorsJSON, &d.rec.Abstract, &d.rec.Published, &d.rec.Updated, &d.rec.Keywords,
		&d.rec.Journal, &d.rec.CitationCount, &d.rec.FetchTimestamp, &d.rec.LastUpdated,
	}
}

// finalize performs post-scan processing: unmarshals JSON fields and maps NULLs.
func (d *paperScanDest) finalize() (*domain.PaperRecord, error) {
	if len(d.authorsJSON) > 0 {
		if err := json.Unmarshal(d.authorsJSON, &d.rec.Authors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
		}
	}
	d.rec.Source = domain.SourceType(d.source)
	d.rec.ExternalID = derefString(d.externalID)
	d.rec.Link = derefString(d.link)
	return &d.rec, nil
}

// scanPaperFromRows scans the current row from pgx.Rows into a PaperRecord.
func scanPaperFromRows(rows pgx.Rows) (*domain.PaperRecord, error) {
	var dest paperScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
