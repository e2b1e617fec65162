package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// Compile-time interface verification.
var _ PaperRepository = (*MongoPaperRepository)(nil)

// mongoDuplicateKey is the server error code for a unique index violation.
const mongoDuplicateKey = 11000

// paperDocument is the stored form of a PaperRecord in MongoDB.
type paperDocument struct {
	ID             string     `bson:"_id"`
	IdentityKey    string     `bson:"identity_key"`
	Source         string     `bson:"source"`
	Category       string     `bson:"category"`
	ExternalID     string     `bson:"external_id,omitempty"`
	Link           string     `bson:"link,omitempty"`
	Title          string     `bson:"title"`
	TitleKey       string     `bson:"title_key"`
	Authors        []string   `bson:"authors"`
	Abstract       string     `bson:"abstract"`
	Published      *time.Time `bson:"published_at,omitempty"`
	Updated        *time.Time `bson:"source_updated_at,omitempty"`
	Keywords       []string   `bson:"keywords"`
	Journal        string     `bson:"journal,omitempty"`
	CitationCount  *int       `bson:"citation_count,omitempty"`
	FetchTimestamp time.Time  `bson:"fetch_timestamp"`
	LastUpdated    time.Time  `bson:"last_updated"`
}

func newPaperDocument(rec *domain.PaperRecord) paperDocument {
	return paperDocument{
		ID:             rec.ID.String(),
		IdentityKey:    rec.IdentityKey().String(),
		Source:         string(rec.Source),
		Category:       rec.Category,
		ExternalID:     rec.ExternalID,
		Link:           rec.Link,
		Title:          rec.Title,
		TitleKey:       domain.NormalizeTitle(rec.Title),
		Authors:        authorsOrEmpty(rec.Authors),
		Abstract:       rec.Abstract,
		Published:      rec.Published,
		Updated:        rec.Updated,
		Keywords:       keywordsOrEmpty(rec.Keywords),
		Journal:        rec.Journal,
		CitationCount:  rec.CitationCount,
		FetchTimestamp: rec.FetchTimestamp,
		LastUpdated:    rec.LastUpdated,
	}
}

func (d paperDocument) record() (*domain.PaperRecord, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid paper id %q: %w", d.ID, err)
	}
	return &domain.PaperRecord{
		ID:             id,
		Title:          d.Title,
		Authors:        d.Authors,
		Abstract:       d.Abstract,
		Link:           d.Link,
		Published:      utcTime(d.Published),
		Updated:        utcTime(d.Updated),
		ExternalID:     d.ExternalID,
		Category:       d.Category,
		Keywords:       d.Keywords,
		Journal:        d.Journal,
		Source:         domain.SourceType(d.Source),
		FetchTimestamp: d.FetchTimestamp.UTC(),
		LastUpdated:    d.LastUpdated.UTC(),
		CitationCount:  d.CitationCount,
	}, nil
}

// MongoPaperRepository is a MongoDB implementation of PaperRepository.
type MongoPaperRepository struct {
	coll   *mongo.Collection
	logger zerolog.Logger
}

// NewMongoPaperRepository creates a repository over the given collection.
func NewMongoPaperRepository(coll *mongo.Collection, logger zerolog.Logger) *MongoPaperRepository {
	return &MongoPaperRepository{
		coll:   coll,
		logger: logger.With().Str("component", "mongo_paper_repository").Logger(),
	}
}

// EnsureIndexes creates the identity, lookup and text indexes. It is
// idempotent and safe to call on every startup.
func (r *MongoPaperRepository) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "identity_key", Value: 1}},
			Options: options.Index().SetName("papers_identity_key").SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "source", Value: 1}, {Key: "external_id", Value: 1}},
			Options: options.Index().
				SetName("papers_source_external_id").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"external_id": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "source", Value: 1}, {Key: "category", Value: 1}, {Key: "link", Value: 1}},
			Options: options.Index().SetName("papers_scope_link"),
		},
		{
			Keys:    bson.D{{Key: "source", Value: 1}, {Key: "category", Value: 1}, {Key: "title_key", Value: 1}},
			Options: options.Index().SetName("papers_scope_title_key"),
		},
		{
			Keys: bson.D{{Key: "title", Value: "text"}, {Key: "abstract", Value: "text"}, {Key: "keywords", Value: "text"}},
			Options: options.Index().
				SetName("papers_text").
				SetWeights(bson.D{{Key: "title", Value: 10}, {Key: "keywords", Value: 5}, {Key: "abstract", Value: 1}}).
				SetDefaultLanguage("english"),
		},
	}

	names, err := r.coll.Indexes().CreateMany(ctx, models)
	if err != nil {
		return fmt.Errorf("failed to create paper indexes: %w", err)
	}

	r.logger.Debug().Strs("indexes", names).Msg("paper indexes ensured")
	return nil
}

// FindExisting returns stored records in scope matching any of the keys.
func (r *MongoPaperRepository) FindExisting(ctx context.Context, scope domain.Scope, keys []domain.IdentityKey) ([]*domain.PaperRecord, error) {
	values := groupKeys(scope, keys)
	if values.empty() {
		return nil, nil
	}

	var or bson.A
	if len(values.externalIDs) > 0 {
		or = append(or, bson.M{"external_id": bson.M{"$in": values.externalIDs}})
	}
	if len(values.links) > 0 {
		or = append(or, bson.M{"link": bson.M{"$in": values.links}})
	}
	if len(values.titles) > 0 {
		or = append(or, bson.M{"title_key": bson.M{"$in": values.titles}})
	}

	filter := bson.M{
		"source":   string(scope.Source),
		"category": scope.Category,
		"$or":      or,
	}

	cursor, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing papers: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*domain.PaperRecord
	for cursor.Next(ctx) {
		var doc paperDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode paper: %w", err)
		}
		rec, err := doc.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating papers: %w", err)
	}

	return out, nil
}

// InsertMany inserts records in one unordered bulk write so a failing
// document never blocks the rest.
func (r *MongoPaperRepository) InsertMany(ctx context.Context, records []*domain.PaperRecord) []error {
	results := make([]error, len(records))

	docs := make([]interface{}, 0, len(records))
	queued := make([]int, 0, len(records))
	for i, rec := range records {
		if err := validateForInsert(rec); err != nil {
			results[i] = err
			continue
		}
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		docs = append(docs, newPaperDocument(rec))
		queued = append(queued, i)
	}

	if len(docs) == 0 {
		return results
	}

	_, err := r.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return results
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		// Nothing says which documents failed; report all of them.
		for _, i := range queued {
			results[i] = fmt.Errorf("failed to insert paper: %w", err)
		}
		return results
	}

	for _, we := range bwe.WriteErrors {
		if we.Index < 0 || we.Index >= len(queued) {
			continue
		}
		i := queued[we.Index]
		if we.Code == mongoDuplicateKey {
			results[i] = domain.NewAlreadyExistsError("paper", records[i].IdentityKey().String())
			continue
		}
		results[i] = fmt.Errorf("failed to insert paper: %w", we.WriteError)
	}

	return results
}

// UpdateMutable overwrites the mutable fields of a stored record.
func (r *MongoPaperRepository) UpdateMutable(ctx context.Context, id uuid.UUID, rec *domain.PaperRecord) error {
	if rec == nil {
		return domain.NewValidationError("paper", "paper cannot be nil")
	}

	set := bson.M{
		"title":        rec.Title,
		"title_key":    domain.NormalizeTitle(rec.Title),
		"abstract":     rec.Abstract,
		"authors":      authorsOrEmpty(rec.Authors),
		"last_updated": rec.LastUpdated,
		"identity_key": rec.IdentityKey().String(),
	}
	unset := bson.M{}
	if rec.Link != "" {
		set["link"] = rec.Link
	} else {
		unset["link"] = ""
	}
	if rec.Updated != nil {
		set["source_updated_at"] = *rec.Updated
	} else {
		unset["source_updated_at"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": id.String()}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.NewAlreadyExistsError("paper", rec.IdentityKey().String())
		}
		return fmt.Errorf("failed to update paper: %w", err)
	}

	if result.MatchedCount == 0 {
		return domain.NewNotFoundError("paper", id.String())
	}

	return nil
}

// Count returns the number of stored records.
func (r *MongoPaperRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count papers: %w", err)
	}
	return n, nil
}

// CountBySource returns the number of stored records per provider.
func (r *MongoPaperRepository) CountBySource(ctx context.Context) (map[domain.SourceType]int64, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$source"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count papers by source: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Source string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode source counts: %w", err)
	}

	counts := make(map[domain.SourceType]int64, len(rows))
	for _, row := range rows {
		counts[domain.SourceType(row.Source)] = row.Count
	}
	return counts, nil
}

func utcTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
