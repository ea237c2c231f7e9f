// Package mongodb implements MongoDB adapters for the application.
package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"mailsync_server/core/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Email Body Adapter
// =============================================================================

const (
	collectionEmailBodies = "email_bodies"

	// Compression threshold - only compress if content is larger than this
	compressionThreshold = 1024 // 1KB

	opTimeout = 10 * time.Second
)

// EmailBodyAdapter stores full message bodies out of band from the
// Postgres canonical rows. Writes are best effort and replayable: a lost
// body reappears on the next sync of the same message.
type EmailBodyAdapter struct {
	db         *mongo.Database
	collection *mongo.Collection
}

func NewEmailBodyAdapter(db *mongo.Database) *EmailBodyAdapter {
	return &EmailBodyAdapter{
		db:         db,
		collection: db.Collection(collectionEmailBodies),
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *EmailBodyAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "stored_at", Value: 1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

type emailBodyDocument struct {
	EmailID int64 `bson:"email_id"`

	// Content (potentially compressed)
	HTML         []byte `bson:"html"`
	Text         []byte `bson:"text"`
	IsCompressed bool   `bson:"is_compressed"`

	OriginalSize   int64 `bson:"original_size"`
	CompressedSize int64 `bson:"compressed_size"`

	StoredAt time.Time `bson:"stored_at"`
}

// =============================================================================
// Operations
// =============================================================================

func (a *EmailBodyAdapter) Get(emailID int64) (*domain.EmailBody, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var doc emailBodyDocument
	err := a.collection.FindOne(ctx, bson.M{"email_id": emailID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get email body: %w", err)
	}

	return a.toDomain(&doc)
}

// SaveBatch upserts bodies with an unordered bulk write: one bad document
// does not sink the rest of the batch.
func (a *EmailBodyAdapter) SaveBatch(bodies []*domain.EmailBody) error {
	if len(bodies) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	models := make([]mongo.WriteModel, 0, len(bodies))
	for _, body := range bodies {
		doc, err := a.toDocument(body)
		if err != nil {
			return fmt.Errorf("failed to convert body %d: %w", body.EmailID, err)
		}

		model := mongo.NewReplaceOneModel().
			SetFilter(bson.M{"email_id": body.EmailID}).
			SetReplacement(doc).
			SetUpsert(true)
		models = append(models, model)
	}

	opts := options.BulkWrite().SetOrdered(false)
	if _, err := a.collection.BulkWrite(ctx, models, opts); err != nil {
		return fmt.Errorf("failed to bulk save email bodies: %w", err)
	}

	return nil
}

func (a *EmailBodyAdapter) DeleteByEmailIDs(emailIDs []int64) error {
	if len(emailIDs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	filter := bson.M{"email_id": bson.M{"$in": emailIDs}}
	if _, err := a.collection.DeleteMany(ctx, filter); err != nil {
		return fmt.Errorf("failed to bulk delete email bodies: %w", err)
	}

	return nil
}

// =============================================================================
// Conversion Helpers
// =============================================================================

func (a *EmailBodyAdapter) toDocument(body *domain.EmailBody) (*emailBodyDocument, error) {
	htmlBytes := []byte(body.HTMLBody)
	textBytes := []byte(body.TextBody)
	originalSize := int64(len(htmlBytes) + len(textBytes))

	isCompressed := false
	compressedSize := originalSize

	if originalSize > compressionThreshold {
		compressedHTML, err := compress(htmlBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to compress HTML: %w", err)
		}
		compressedText, err := compress(textBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to compress text: %w", err)
		}

		htmlBytes = compressedHTML
		textBytes = compressedText
		isCompressed = true
		compressedSize = int64(len(htmlBytes) + len(textBytes))
	}

	return &emailBodyDocument{
		EmailID:        body.EmailID,
		HTML:           htmlBytes,
		Text:           textBytes,
		IsCompressed:   isCompressed,
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		StoredAt:       time.Now().UTC(),
	}, nil
}

func (a *EmailBodyAdapter) toDomain(doc *emailBodyDocument) (*domain.EmailBody, error) {
	htmlBytes := doc.HTML
	textBytes := doc.Text

	if doc.IsCompressed {
		var err error
		htmlBytes, err = decompress(doc.HTML)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress HTML: %w", err)
		}
		textBytes, err = decompress(doc.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress text: %w", err)
		}
	}

	return &domain.EmailBody{
		EmailID:  doc.EmailID,
		HTMLBody: string(htmlBytes),
		TextBody: string(textBytes),
	}, nil
}

// =============================================================================
// Compression Helpers
// =============================================================================

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

var _ domain.EmailBodyRepository = (*EmailBodyAdapter)(nil)
