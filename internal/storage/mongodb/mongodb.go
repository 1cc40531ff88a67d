package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"hubbridge/internal/domain/models"
	"hubbridge/internal/storage"
)

type Storage struct {
	client      *mongo.Client
	database    *mongo.Database
	connections *mongo.Collection
}

type connectionDoc struct {
	OrgID           string    `bson:"org_id"`
	Provider        string    `bson:"provider"`
	HubID           int64     `bson:"hub_id"`
	AccessToken     string    `bson:"access_token"`
	RefreshToken    string    `bson:"refresh_token"`
	AccessExpiresAt time.Time `bson:"access_expires_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:      client,
		database:    db,
		connections: db.Collection("connections"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	// connections.org_id unique
	_, err := s.connections.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "org_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("connections.org_id index: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// SaveConnection upserts the connection keyed by its org id.
func (s *Storage) SaveConnection(ctx context.Context, conn *models.Connection) error {
	const op = "storage.mongodb.SaveConnection"

	updatedAt := conn.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	doc := connectionDoc{
		OrgID:           conn.OrgID,
		Provider:        conn.Provider,
		HubID:           conn.HubID,
		AccessToken:     conn.AccessToken,
		RefreshToken:    conn.RefreshToken,
		AccessExpiresAt: conn.AccessExpiresAt,
		UpdatedAt:       updatedAt,
	}

	_, err := s.connections.ReplaceOne(ctx,
		bson.D{{Key: "org_id", Value: conn.OrgID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Connection retrieves the connection of an organization.
func (s *Storage) Connection(ctx context.Context, orgID string) (*models.Connection, error) {
	const op = "storage.mongodb.Connection"

	var doc connectionDoc
	err := s.connections.FindOne(ctx, bson.D{{Key: "org_id", Value: orgID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrConnectionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.Connection{
		OrgID:           doc.OrgID,
		Provider:        doc.Provider,
		HubID:           doc.HubID,
		AccessToken:     doc.AccessToken,
		RefreshToken:    doc.RefreshToken,
		AccessExpiresAt: doc.AccessExpiresAt,
		UpdatedAt:       doc.UpdatedAt,
	}, nil
}
