package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/spec-kit/project-portal/internal/domain"
)

type credentialDocument struct {
	ID                primitive.ObjectID  `bson:"_id,omitempty"`
	UserID            *primitive.ObjectID `bson:"userId,omitempty"`
	UserExternalID    string              `bson:"userExternalId,omitempty"`
	Username          string              `bson:"username"`
	PasswordHash      string              `bson:"passwordHash"`
	MustResetPassword bool                `bson:"mustResetPassword"`
	PasswordUpdatedAt time.Time           `bson:"passwordUpdatedAt"`
	CreatedAt         time.Time           `bson:"createdAt"`
	UpdatedAt         time.Time           `bson:"updatedAt"`
}

func (d *credentialDocument) toDomain() *domain.LocalCredential {
	c := &domain.LocalCredential{
		ID:                d.ID.Hex(),
		OwnerExternalID:   d.UserExternalID,
		Username:          d.Username,
		PasswordHash:      d.PasswordHash,
		MustResetPassword: d.MustResetPassword,
		PasswordUpdatedAt: d.PasswordUpdatedAt,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
	if d.UserID != nil {
		c.OwnerID = d.UserID.Hex()
	}
	return c
}

type mongoCredentialRepository struct {
	coll *mongo.Collection
}

// NewMongoCredentialRepository returns a MongoDB-backed implementation
// and ensures the unique username and owner indexes.
func NewMongoCredentialRepository(ctx context.Context, db *mongo.Database) (CredentialRepository, error) {
	coll := db.Collection(CredentialsCollection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"userId": bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		return nil, mapMongoError(err)
	}
	return &mongoCredentialRepository{coll: coll}, nil
}

func (r *mongoCredentialRepository) Create(ctx context.Context, c *domain.LocalCredential) error {
	now := time.Now().UTC()
	if c.PasswordUpdatedAt.IsZero() {
		c.PasswordUpdatedAt = now
	}
	doc := credentialDocument{
		UserExternalID:    c.OwnerExternalID,
		Username:          c.Username,
		PasswordHash:      c.PasswordHash,
		MustResetPassword: c.MustResetPassword,
		PasswordUpdatedAt: c.PasswordUpdatedAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if c.OwnerID != "" {
		oid, err := primitive.ObjectIDFromHex(c.OwnerID)
		if err != nil {
			return err
		}
		doc.UserID = &oid
	}

	res, err := r.coll.InsertOne(ctx, doc)
	if err != nil {
		return mapMongoError(err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		c.ID = oid.Hex()
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (r *mongoCredentialRepository) GetByUsername(ctx context.Context, username string) (*domain.LocalCredential, error) {
	var doc credentialDocument
	if err := r.coll.FindOne(ctx, bson.M{"username": username}).Decode(&doc); err != nil {
		return nil, mapMongoError(err)
	}
	return doc.toDomain(), nil
}

func (r *mongoCredentialRepository) UpdatePassword(ctx context.Context, username, passwordHash string, mustReset bool, updatedAt time.Time) error {
	return r.set(ctx, username, bson.M{
		"passwordHash":      passwordHash,
		"mustResetPassword": mustReset,
		"passwordUpdatedAt": updatedAt,
	})
}

func (r *mongoCredentialRepository) SetMustReset(ctx context.Context, username string, mustReset bool) error {
	return r.set(ctx, username, bson.M{"mustResetPassword": mustReset})
}

func (r *mongoCredentialRepository) LinkOwner(ctx context.Context, username, ownerID, ownerExternalID string) error {
	oid, err := primitive.ObjectIDFromHex(ownerID)
	if err != nil {
		return err
	}
	return r.set(ctx, username, bson.M{"userId": oid, "userExternalId": ownerExternalID})
}

func (r *mongoCredentialRepository) set(ctx context.Context, username string, fields bson.M) error {
	fields["updatedAt"] = time.Now().UTC()
	res, err := r.coll.UpdateOne(ctx, bson.M{"username": username}, bson.M{"$set": fields})
	if err != nil {
		return mapMongoError(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
