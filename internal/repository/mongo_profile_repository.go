package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/spec-kit/project-portal/internal/domain"
)

// Collection names.
const (
	ProfilesCollection    = "userprofiles"
	CredentialsCollection = "localcredentials"
)

const mongoDuplicateKey = 11000

type profileDocument struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty"`
	AuthSource         string             `bson:"authSource"`
	Role               string             `bson:"role"`
	ExternalID         string             `bson:"externalId"`
	RegistrationNumber string             `bson:"registrationNumber,omitempty"`
	Name               string             `bson:"name"`
	Email              string             `bson:"email,omitempty"`
	Phone              string             `bson:"phone,omitempty"`
	Department         string             `bson:"department,omitempty"`
	Branch             string             `bson:"branch,omitempty"`
	Semester           string             `bson:"semester,omitempty"`
	GraduationYear     string             `bson:"graduationYear,omitempty"`
	CreatedAt          time.Time          `bson:"createdAt"`
	UpdatedAt          time.Time          `bson:"updatedAt"`
}

func (d *profileDocument) toDomain() *domain.UserProfile {
	return &domain.UserProfile{
		ID:                 d.ID.Hex(),
		AuthSource:         domain.AuthSource(d.AuthSource),
		Role:               domain.Role(d.Role),
		ExternalID:         d.ExternalID,
		RegistrationNumber: d.RegistrationNumber,
		Name:               d.Name,
		Email:              d.Email,
		Phone:              d.Phone,
		Department:         d.Department,
		Branch:             d.Branch,
		Semester:           d.Semester,
		GraduationYear:     d.GraduationYear,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

type mongoProfileRepository struct {
	coll *mongo.Collection
}

// NewMongoProfileRepository returns a MongoDB-backed implementation and
// ensures the unique externalId index.
func NewMongoProfileRepository(ctx context.Context, db *mongo.Database) (ProfileRepository, error) {
	coll := db.Collection(ProfilesCollection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "externalId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, mapMongoError(err)
	}
	return &mongoProfileRepository{coll: coll}, nil
}

func (r *mongoProfileRepository) Create(ctx context.Context, profile *domain.UserProfile) error {
	now := time.Now().UTC()
	doc := profileFields(profile)
	doc["createdAt"] = now
	doc["updatedAt"] = now

	res, err := r.coll.InsertOne(ctx, doc)
	if err != nil {
		return mapMongoError(err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		profile.ID = oid.Hex()
	}
	profile.CreatedAt = now
	profile.UpdatedAt = now
	return nil
}

func (r *mongoProfileRepository) GetByID(ctx context.Context, id string) (*domain.UserProfile, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *mongoProfileRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.UserProfile, error) {
	return r.findOne(ctx, bson.M{"externalId": externalID})
}

func (r *mongoProfileRepository) UpsertByExternalID(ctx context.Context, profile *domain.UserProfile) (*domain.UserProfile, error) {
	now := time.Now().UTC()
	set := profileFields(profile)
	set["updatedAt"] = now

	var doc profileDocument
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"externalId": profile.ExternalID},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"createdAt": now},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, mapMongoError(err)
	}
	return doc.toDomain(), nil
}

func (r *mongoProfileRepository) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return mapMongoError(err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoProfileRepository) findOne(ctx context.Context, filter bson.M) (*domain.UserProfile, error) {
	var doc profileDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapMongoError(err)
	}
	return doc.toDomain(), nil
}

// profileFields lists the mutable fields. Empty optional values are stored
// as null to match records written by earlier versions of the portal.
func profileFields(p *domain.UserProfile) bson.M {
	registration := p.RegistrationNumber
	if registration == "" {
		registration = p.ExternalID
	}
	return bson.M{
		"authSource":         string(p.AuthSource),
		"role":               string(p.Role),
		"externalId":         p.ExternalID,
		"registrationNumber": registration,
		"name":               p.Name,
		"email":              nullable(p.Email),
		"phone":              nullable(p.Phone),
		"department":         nullable(p.Department),
		"branch":             nullable(p.Branch),
		"semester":           nullable(p.Semester),
		"graduationYear":     nullable(p.GraduationYear),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// mapMongoError translates driver errors into repository sentinels.
func mapMongoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		return errors.Join(ErrUnavailable, err)
	}
	var wex mongo.WriteException
	if errors.As(err, &wex) {
		for _, we := range wex.WriteErrors {
			if we.Code == mongoDuplicateKey {
				return ErrDuplicate
			}
		}
	}
	return err
}
