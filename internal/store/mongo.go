package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boardauth/internal/database"
	"boardauth/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	usersCollection = "users"
	opTimeout       = 5 * time.Second
)

// Mongo is an AccountStore backed by the users collection.
type Mongo struct {
	collection func(ctx context.Context) (*mongo.Collection, error)
	logger     *zap.Logger
	now        func() time.Time
}

// NewMongo returns a store that resolves its collection through conn on every call.
func NewMongo(conn *database.Connector, logger *zap.Logger) *Mongo {
	return &Mongo{
		collection: func(ctx context.Context) (*mongo.Collection, error) {
			db, err := conn.Database(ctx)
			if err != nil {
				return nil, err
			}
			return db.Collection(usersCollection), nil
		},
		logger: logger,
		now:    time.Now,
	}
}

func newMongoWithCollection(coll *mongo.Collection, logger *zap.Logger) *Mongo {
	return &Mongo{
		collection: func(context.Context) (*mongo.Collection, error) { return coll, nil },
		logger:     logger,
		now:        time.Now,
	}
}

// EnsureIndexes creates the unique email index.
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	if err != nil {
		return fmt.Errorf("error creating email index: %w", err)
	}
	s.logger.Debug("email index ensured", zap.String("collection", coll.Name()))
	return nil
}

func (s *Mongo) Create(ctx context.Context, a *models.Account) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	a.Email = models.NormalizeEmail(a.Email)
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	now := s.now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	if _, err := coll.InsertOne(ctx, a); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("error inserting account: %w", err)
	}
	return nil
}

func (s *Mongo) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.findOne(ctx, bson.M{"email": models.NormalizeEmail(email)})
}

func (s *Mongo) FindByID(ctx context.Context, id string) (*models.Account, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"_id": oid})
}

func (s *Mongo) FindByPendingResetToken(ctx context.Context, token string, now time.Time) (*models.Account, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, bson.M{
		"resetPasswordToken":   token,
		"resetPasswordExpires": bson.M{"$gt": now},
	})
}

func (s *Mongo) Save(ctx context.Context, a *models.Account) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	a.Email = models.NormalizeEmail(a.Email)
	a.UpdatedAt = s.now().UTC()

	set := bson.M{
		"email":         a.Email,
		"password":      a.PasswordHash,
		"name":          a.DisplayName,
		"emailVerified": a.EmailVerified,
		"updatedAt":     a.UpdatedAt,
	}
	unset := bson.M{}
	if a.VerificationToken != "" {
		set["verificationToken"] = a.VerificationToken
	} else {
		unset["verificationToken"] = ""
	}
	if a.ResetToken != "" {
		set["resetPasswordToken"] = a.ResetToken
		set["resetPasswordExpires"] = a.ResetTokenExpiry
	} else {
		unset["resetPasswordToken"] = ""
		unset["resetPasswordExpires"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := coll.UpdateOne(ctx, bson.M{"_id": a.ID}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("error updating account: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Mongo) findOne(ctx context.Context, filter bson.M) (*models.Account, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var a models.Account
	if err := coll.FindOne(ctx, filter).Decode(&a); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error retrieving account: %w", err)
	}
	return &a, nil
}
