package service

import (
	"context"
	"time"

	"PulseIM/module/user/model"
	"PulseIM/tools/errs"
	"PulseIM/tools/security"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

type UserStore struct {
	db  *mongo.Database
	jwt security.Options
}

func NewUserStore(db *mongo.Database, jwt security.Options) *UserStore {
	return &UserStore{db: db, jwt: jwt}
}

func (s *UserStore) coll() *mongo.Collection {
	return s.db.Collection(model.User{}.TableName())
}

func (s *UserStore) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	if name == "" || email == "" || len(password) < 6 {
		return nil, errs.ErrValidation.WithDetail("name, email and a password of at least 6 chars are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	now := time.Now()
	u := model.User{
		Name:      name,
		Email:     email,
		Password:  string(hash),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res, err := s.coll().InsertOne(ctx, u)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errs.ErrValidation.WithDetail("email already registered")
		}
		return nil, err
	}
	u.ID = res.InsertedID.(primitive.ObjectID)
	return &u, nil
}

// Login verifies credentials and issues a bearer token whose subject is
// the user id.
func (s *UserStore) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	var u model.User
	if err := s.coll().FindOne(ctx, bson.M{"email": email}).Decode(&u); err != nil {
		return nil, "", errs.ErrAuth.WithDetail("unknown email or wrong password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return nil, "", errs.ErrAuth.WithDetail("unknown email or wrong password")
	}
	token, _, err := security.Generate(s.jwt, u.ID.Hex())
	if err != nil {
		return nil, "", errors.Wrap(err, "sign token")
	}
	return &u, token, nil
}

func (s *UserStore) GetByID(ctx context.Context, id primitive.ObjectID) (*model.User, error) {
	var u model.User
	if err := s.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// FindActive returns every active user, id and name only; input of the
// pairing phase.
func (s *UserStore) FindActive(ctx context.Context) ([]model.User, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1, "name": 1, "email": 1})
	cur, err := s.coll().Find(ctx, bson.M{"is_active": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []model.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Display resolves best-effort sender display info for provisional
// payloads; a lookup failure yields an id-only stub rather than an error.
func (s *UserStore) Display(ctx context.Context, id primitive.ObjectID) model.Display {
	u, err := s.GetByID(ctx, id)
	if err != nil {
		return model.Display{ID: id}
	}
	return model.Display{ID: u.ID, Name: u.Name, Email: u.Email}
}

func (s *UserStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}
