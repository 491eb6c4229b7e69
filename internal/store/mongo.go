package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ptrks/coedit/internal/model"
)

// MongoStore persists documents and users in MongoDB. The optimistic
// version check rides on a single findOneAndUpdate filtered on
// {_id, version}, so the exactly-one-winner guarantee holds across
// processes, not just goroutines.
type MongoStore struct {
	docs  *mongo.Collection
	users *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, db string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	s := &MongoStore{
		docs:  client.Database(db).Collection("documents"),
		users: client.Database(db).Collection("users"),
	}

	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := s.users.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, fmt.Errorf("mongo index: %w", err)
	}
	return s, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.docs.Database().Client().Disconnect(ctx)
}

func (s *MongoStore) CreateDocument(ctx context.Context, doc *model.Document) error {
	if _, err := s.docs.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *MongoStore) Document(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := s.docs.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find document: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) DocumentsFor(ctx context.Context, uid string) ([]*model.Document, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "owner", Value: uid}},
		bson.D{{Key: "collaborators", Value: uid}},
	}}}
	cur, err := s.docs.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	var out []*model.Document
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	return out, nil
}

func (s *MongoStore) CompareAndSet(ctx context.Context, id string, expected int64, upd DocumentUpdate) (CASResult, error) {
	set := bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}
	if upd.Content != nil {
		set = append(set, bson.E{Key: "content", Value: *upd.Content})
	}
	if upd.Title != nil {
		set = append(set, bson.E{Key: "title", Value: *upd.Title})
	}

	filter := bson.D{{Key: "_id", Value: id}, {Key: "version", Value: expected}}
	update := bson.D{
		{Key: "$set", Value: set},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc model.Document
	err := s.docs.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err == nil {
		return CASResult{Status: CASAccepted, Version: doc.Version, Doc: &doc}, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return CASResult{}, fmt.Errorf("update document: %w", err)
	}

	// The filter missed: either the id is unknown or the version moved.
	cur, err := s.Document(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return CASResult{Status: CASNotFound}, nil
	}
	if err != nil {
		return CASResult{}, err
	}
	return CASResult{Status: CASConflict, Version: cur.Version}, nil
}

func (s *MongoStore) AddCollaborator(ctx context.Context, id, uid string) (*model.Document, error) {
	filter := bson.D{{Key: "_id", Value: id}}
	update := bson.D{
		{Key: "$addToSet", Value: bson.D{{Key: "collaborators", Value: uid}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc model.Document
	err := s.docs.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("add collaborator: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) CreateUser(ctx context.Context, u *model.User) error {
	cp := *u
	cp.Email = strings.ToLower(cp.Email)
	if _, err := s.users.InsertOne(ctx, &cp); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.users.FindOne(ctx, bson.D{{Key: "email", Value: strings.ToLower(email)}}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *MongoStore) UserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}
