package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/quillvault/quillvault/internal/document"
)

// MongoDocumentRepo implements DocumentRepo on a Mongo collection. The
// lifecycle transitions (claim, assign) lean on FindOneAndUpdate so the
// precondition check and the mutation happen in one server-side step.
type MongoDocumentRepo struct {
	col *mongo.Collection
}

func NewMongoDocumentRepo(col *mongo.Collection) *MongoDocumentRepo {
	return &MongoDocumentRepo{col: col}
}

func (r *MongoDocumentRepo) Create(ctx context.Context, d *document.Document) (string, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	d.UpdatedAt = d.CreatedAt
	if _, err := r.col.InsertOne(ctx, d); err != nil {
		return "", err
	}
	return d.ID, nil
}

func (r *MongoDocumentRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	var d document.Document
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, document.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *MongoDocumentRepo) List(ctx context.Context) ([]*document.Document, error) {
	cur, err := r.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*document.Document{}
	for cur.Next(ctx) {
		var d document.Document
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, cur.Err()
}

func (r *MongoDocumentRepo) UpdateMeta(ctx context.Context, id string, upd MetaUpdate) error {
	set := bson.M{}
	if upd.Title != nil {
		set["title"] = *upd.Title
	}
	if upd.ContentText != nil {
		set["contentText"] = *upd.ContentText
	}
	if upd.CurrentSnapshotID != nil {
		set["currentSnapshotId"] = *upd.CurrentSnapshotID
	}
	if upd.UpdatedAt.IsZero() {
		set["updatedAt"] = time.Now().UTC()
	} else {
		set["updatedAt"] = upd.UpdatedAt
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (r *MongoDocumentRepo) ClaimDisposable(ctx context.Context, id, userID string, now time.Time) (*document.Document, error) {
	filter := bson.M{"_id": id, "isDisposable": true}
	update := bson.M{
		"$set":   bson.M{"ownerId": userID, "isDisposable": false, "isPublic": true, "updatedAt": now},
		"$unset": bson.M{"expiresAt": ""},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var d document.Document
	if err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d); err != nil {
		if err == mongo.ErrNoDocuments {
			// distinguish "gone" from "already claimed"
			if _, gerr := r.Get(ctx, id); gerr != nil {
				return nil, gerr
			}
			return nil, ErrNoMatch
		}
		return nil, err
	}
	return &d, nil
}

func (r *MongoDocumentRepo) AssignOwnerIfUnset(ctx context.Context, id, userID string, now time.Time) (*document.Document, error) {
	filter := bson.M{
		"_id":          id,
		"isDisposable": false,
		"$or":          []bson.M{{"ownerId": bson.M{"$exists": false}}, {"ownerId": ""}},
	}
	update := bson.M{"$set": bson.M{"ownerId": userID, "updatedAt": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var d document.Document
	if err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d); err != nil {
		if err == mongo.ErrNoDocuments {
			if _, gerr := r.Get(ctx, id); gerr != nil {
				return nil, gerr
			}
			return nil, ErrNoMatch
		}
		return nil, err
	}
	return &d, nil
}

func (r *MongoDocumentRepo) ListExpiredDisposables(ctx context.Context, now time.Time) ([]*document.Document, error) {
	filter := bson.M{"isDisposable": true, "expiresAt": bson.M{"$lte": now}}
	cur, err := r.col.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*document.Document{}
	for cur.Next(ctx) {
		var d document.Document
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, cur.Err()
}

func (r *MongoDocumentRepo) PublishAllOwnedBy(ctx context.Context, ownerID string, now time.Time) (int64, error) {
	filter := bson.M{"ownerId": ownerID, "isPublic": false, "isDisposable": false}
	res, err := r.col.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"isPublic": true, "updatedAt": now}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoDocumentRepo) DeleteIfExpiredDisposable(ctx context.Context, id string, now time.Time) error {
	filter := bson.M{"_id": id, "isDisposable": true, "expiresAt": bson.M{"$lte": now}}
	res, err := r.col.DeleteOne(ctx, filter)
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		// distinguish "gone" from "claimed in the meantime"
		if _, gerr := r.Get(ctx, id); gerr != nil {
			return gerr
		}
		return ErrNoMatch
	}
	return nil
}

func (r *MongoDocumentRepo) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return document.ErrNotFound
	}
	return nil
}

// MongoEventRepo implements EventRepo. A unique compound index on
// (docId, version) is the hard backstop for the version controller: even
// when two appenders race past the read-side check, only one insert for a
// given version can ever land.
type MongoEventRepo struct {
	col *mongo.Collection
}

func NewMongoEventRepo(col *mongo.Collection) *MongoEventRepo {
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "docId", Value: 1}, {Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	col.Indexes().CreateOne(context.Background(), idx)
	return &MongoEventRepo{col: col}
}

func (r *MongoEventRepo) Append(ctx context.Context, e *document.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if _, err := r.col.InsertOne(ctx, e); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrVersionExists
		}
		return err
	}
	return nil
}

func (r *MongoEventRepo) LastVersion(ctx context.Context, docID string) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})
	var e document.Event
	if err := r.col.FindOne(ctx, bson.M{"docId": docID}, opts).Decode(&e); err != nil {
		if err == mongo.ErrNoDocuments {
			return 0, nil
		}
		return 0, err
	}
	return e.Version, nil
}

func (r *MongoEventRepo) ListAfterVersion(ctx context.Context, docID string, version int64) ([]document.Event, error) {
	filter := bson.M{"docId": docID, "version": bson.M{"$gt": version}}
	return r.list(ctx, filter)
}

func (r *MongoEventRepo) ListUpTo(ctx context.Context, docID string, cutoff *time.Time) ([]document.Event, error) {
	filter := bson.M{"docId": docID}
	if cutoff != nil {
		filter["createdAt"] = bson.M{"$lte": *cutoff}
	}
	return r.list(ctx, filter)
}

func (r *MongoEventRepo) list(ctx context.Context, filter bson.M) ([]document.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []document.Event{}
	for cur.Next(ctx) {
		var e document.Event
		if err := cur.Decode(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, cur.Err()
}

func (r *MongoEventRepo) DeleteForDoc(ctx context.Context, docID string) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"docId": docID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// MongoSnapshotRepo implements SnapshotRepo.
type MongoSnapshotRepo struct {
	col *mongo.Collection
}

func NewMongoSnapshotRepo(col *mongo.Collection) *MongoSnapshotRepo {
	idx := mongo.IndexModel{
		Keys: bson.D{{Key: "docId", Value: 1}, {Key: "createdAt", Value: 1}},
	}
	col.Indexes().CreateOne(context.Background(), idx)
	return &MongoSnapshotRepo{col: col}
}

func (r *MongoSnapshotRepo) Insert(ctx context.Context, s *document.Snapshot) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, s)
	return err
}

func (r *MongoSnapshotRepo) Get(ctx context.Context, id string) (*document.Snapshot, error) {
	var s document.Snapshot
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&s); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, document.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *MongoSnapshotRepo) Latest(ctx context.Context, docID string) (*document.Snapshot, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "version", Value: -1}})
	var s document.Snapshot
	if err := r.col.FindOne(ctx, bson.M{"docId": docID}, opts).Decode(&s); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *MongoSnapshotRepo) ListAsc(ctx context.Context, docID string) ([]document.Snapshot, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "version", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{"docId": docID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []document.Snapshot{}
	for cur.Next(ctx) {
		var s document.Snapshot
		if err := cur.Decode(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, cur.Err()
}

func (r *MongoSnapshotRepo) Delete(ctx context.Context, id string) error {
	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return document.ErrNotFound
	}
	return nil
}

func (r *MongoSnapshotRepo) DeleteForDoc(ctx context.Context, docID string) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"docId": docID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
