package mongostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type counterRepo struct {
	coll *mongo.Collection
}

// Increment 单次 FindOneAndUpdate：$inc + upsert，返回更新后的值
func (r counterRepo) Increment(ctx context.Context, key models.CounterKey) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var doc counterDoc
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": key.DocumentID()},
		bson.M{"$inc": bson.M{"sequence": 1}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", key, err)
	}
	return doc.Sequence, nil
}

func (r counterRepo) Set(ctx context.Context, key models.CounterKey, value int64) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": key.DocumentID()},
		bson.M{"$set": bson.M{"sequence": value}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("set counter %s: %w", key, err)
	}
	return nil
}

func (r counterRepo) Get(ctx context.Context, key models.CounterKey) (int64, error) {
	var doc counterDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": key.DocumentID()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %s: %w", key, err)
	}
	return doc.Sequence, nil
}
