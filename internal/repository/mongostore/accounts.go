package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// users

type userRepo struct {
	coll *mongo.Collection
}

func (r userRepo) Get(ctx context.Context, code string) (*models.User, error) {
	var doc userDoc
	if err := r.coll.FindOne(ctx, bson.M{"code": code}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	u := doc.model()
	return &u, nil
}

func (r userRepo) Create(ctx context.Context, user *models.User) error {
	_, err := r.coll.InsertOne(ctx, userDoc{
		Code:           user.Code,
		DataUseConsent: user.DataUseConsent.Bool(),
		CreatedAt:      user.CreatedAt,
		LastLogin:      user.LastLogin,
	})
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r userRepo) update(ctx context.Context, code string, set bson.M) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"code": code}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r userRepo) UpdateLastLogin(ctx context.Context, code string, at time.Time) error {
	return r.update(ctx, code, bson.M{"last_login": at})
}

func (r userRepo) SetConsent(ctx context.Context, code string, consent models.Consent) error {
	return r.update(ctx, code, bson.M{"data_use_consent": consent.Bool()})
}

func (r userRepo) List(ctx context.Context) ([]models.User, error) {
	cursor, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer cursor.Close(ctx)
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	out := make([]models.User, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

// admin codes

type adminRepo struct {
	coll *mongo.Collection
}

func (r adminRepo) findOne(ctx context.Context, filter bson.M) (*models.AdminCode, error) {
	var doc adminCodeDoc
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	a := doc.model()
	return &a, nil
}

func (r adminRepo) Find(ctx context.Context, code string) (*models.AdminCode, error) {
	return r.findOne(ctx, bson.M{"code": code})
}

func (r adminRepo) FindActive(ctx context.Context, code string) (*models.AdminCode, error) {
	return r.findOne(ctx, bson.M{"code": code, "is_active": true})
}

func (r adminRepo) Insert(ctx context.Context, admin *models.AdminCode) error {
	_, err := r.coll.InsertOne(ctx, adminCodeDoc{
		Code:      admin.Code,
		Level:     string(admin.Level),
		AddedBy:   admin.AddedBy,
		CreatedAt: admin.CreatedAt,
		IsActive:  admin.Active(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert admin code: %w", err)
	}
	return nil
}

func (r adminRepo) Reactivate(ctx context.Context, code string, level models.AdminLevel, addedBy string, at time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"level":      string(level),
			"added_by":   addedBy,
			"created_at": at,
			"is_active":  true,
		},
		"$unset": bson.M{"removed_by": "", "removed_at": ""},
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"code": code, "is_active": false}, update)
	if err != nil {
		return fmt.Errorf("reactivate admin code: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r adminRepo) Deactivate(ctx context.Context, code, removedBy string, at time.Time) (bool, error) {
	filter := bson.M{
		"code":      code,
		"is_active": true,
		"level":     bson.M{"$ne": string(models.AdminLevelSuper)},
	}
	update := bson.M{"$set": bson.M{
		"is_active":  false,
		"removed_by": removedBy,
		"removed_at": at,
	}}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("deactivate admin code: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

func (r adminRepo) List(ctx context.Context, includeInactive bool) ([]models.AdminCode, error) {
	filter := bson.M{}
	if !includeInactive {
		filter["is_active"] = true
	}
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find admin codes: %w", err)
	}
	defer cursor.Close(ctx)
	var docs []adminCodeDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode admin codes: %w", err)
	}
	out := make([]models.AdminCode, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (r adminRepo) CountActive(ctx context.Context) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{"is_active": true})
}

// logs

type logRepo struct {
	coll *mongo.Collection
}

func (r logRepo) Append(ctx context.Context, entry *models.LogEntry) error {
	_, err := r.coll.InsertOne(ctx, logDoc{
		UserCode:  entry.UserCode,
		Action:    entry.Action,
		Data:      entry.Data,
		Timestamp: entry.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

func (r logRepo) ListByUser(ctx context.Context, userCode string, limit int) ([]models.LogEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.coll.Find(ctx, bson.M{"user_code": userCode}, opts)
	if err != nil {
		return nil, fmt.Errorf("find logs: %w", err)
	}
	defer cursor.Close(ctx)
	var docs []logDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	out := make([]models.LogEntry, 0, len(docs))
	for _, d := range docs {
		out = append(out, models.LogEntry{
			UserCode:  d.UserCode,
			Action:    d.Action,
			Data:      d.Data,
			Timestamp: d.Timestamp,
		})
	}
	return out, nil
}
