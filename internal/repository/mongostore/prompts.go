package mongostore

import (
	"context"
	"fmt"

	"github.com/bronsonhill/prompting-task-ISLM10002/internal/models"
	"github.com/bronsonhill/prompting-task-ISLM10002/internal/repository"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type promptRepo struct {
	coll *mongo.Collection
}

// withoutDocumentContent 列表视图不加载文档正文
var withoutDocumentContent = bson.M{"documents.content": 0}

func (r promptRepo) Insert(ctx context.Context, prompt *models.Prompt) error {
	res, err := r.coll.InsertOne(ctx, newPromptDoc(prompt))
	if err != nil {
		return fmt.Errorf("insert prompt: %w", err)
	}
	prompt.Ref = refOf(res)
	return nil
}

func (r promptRepo) findOne(ctx context.Context, filter bson.M) (*models.Prompt, error) {
	var doc promptDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if err := r.coll.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	p := doc.model()
	return &p, nil
}

func (r promptRepo) Find(ctx context.Context, owner, promptID string) (*models.Prompt, error) {
	return r.findOne(ctx, bson.M{"user_code": owner, "prompt_id": promptID})
}

func (r promptRepo) FindAnyOwner(ctx context.Context, promptID string) (*models.Prompt, error) {
	return r.findOne(ctx, bson.M{"prompt_id": promptID})
}

func (r promptRepo) list(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]models.Prompt, error) {
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find prompts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []promptDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode prompts: %w", err)
	}
	out := make([]models.Prompt, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (r promptRepo) ListByUser(ctx context.Context, owner string, withContent bool) ([]models.Prompt, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if !withContent {
		opts.SetProjection(withoutDocumentContent)
	}
	return r.list(ctx, bson.M{"user_code": owner}, opts)
}

func (r promptRepo) ListAll(ctx context.Context) ([]models.Prompt, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetProjection(withoutDocumentContent)
	return r.list(ctx, bson.M{}, opts)
}

func (r promptRepo) UpdatePromptID(ctx context.Context, ref, promptID string) error {
	id, err := objectID(ref)
	if err != nil {
		return err
	}
	res, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{"prompt_id": promptID}})
	if err != nil {
		return fmt.Errorf("update prompt id: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r promptRepo) ListNeedingTokenBackfill(ctx context.Context) ([]models.Prompt, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"prompt_token_count": bson.M{"$exists": false}},
		bson.M{"document_token_count": bson.M{"$exists": false}},
		bson.M{"total_token_count": bson.M{"$exists": false}},
		bson.M{"token_count": bson.M{"$exists": true}},
	}}
	return r.list(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
}

func (r promptRepo) SetTokenCounts(ctx context.Context, ref string, promptTokens, documentTokens, totalTokens int) error {
	id, err := objectID(ref)
	if err != nil {
		return err
	}
	update := bson.M{
		"$set": bson.M{
			"prompt_token_count":   promptTokens,
			"document_token_count": documentTokens,
			"total_token_count":    totalTokens,
		},
		"$unset": bson.M{"token_count": ""},
	}
	res, err := r.coll.UpdateByID(ctx, id, update)
	if err != nil {
		return fmt.Errorf("set token counts: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r promptRepo) Count(ctx context.Context) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{})
}

func (r promptRepo) CountByUser(ctx context.Context, owner string) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{"user_code": owner})
}
