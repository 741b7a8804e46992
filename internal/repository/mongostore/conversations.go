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

type conversationRepo struct {
	coll *mongo.Collection
}

// firstMessageOnly 摘要只取第一条（system）消息
var firstMessageOnly = bson.M{"messages": bson.M{"$slice": 1}}

var oldestFirst = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

func ownerFilter(owner, conversationID string) bson.M {
	return bson.M{"user_code": owner, "conversation_id": conversationID}
}

func (r conversationRepo) Insert(ctx context.Context, conv *models.Conversation) error {
	res, err := r.coll.InsertOne(ctx, newConversationDoc(conv))
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	conv.Ref = refOf(res)
	return nil
}

func (r conversationRepo) findDoc(ctx context.Context, filter bson.M, projection interface{}) (*conversationDoc, error) {
	opts := options.FindOne().SetSort(oldestFirst)
	if projection != nil {
		opts.SetProjection(projection)
	}
	var doc conversationDoc
	if err := r.coll.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

func (r conversationRepo) Find(ctx context.Context, owner, conversationID string) (*models.Conversation, error) {
	doc, err := r.findDoc(ctx, ownerFilter(owner, conversationID), nil)
	if err != nil {
		return nil, err
	}
	conv := doc.model()
	return &conv, nil
}

func (r conversationRepo) FindSummary(ctx context.Context, owner, conversationID string) (*models.ConversationSummary, error) {
	doc, err := r.findDoc(ctx, ownerFilter(owner, conversationID), firstMessageOnly)
	if err != nil {
		return nil, err
	}
	sum := doc.summary()
	return &sum, nil
}

func (r conversationRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]conversationDoc, error) {
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find conversations: %w", err)
	}
	defer cursor.Close(ctx)
	var docs []conversationDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return docs, nil
}

func (r conversationRepo) ListSummaries(ctx context.Context, owner string) ([]models.ConversationSummary, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetProjection(firstMessageOnly)
	docs, err := r.find(ctx, bson.M{"user_code": owner}, opts)
	if err != nil {
		return nil, err
	}
	out := make([]models.ConversationSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.summary())
	}
	return out, nil
}

// AppendMessages 乐观并发：以消息条数为版本条件，$push 与统计、updated_at 在同一次更新中写入
func (r conversationRepo) AppendMessages(ctx context.Context, owner, conversationID string, msgs []models.Message, stats repository.StatsFunc) (*models.Conversation, error) {
	if len(msgs) == 0 {
		return nil, repository.ErrNoMessages
	}
	for attempt := 0; attempt < repository.MaxAppendAttempts; attempt++ {
		doc, err := r.findDoc(ctx, ownerFilter(owner, conversationID), nil)
		if err != nil {
			return nil, err
		}
		conv := doc.model()
		previous := len(doc.Messages)
		conv.Messages = append(conv.Messages, msgs...)
		conv.TokenStats = stats(conv.Messages)
		conv.UpdatedAt = msgs[len(msgs)-1].Timestamp

		filter := bson.M{"_id": doc.ID, "messages": bson.M{"$size": previous}}
		update := bson.M{
			"$push": bson.M{"messages": bson.M{"$each": newMessageDocs(msgs)}},
			"$set": bson.M{
				"token_stats": newStatsDoc(conv.TokenStats),
				"updated_at":  conv.UpdatedAt,
			},
		}
		res, err := r.coll.UpdateOne(ctx, filter, update)
		if err != nil {
			return nil, fmt.Errorf("append messages: %w", err)
		}
		if res.MatchedCount == 1 {
			return &conv, nil
		}
	}
	return nil, repository.ErrConflict
}

func (r conversationRepo) ListAll(ctx context.Context, withMessages bool) ([]models.Conversation, error) {
	opts := options.Find().SetSort(oldestFirst)
	if !withMessages {
		opts.SetProjection(bson.M{"messages": 0})
	}
	docs, err := r.find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	out := make([]models.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, nil
}

func (r conversationRepo) UpdateConversationID(ctx context.Context, ref, conversationID string) error {
	id, err := objectID(ref)
	if err != nil {
		return err
	}
	res, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{"conversation_id": conversationID}})
	if err != nil {
		return fmt.Errorf("update conversation id: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r conversationRepo) ReplaceTokenStats(ctx context.Context, ref string, messages []models.Message, stats models.TokenStats) error {
	id, err := objectID(ref)
	if err != nil {
		return err
	}
	filter := bson.M{"_id": id, "messages": bson.M{"$size": len(messages)}}
	update := bson.M{"$set": bson.M{
		"messages":    newMessageDocs(messages),
		"token_stats": newStatsDoc(stats),
	}}
	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("replace token stats: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("replace token stats: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

func (r conversationRepo) Totals(ctx context.Context) (models.ConversationTotals, error) {
	var totals models.ConversationTotals
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":           nil,
			"conversations": bson.M{"$sum": 1},
			"messages":      bson.M{"$sum": bson.M{"$size": bson.M{"$ifNull": bson.A{"$messages", bson.A{}}}}},
			"input":         bson.M{"$sum": "$token_stats.total_input_tokens"},
			"output":        bson.M{"$sum": "$token_stats.total_output_tokens"},
		}}},
	}
	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return totals, fmt.Errorf("aggregate conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Conversations int64 `bson:"conversations"`
		Messages      int64 `bson:"messages"`
		Input         int64 `bson:"input"`
		Output        int64 `bson:"output"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return totals, fmt.Errorf("decode conversation totals: %w", err)
	}
	if len(rows) == 0 {
		return totals, nil
	}
	totals.Conversations = rows[0].Conversations
	totals.Messages = rows[0].Messages
	totals.TotalInputTokens = rows[0].Input
	totals.TotalOutputTokens = rows[0].Output
	return totals, nil
}

func (r conversationRepo) CountByUser(ctx context.Context, owner string) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{"user_code": owner})
}
