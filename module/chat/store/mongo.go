package store

import (
	"context"
	"time"

	"PRealtime/module/chat/model"
	"PRealtime/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DBProvider 返回当前可用的数据库（mgo.MongoManager 实现）
type DBProvider interface {
	DB() (*mongo.Database, error)
}

// MongoStore 与 REST 层共用同一批集合（accounts/chats/messages/messagereactions）
type MongoStore struct {
	db DBProvider
}

func NewMongoStore(db DBProvider) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) coll(name string) (*mongo.Collection, error) {
	db, err := s.db.DB()
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

// EnsureIndexes reaction 唯一索引 + 常用查询索引
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	reactions, err := s.coll(model.ReactionTableName)
	if err != nil {
		return err
	}
	_, err = reactions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "messageId", Value: 1}, {Key: "userId", Value: 1}, {Key: "emoji", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "messageId", Value: 1}}},
	})
	if err != nil {
		return errs.WrapMsg(err, "create reaction indexes")
	}
	msgs, err := s.coll(model.MsgTableName)
	if err != nil {
		return err
	}
	if _, err = msgs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chatID", Value: 1}, {Key: "createAt", Value: -1}},
	}); err != nil {
		return errs.WrapMsg(err, "create message index")
	}
	chats, err := s.coll(model.ChatTableName)
	if err != nil {
		return err
	}
	if _, err = chats.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "participants", Value: 1}}}); err != nil {
		return errs.WrapMsg(err, "create chat index")
	}
	return nil
}

// idValues REST 层写的是 ObjectId，实时层写的是字符串，两种都匹配
func idValues(id string) []any {
	out := []any{id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		out = append(out, oid)
	}
	return out
}

func byID(id string) bson.M {
	return bson.M{"_id": bson.M{"$in": idValues(id)}}
}

func notFound(err error, what, id string) error {
	if err == mongo.ErrNoDocuments {
		return errs.ErrNotFound.WrapMsg(what, "id", id)
	}
	return errs.WrapMsg(err, "find "+what, "id", id)
}

func (s *MongoStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	c, err := s.coll(model.AccountTableName)
	if err != nil {
		return nil, err
	}
	var a model.Account
	if err := c.FindOne(ctx, byID(userID)).Decode(&a); err != nil {
		return nil, notFound(err, "account", userID)
	}
	return &a, nil
}

func (s *MongoStore) UpdateLastOnline(ctx context.Context, userID string, at time.Time) error {
	c, err := s.coll(model.AccountTableName)
	if err != nil {
		return err
	}
	res, err := c.UpdateOne(ctx, byID(userID), bson.M{"$set": bson.M{"lastOnline": at.UTC()}})
	if err != nil {
		return errs.WrapMsg(err, "update lastOnline", "id", userID)
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound.WrapMsg("account", "id", userID)
	}
	return nil
}

func (s *MongoStore) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	c, err := s.coll(model.ChatTableName)
	if err != nil {
		return nil, err
	}
	var chat model.Chat
	if err := c.FindOne(ctx, byID(chatID)).Decode(&chat); err != nil {
		return nil, notFound(err, "chat", chatID)
	}
	return &chat, nil
}

func (s *MongoStore) ChatsOf(ctx context.Context, userID string) ([]model.Chat, error) {
	c, err := s.coll(model.ChatTableName)
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, bson.M{"participants": bson.M{"$in": idValues(userID)}},
		options.Find().SetProjection(bson.M{"_id": 1, "isGroup": 1, "participants": 1, "groupName": 1}))
	if err != nil {
		return nil, errs.WrapMsg(err, "find chats", "userId", userID)
	}
	var out []model.Chat
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode chats", "userId", userID)
	}
	return out, nil
}

func (s *MongoStore) TouchChat(ctx context.Context, chatID, lastMessageID string, at time.Time) error {
	c, err := s.coll(model.ChatTableName)
	if err != nil {
		return err
	}
	var last any = lastMessageID
	if oid, err := primitive.ObjectIDFromHex(lastMessageID); err == nil {
		last = oid
	}
	res, err := c.UpdateOne(ctx, byID(chatID), bson.M{"$set": bson.M{"lastMessageID": last, "updateAt": at.UTC()}})
	if err != nil {
		return errs.WrapMsg(err, "touch chat", "id", chatID)
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound.WrapMsg("chat", "id", chatID)
	}
	return nil
}

func (s *MongoStore) CreateMessage(ctx context.Context, m *model.Message) error {
	c, err := s.coll(model.MsgTableName)
	if err != nil {
		return err
	}
	if _, err := c.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errs.ErrInvalidState.WrapMsg("message exists", "id", m.ID)
		}
		return errs.WrapMsg(err, "insert message", "id", m.ID)
	}
	return nil
}

func (s *MongoStore) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	c, err := s.coll(model.MsgTableName)
	if err != nil {
		return nil, err
	}
	var m model.Message
	if err := c.FindOne(ctx, byID(messageID)).Decode(&m); err != nil {
		return nil, notFound(err, "message", messageID)
	}
	return &m, nil
}

func (s *MongoStore) RecentMessages(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	c, err := s.coll(model.MsgTableName)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "createAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := c.Find(ctx, bson.M{"chatID": bson.M{"$in": idValues(chatID)}}, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "find messages", "chatId", chatID)
	}
	var out []model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode messages", "chatId", chatID)
	}
	// 倒序查出，正序返回
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// mark 只有当 field 里还没有 userID 时才更新；没匹配到再区分“已标记”和“消息不存在”
func (s *MongoStore) mark(ctx context.Context, messageID, userID, field string, update bson.M) (bool, error) {
	c, err := s.coll(model.MsgTableName)
	if err != nil {
		return false, err
	}
	filter := byID(messageID)
	filter[field] = bson.M{"$ne": userID}
	res, err := c.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, errs.WrapMsg(err, "mark "+field, "messageId", messageID)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	n, err := c.CountDocuments(ctx, byID(messageID), options.Count().SetLimit(1))
	if err != nil {
		return false, errs.WrapMsg(err, "count message", "messageId", messageID)
	}
	if n == 0 {
		return false, errs.ErrNotFound.WrapMsg("message", "id", messageID)
	}
	return false, nil
}

func (s *MongoStore) MarkDelivered(ctx context.Context, messageID, userID string) (bool, error) {
	return s.mark(ctx, messageID, userID, "deliveredTo", bson.M{
		"$addToSet": bson.M{"deliveredTo": userID},
	})
}

func (s *MongoStore) MarkRead(ctx context.Context, messageID, userID string) (bool, error) {
	return s.mark(ctx, messageID, userID, "readBy", bson.M{
		"$addToSet": bson.M{"readBy": userID, "deliveredTo": userID},
		"$set":      bson.M{"messageStatus": model.MessageStatusSeen},
	})
}

func (s *MongoStore) AddReaction(ctx context.Context, r model.Reaction) (bool, error) {
	c, err := s.coll(model.ReactionTableName)
	if err != nil {
		return false, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if _, err := c.InsertOne(ctx, r); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, errs.WrapMsg(err, "insert reaction", "messageId", r.MessageID)
	}
	return true, nil
}

func (s *MongoStore) RemoveReaction(ctx context.Context, r model.Reaction) (bool, error) {
	c, err := s.coll(model.ReactionTableName)
	if err != nil {
		return false, err
	}
	res, err := c.DeleteOne(ctx, bson.M{"messageId": r.MessageID, "userId": r.UserID, "emoji": r.Emoji})
	if err != nil {
		return false, errs.WrapMsg(err, "delete reaction", "messageId", r.MessageID)
	}
	return res.DeletedCount > 0, nil
}

var _ Store = (*MongoStore)(nil)
