package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"timer2ticket/model"
)

const DefaultMongoDatabase = "timer2ticketDB"

const (
	usersCollection     = "users"
	tesosCollection     = "timeEntrySyncedObjects"
	jobLogsCollection   = "jobLogs"
	mongoConnectTimeout = 10 * time.Second
)

// MongoStore keeps every document in its own MongoDB collection.
type MongoStore struct {
	client  *mongo.Client
	users   *mongo.Collection
	tesos   *mongo.Collection
	jobLogs *mongo.Collection
	now     func() time.Time
}

func OpenMongo(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	if opts.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	database := opts.Database
	if database == "" {
		database = DefaultMongoDatabase
	}

	clientOptions := options.Client().ApplyURI(opts.URI)
	if opts.Username != "" {
		clientOptions.SetAuth(options.Credential{
			Username: opts.Username,
			Password: opts.Password,
		})
	}

	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	store := &MongoStore{
		client:  client,
		users:   db.Collection(usersCollection),
		tesos:   db.Collection(tesosCollection),
		jobLogs: db.Collection(jobLogsCollection),
		now:     time.Now,
	}
	if err := store.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.tesos.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "userId", Value: 1}}}); err != nil {
		return fmt.Errorf("create time entry synced object index: %w", err)
	}
	jobLogIndex := mongo.IndexModel{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "scheduledDate", Value: -1}}}
	if _, err := s.jobLogs.Indexes().CreateOne(ctx, jobLogIndex); err != nil {
		return fmt.Errorf("create job log index: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (model.User, error) {
	var user model.User
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return user, nil
}

func (s *MongoStore) ListActiveUsers(ctx context.Context) ([]model.User, error) {
	return s.findUsers(ctx, bson.M{"status": model.UserStatusActive})
}

func (s *MongoStore) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.findUsers(ctx, bson.M{})
}

func (s *MongoStore) findUsers(ctx context.Context, filter bson.M) ([]model.User, error) {
	cursor, err := s.users.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	users := make([]model.User, 0)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}

func (s *MongoStore) UpsertUser(ctx context.Context, user model.User) (model.User, error) {
	user = withUserDefaults(user, s.now())
	_, err := s.users.ReplaceOne(ctx, bson.M{"_id": user.ID}, user, options.Replace().SetUpsert(true))
	if err != nil {
		return model.User{}, fmt.Errorf("upsert user %s: %w", user.ID, err)
	}
	return user, nil
}

func (s *MongoStore) ReplaceUserMappings(ctx context.Context, userID string, mappings []model.Mapping) error {
	if mappings == nil {
		mappings = []model.Mapping{}
	}
	return s.setUserField(ctx, userID, "mappings", mappings)
}

func (s *MongoStore) SetConfigJobLastSuccessfullyDone(ctx context.Context, userID string, at time.Time) error {
	return s.setUserField(ctx, userID, "configSyncJobDefinition.lastSuccessfullyDone", at)
}

func (s *MongoStore) SetTimeEntryJobLastSuccessfullyDone(ctx context.Context, userID string, at time.Time) error {
	return s.setUserField(ctx, userID, "timeEntrySyncJobDefinition.lastSuccessfullyDone", at)
}

func (s *MongoStore) setUserField(ctx context.Context, userID, field string, value any) error {
	result, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": bson.M{field: value}})
	if err != nil {
		return fmt.Errorf("update %s of user %s: %w", field, userID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) ListTimeEntrySyncedObjects(ctx context.Context, userID string) ([]model.TimeEntrySyncedObject, error) {
	cursor, err := s.tesos.Find(ctx, bson.M{"userId": userID}, options.Find().SetSort(bson.D{{Key: "lastUpdated", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("query time entry synced objects: %w", err)
	}
	out := make([]model.TimeEntrySyncedObject, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode time entry synced objects: %w", err)
	}
	return out, nil
}

func (s *MongoStore) CreateTimeEntrySyncedObject(ctx context.Context, teso model.TimeEntrySyncedObject) (model.TimeEntrySyncedObject, error) {
	if teso.ID == "" {
		teso.ID = uuid.NewString()
	}
	if _, err := s.tesos.InsertOne(ctx, teso); err != nil {
		return model.TimeEntrySyncedObject{}, fmt.Errorf("insert time entry synced object: %w", err)
	}
	return teso, nil
}

func (s *MongoStore) UpdateTimeEntrySyncedObject(ctx context.Context, teso model.TimeEntrySyncedObject) error {
	update := bson.M{"$set": bson.M{
		"lastUpdated":             teso.LastUpdated,
		"serviceTimeEntryObjects": teso.ServiceTimeEntryObjects,
	}}
	result, err := s.tesos.UpdateOne(ctx, bson.M{"_id": teso.ID}, update)
	if err != nil {
		return fmt.Errorf("update time entry synced object %s: %w", teso.ID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("time entry synced object %s: %w", teso.ID, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) DeleteTimeEntrySyncedObject(ctx context.Context, id string) error {
	result, err := s.tesos.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete time entry synced object %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("time entry synced object %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) CreateJobLog(ctx context.Context, log model.JobLog) (model.JobLog, error) {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.Errors == nil {
		log.Errors = []string{}
	}
	if _, err := s.jobLogs.InsertOne(ctx, log); err != nil {
		return model.JobLog{}, fmt.Errorf("insert job log: %w", err)
	}
	return log, nil
}

func (s *MongoStore) UpdateJobLog(ctx context.Context, log model.JobLog) error {
	if log.Errors == nil {
		log.Errors = []string{}
	}
	set := bson.M{
		"status": log.Status,
		"errors": log.Errors,
	}
	if log.Started != nil {
		set["started"] = *log.Started
	}
	if log.Completed != nil {
		set["completed"] = *log.Completed
	}
	result, err := s.jobLogs.UpdateOne(ctx, bson.M{"_id": log.ID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update job log %s: %w", log.ID, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("job log %s: %w", log.ID, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) ListJobLogs(ctx context.Context, userID string, limit int) ([]model.JobLog, error) {
	if limit <= 0 {
		limit = defaultJobLogLimit
	}
	findOptions := options.Find().
		SetSort(bson.D{{Key: "scheduledDate", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.jobLogs.Find(ctx, bson.M{"userId": userID}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("query job logs: %w", err)
	}
	logs := make([]model.JobLog, 0)
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("decode job logs: %w", err)
	}
	return logs, nil
}
