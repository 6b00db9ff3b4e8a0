package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/annel0/fg-server/internal/protocol"
)

// MongoConfig настройки подключения к MongoDB
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. fg
	Collection string // e.g. players
}

// MongoPlayerRepo реализует PlayerRepo на MongoDB.
// Документ: {pid, data, updated_at}.
type MongoPlayerRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

type playerDoc struct {
	PID       int32     `bson:"pid"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoPlayerRepo подключается и создаёт уникальный индекс по pid
func NewMongoPlayerRepo(cfg MongoConfig) (*MongoPlayerRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "fg"
	}
	if cfg.Collection == "" {
		cfg.Collection = "players"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("MongoDB не отвечает: %w", err)
	}

	repo := &MongoPlayerRepo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		ctxTimeout: 5 * time.Second,
	}
	if err := repo.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return repo, nil
}

func (m *MongoPlayerRepo) ensureIndexes(ctx context.Context) error {
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "pid", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("pid_unique"),
	}
	_, err := m.collection.Indexes().CreateOne(ctx, idx)
	return err
}

// Save выполняет upsert документа игрока
func (m *MongoPlayerRepo) Save(ctx context.Context, pid protocol.PID, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	doc := playerDoc{PID: int32(pid), Data: data, UpdatedAt: time.Now().UTC()}
	_, err := m.collection.ReplaceOne(ctx, bson.M{"pid": int32(pid)}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("ошибка сохранения записи игрока %d: %w", pid, err)
	}
	return nil
}

// Load читает документ игрока
func (m *MongoPlayerRepo) Load(ctx context.Context, pid protocol.PID) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	var doc playerDoc
	err := m.collection.FindOne(ctx, bson.M{"pid": int32(pid)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка загрузки записи игрока %d: %w", pid, err)
	}
	return doc.Data, true, nil
}

// Delete удаляет документ игрока
func (m *MongoPlayerRepo) Delete(ctx context.Context, pid protocol.PID) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	res, err := m.collection.DeleteOne(ctx, bson.M{"pid": int32(pid)})
	if err != nil {
		return fmt.Errorf("ошибка удаления записи игрока %d: %w", pid, err)
	}
	if res.DeletedCount == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Close отключает клиента
func (m *MongoPlayerRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
