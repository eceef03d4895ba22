package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"poi-server/models"
	"poi-server/utils/errors"
)

// Logical keys in the key-value store.
const (
	keyCategories = "categories"
	keyPOIs       = "pois"
	keyActivity   = "activity_log"
)

// stagedImportKey is the fixed staging slot: one batch at a time, a second
// import overwrites the first's staged data.
const stagedImportKey = "import:staged"

// stagingTTL bounds how long a parsed batch waits for commit before it is
// considered stale and must be re-uploaded.
const stagingTTL = time.Hour

// activityLogMax bounds the activity ring buffer.
const activityLogMax = 20

// KVStore is the persistent key-value repository behind the category/POI
// store. Values are opaque JSON documents. Get returns (nil, nil) for a
// missing key.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// MongoKVStore keeps each logical key as one document in an options
// collection: {_id: key, value: <json string>}.
type MongoKVStore struct {
	collection *mongo.Collection
}

func NewMongoKVStore(client *mongo.Client, database string) *MongoKVStore {
	return &MongoKVStore{collection: client.Database(database).Collection("options")}
}

type optionDoc struct {
	ID    string `bson:"_id"`
	Value string `bson:"value"`
}

func (s *MongoKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var doc optionDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc.Value), nil
}

func (s *MongoKVStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": key},
		optionDoc{ID: key, Value: string(value)},
		options.Replace().SetUpsert(true))
	return err
}

func (s *MongoKVStore) Delete(ctx context.Context, key string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

// MemoryKVStore is the in-process implementation used by tests.
type MemoryKVStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{data: make(map[string][]byte)}
}

func (s *MemoryKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *MemoryKVStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	return nil
}

func (s *MemoryKVStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// StagingStore holds the transient parsed batch between upload and commit.
type StagingStore interface {
	Put(ctx context.Context, batch *models.ImportBatch) error
	// Get returns nil when nothing is staged or the batch expired.
	Get(ctx context.Context) (*models.ImportBatch, error)
	Clear(ctx context.Context) error
}

// RedisStaging stores the staged batch under a fixed key with a TTL, the
// same Set-with-expiry pattern used for cached user records.
type RedisStaging struct {
	client *redis.Client
}

func NewRedisStaging(client *redis.Client) *RedisStaging {
	return &RedisStaging{client: client}
}

func (s *RedisStaging) Put(ctx context.Context, batch *models.ImportBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, stagedImportKey, data, stagingTTL).Err()
}

func (s *RedisStaging) Get(ctx context.Context) (*models.ImportBatch, error) {
	data, err := s.client.Get(ctx, stagedImportKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var batch models.ImportBatch
	if err := json.Unmarshal([]byte(data), &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *RedisStaging) Clear(ctx context.Context) error {
	return s.client.Del(ctx, stagedImportKey).Err()
}

// MemoryStaging is the test implementation; it honors the TTL so staleness
// paths are testable.
type MemoryStaging struct {
	mu      sync.Mutex
	batch   *models.ImportBatch
	expires time.Time
	now     func() time.Time
}

func NewMemoryStaging() *MemoryStaging {
	return &MemoryStaging{now: time.Now}
}

func (s *MemoryStaging) Put(ctx context.Context, batch *models.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = batch
	s.expires = s.now().Add(stagingTTL)
	return nil
}

func (s *MemoryStaging) Get(ctx context.Context) (*models.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil || s.now().After(s.expires) {
		return nil, nil
	}
	return s.batch, nil
}

func (s *MemoryStaging) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = nil
	return nil
}

// StoreService is the category/POI repository. Every operation is a full
// read-merge-write of the logical key it touches; the underlying store
// serializes writers.
type StoreService struct {
	kv KVStore
}

func NewStoreService(kv KVStore) *StoreService {
	return &StoreService{kv: kv}
}

// GetCategories returns the category map keyed by slug.
func (s *StoreService) GetCategories(ctx context.Context) (map[string]models.Category, error) {
	data, err := s.kv.Get(ctx, keyCategories)
	if err != nil {
		return nil, err
	}
	categories := make(map[string]models.Category)
	if data != nil {
		if err := json.Unmarshal(data, &categories); err != nil {
			return nil, err
		}
	}
	return categories, nil
}

func (s *StoreService) SaveCategories(ctx context.Context, categories map[string]models.Category) error {
	data, err := json.Marshal(categories)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, keyCategories, data)
}

// GetPOIs returns the full category-partitioned POI map. Order within each
// category is significant: "key|index" is the addressable POI identity.
func (s *StoreService) GetPOIs(ctx context.Context) (map[string][]models.POI, error) {
	data, err := s.kv.Get(ctx, keyPOIs)
	if err != nil {
		return nil, err
	}
	pois := make(map[string][]models.POI)
	if data != nil {
		if err := json.Unmarshal(data, &pois); err != nil {
			return nil, err
		}
	}
	return pois, nil
}

func (s *StoreService) SavePOIs(ctx context.Context, pois map[string][]models.POI) error {
	data, err := json.Marshal(pois)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, keyPOIs, data)
}

// SaveCategory creates or renames a category. Keys are stable: renaming
// changes Name only, never Key.
func (s *StoreService) SaveCategory(ctx context.Context, category models.Category) error {
	if category.Key == "" || category.Name == "" {
		return errors.NewValidationError("Category key and name are required")
	}
	categories, err := s.GetCategories(ctx)
	if err != nil {
		return err
	}
	categories[category.Key] = category
	return s.SaveCategories(ctx, categories)
}

// DeleteCategory removes a category and cascades to all of its POIs.
func (s *StoreService) DeleteCategory(ctx context.Context, key string) error {
	categories, err := s.GetCategories(ctx)
	if err != nil {
		return err
	}
	if _, ok := categories[key]; !ok {
		return errors.ErrNotFound
	}
	delete(categories, key)
	if err := s.SaveCategories(ctx, categories); err != nil {
		return err
	}
	pois, err := s.GetPOIs(ctx)
	if err != nil {
		return err
	}
	if dropped, ok := pois[key]; ok {
		delete(pois, key)
		if err := s.SavePOIs(ctx, pois); err != nil {
			return err
		}
		log.Printf("Deleted category %s and %d POIs", key, len(dropped))
	}
	return nil
}

// SavePOI inserts (index < 0) or replaces a single POI. The name is the one
// required field; validation happens here at the store boundary so nothing
// downstream has to re-check it.
func (s *StoreService) SavePOI(ctx context.Context, categoryKey string, index int, poi models.POI) error {
	if poi.Name == "" {
		return errors.NewValidationError("POI name is required")
	}
	categories, err := s.GetCategories(ctx)
	if err != nil {
		return err
	}
	if _, ok := categories[categoryKey]; !ok {
		return errors.NewValidationError("Unknown category: " + categoryKey)
	}
	pois, err := s.GetPOIs(ctx)
	if err != nil {
		return err
	}
	list := pois[categoryKey]
	if index < 0 {
		list = append(list, poi)
	} else {
		if index >= len(list) {
			return errors.ErrNotFound
		}
		list[index] = poi
	}
	pois[categoryKey] = list
	return s.SavePOIs(ctx, pois)
}

// AppendActivity prepends one entry to the bounded activity ring buffer.
func (s *StoreService) AppendActivity(ctx context.Context, action string) error {
	entries, err := s.GetActivity(ctx)
	if err != nil {
		return err
	}
	entries = append([]models.ActivityEntry{{Time: time.Now().Unix(), Action: action}}, entries...)
	if len(entries) > activityLogMax {
		entries = entries[:activityLogMax]
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, keyActivity, data)
}

// GetActivity returns the activity log, newest first.
func (s *StoreService) GetActivity(ctx context.Context) ([]models.ActivityEntry, error) {
	data, err := s.kv.Get(ctx, keyActivity)
	if err != nil {
		return nil, err
	}
	var entries []models.ActivityEntry
	if data != nil {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, err
		}
	}
	return entries, nil
}
