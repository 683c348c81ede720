package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const collectionName = "users"

// ErrDuplicateEmail は email の一意インデックス違反を表します。
var ErrDuplicateEmail = errors.New("email already registered")

// Repository はアカウントの永続化操作を提供します。
// 見つからない場合、FindByEmail / FindByID は (nil, nil) を返します。
type Repository interface {
	Create(ctx context.Context, u *User) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
}

// MongoRepository は Repository の MongoDB 実装です。
type MongoRepository struct {
	coll *mongo.Collection
}

// NewMongoRepository は MongoRepository を作成します。
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		coll: db.Collection(collectionName),
	}
}

// EnsureIndexes は email の一意インデックスを作成します。
// 重複登録の最終的な防壁はこのインデックスであり、事前チェックではありません。
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create unique email index: %w", err)
	}
	return nil
}

// Create はアカウントを新規作成し、採番済みIDとタイムスタンプを設定して返します。
func (r *MongoRepository) Create(ctx context.Context, u *User) (*User, error) {
	if u == nil {
		return nil, fmt.Errorf("user is nil")
	}

	now := time.Now().UTC()
	doc := *u
	if doc.ID.IsZero() {
		doc.ID = bson.NewObjectID()
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, &doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return &doc, nil
}

// FindByEmail はメールアドレスでアカウントを検索します。
func (r *MongoRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.coll.FindOne(ctx, bson.M{"email": email}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// FindByID は ObjectID の16進文字列でアカウントを検索します。
// 形式が不正なIDは「存在しない」として扱います。
func (r *MongoRepository) FindByID(ctx context.Context, id string) (*User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	var u User
	err = r.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
