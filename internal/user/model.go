// Package user はアカウントのデータモデルと永続化を提供します。
package user

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// User は users コレクションの1ドキュメントを表します。
// Password には bcrypt ハッシュのみを保持し、平文は決して保存しません。
type User struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Email     string        `bson:"email"`
	Name      string        `bson:"name"`
	Password  string        `bson:"password"`
	CreatedAt time.Time     `bson:"createdAt"`
	UpdatedAt time.Time     `bson:"updatedAt"`
}

// Public はAPIレスポンスに含めてよい公開ビューです。
// パスワードハッシュは構造上含まれません。
type Public struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Public は公開ビューへの射影を返します。
func (u *User) Public() Public {
	return Public{
		ID:    u.ID.Hex(),
		Email: u.Email,
		Name:  u.Name,
	}
}
