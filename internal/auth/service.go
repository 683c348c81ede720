package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/fullstack-auth/internal/user"
)

var (
	// ErrEmailTaken は同一メールアドレスのアカウントが既に存在することを表します。
	ErrEmailTaken = errors.New("user with this email already exists")

	// ErrInvalidCredentials は認証失敗を表します。
	// アカウント不存在とパスワード不一致を区別しないことで列挙攻撃を防ぎます。
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound はトークン検証後にアカウントが見つからないことを表します。
	ErrUserNotFound = errors.New("user not found")
)

// Session は認証成功時に返す公開ビューとトークンの組です。
type Session struct {
	User  user.Public
	Token string
}

// Service は signup / signin / current user の各操作を編成します。
type Service struct {
	users  user.Repository
	hasher *Hasher
	tokens *TokenService
	audit  Sink
}

// NewService は Service を作成します。audit が nil の場合は記録しません。
func NewService(users user.Repository, hasher *Hasher, tokens *TokenService, audit Sink) *Service {
	if audit == nil {
		audit = NopSink{}
	}
	return &Service{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		audit:  audit,
	}
}

// SignUp はアカウントを新規作成し、トークンを発行します。
// メールアドレスが既に使われている場合は ErrEmailTaken を返します。
func (s *Service) SignUp(ctx context.Context, email, name, password string) (*Session, error) {
	event := newEvent("signup", email)

	// 事前チェックは親切な409応答のためのもので、
	// 同時登録の競合は email の一意インデックスが防ぐ。
	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, s.fail(ctx, event, fmt.Errorf("failed to look up email: %w", err))
	}
	if existing != nil {
		return nil, s.fail(ctx, event, ErrEmailTaken)
	}

	hashed, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, s.fail(ctx, event, fmt.Errorf("failed to hash password: %w", err))
	}

	created, err := s.users.Create(ctx, &user.User{
		Email:    email,
		Name:     name,
		Password: hashed,
	})
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, s.fail(ctx, event, ErrEmailTaken)
		}
		return nil, s.fail(ctx, event, fmt.Errorf("failed to create user: %w", err))
	}

	token, err := s.tokens.Issue(created.ID.Hex(), created.Email)
	if err != nil {
		return nil, s.fail(ctx, event, err)
	}

	event.UserID = created.ID.Hex()
	s.succeed(ctx, event)
	return &Session{User: created.Public(), Token: token}, nil
}

// SignIn は資格情報を検証し、トークンを発行します。
// アカウント不存在とパスワード不一致はどちらも ErrInvalidCredentials になります。
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	event := newEvent("signin", email)

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, s.fail(ctx, event, fmt.Errorf("failed to look up email: %w", err))
	}
	if u == nil {
		return nil, s.fail(ctx, event, ErrInvalidCredentials)
	}

	ok, err := s.hasher.VerifyPassword(password, u.Password)
	if err != nil {
		return nil, s.fail(ctx, event, fmt.Errorf("failed to verify password: %w", err))
	}
	if !ok {
		return nil, s.fail(ctx, event, ErrInvalidCredentials)
	}

	token, err := s.tokens.Issue(u.ID.Hex(), u.Email)
	if err != nil {
		return nil, s.fail(ctx, event, err)
	}

	event.UserID = u.ID.Hex()
	s.succeed(ctx, event)
	return &Session{User: u.Public(), Token: token}, nil
}

// CurrentUser はトークン検証済みのアカウントIDからアカウントを取得します。
// トークン発行後にアカウントが消えている場合は ErrUserNotFound を返します。
func (s *Service) CurrentUser(ctx context.Context, userID string) (user.Public, error) {
	event := newEvent("current_user", "")
	event.UserID = userID

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return user.Public{}, s.fail(ctx, event, fmt.Errorf("failed to look up user: %w", err))
	}
	if u == nil {
		return user.Public{}, s.fail(ctx, event, ErrUserNotFound)
	}

	event.Email = u.Email
	s.succeed(ctx, event)
	return u.Public(), nil
}

func (s *Service) succeed(ctx context.Context, event Event) {
	event.Success = true
	s.audit.Record(ctx, event)
}

func (s *Service) fail(ctx context.Context, event Event, err error) error {
	event.Success = false
	event.Reason = err.Error()
	s.audit.Record(ctx, event)
	return err
}
