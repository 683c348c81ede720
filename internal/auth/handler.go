package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/yourusername/fullstack-auth/internal/user"
)

func init() {
	// 未知のフィールドを含むリクエストボディは拒否する
	binding.EnableDecoderDisallowUnknownFields = true
}

// AuthService は認証操作を提供するサービスが実装します。
type AuthService interface {
	SignUp(ctx context.Context, email, name, password string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	CurrentUser(ctx context.Context, userID string) (user.Public, error)
}

// Handler は認証エンドポイントのHTTPハンドラー群です。
type Handler struct {
	svc     AuthService
	limiter AttemptLimiter
}

// NewHandler は Handler を作成します。limiter が nil の場合は制限なしになります。
func NewHandler(svc AuthService, limiter AttemptLimiter) *Handler {
	if limiter == nil {
		limiter = NopLimiter{}
	}
	return &Handler{
		svc:     svc,
		limiter: limiter,
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required,min=3"`
	Password string `json:"password" binding:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Register は POST /api/auth/register のハンドラーです。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}
	if fieldErrs := passwordRuleErrors(req.Password); len(fieldErrs) > 0 {
		respondFieldErrors(c, gin.H{"password": fieldErrs})
		return
	}

	session, err := h.svc.SignUp(c.Request.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "EMAIL_TAKEN",
				"message": "User with this email already exists",
			})
			return
		}
		respondInternalError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "User created successfully",
		"user":    session.User,
		"token":   session.Token,
	})
}

// Login は POST /api/auth/login のハンドラーです。
// 失敗はIPごとにカウントし、上限到達後は一定時間429を返します。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}

	ip := c.ClientIP()
	if retryAfter, err := h.limiter.CheckLock(c.Request.Context(), ip); err != nil {
		// 制限ストアの障害でログイン自体を止めない
		_ = c.Error(err)
	} else if retryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "Too many failed login attempts, please try again later",
		})
		return
	}

	session, err := h.svc.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			// アカウント不存在とパスワード不一致でメッセージを変えない
			if _, lerr := h.limiter.RecordFailure(c.Request.Context(), ip); lerr != nil {
				_ = c.Error(lerr)
			}
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "INVALID_CREDENTIALS",
				"message": "Invalid credentials",
			})
			return
		}
		respondInternalError(c, err)
		return
	}

	if err := h.limiter.Reset(c.Request.Context(), ip); err != nil {
		_ = c.Error(err)
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Sign in successful",
		"user":    session.User,
		"token":   session.Token,
	})
}

// Me は GET /api/auth/me のハンドラーです。RequireAuth の背後に配置します。
func (h *Handler) Me(c *gin.Context) {
	claims, ok := ClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "Authentication required",
		})
		return
	}

	u, err := h.svc.CurrentUser(c.Request.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "USER_NOT_FOUND",
				"message": "User not found",
			})
			return
		}
		respondInternalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": u,
	})
}

// respondValidationError はバインドエラーをフィールド単位のエラー応答に変換します。
func respondValidationError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fieldErrs := gin.H{}
		for _, fe := range verrs {
			fieldErrs[strings.ToLower(fe.Field())] = []string{validationMessage(fe)}
		}
		respondFieldErrors(c, fieldErrs)
		return
	}

	// JSON形式の誤りや未知フィールドなど
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    "INVALID_INPUT",
		"message": "Invalid request body",
	})
}

func respondFieldErrors(c *gin.Context, fieldErrs gin.H) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    "INVALID_INPUT",
		"message": "Validation failed",
		"errors":  fieldErrs,
	})
}

func respondInternalError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "INTERNAL_ERROR",
		"message": "An unexpected error occurred",
	})
}

func validationMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return "Invalid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// passwordRuleErrors はパスワードの構成ルールを検証します。
// クライアント側フォームと同じルールをサーバー側でも強制します。
func passwordRuleErrors(password string) []string {
	var hasLetter, hasNumber, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsNumber(r):
			hasNumber = true
		default:
			hasSpecial = true
		}
	}

	var errs []string
	if !hasLetter {
		errs = append(errs, "Password must contain at least one letter")
	}
	if !hasNumber {
		errs = append(errs, "Password must contain at least one number")
	}
	if !hasSpecial {
		errs = append(errs, "Password must contain at least one special character")
	}
	return errs
}
