// Package auth 邮箱密码认证，令牌通过 HTTP-only cookie 下发
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/ashwinyue/persona-chat/internal/model"
	"github.com/ashwinyue/persona-chat/internal/repository"
)

// MinPasswordLength 密码最小长度
const MinPasswordLength = 8

// TokenTTL 登录令牌有效期
const TokenTTL = 7 * 24 * time.Hour

var (
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrInvalidEmail       = errors.New("a valid email address is required")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrInvalidToken       = errors.New("invalid token")
)

// Service 认证服务
type Service struct {
	repo   *repository.AuthRepository
	secret []byte
	now    func() time.Time
}

// NewService 创建认证服务，secret 为空时生成随机密钥，重启后旧令牌失效
func NewService(repo *repository.AuthRepository, secret string) (*Service, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		randomBytes := make([]byte, 32)
		if _, err := rand.Read(randomBytes); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		secret = base64.StdEncoding.EncodeToString(randomBytes)
	}
	return &Service{repo: repo, secret: []byte(secret), now: time.Now}, nil
}

// Register 注册用户
func (s *Service) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	existing, err := s.repo.GetUserByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, ErrEmailTaken
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: string(hashedPassword),
		IsActive:     true,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login 校验密码并签发令牌
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, string, time.Time, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, "", time.Time{}, ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", time.Time{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.issueToken(ctx, user)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return user, token, expiresAt, nil
}

// Logout 撤销令牌
func (s *Service) Logout(ctx context.Context, token string) error {
	record, err := s.repo.GetTokenByValue(ctx, token)
	if err != nil {
		return ErrInvalidToken
	}
	return s.repo.RevokeToken(ctx, record.ID)
}

// CurrentUser 返回令牌对应的用户，令牌缺失或无效时返回 nil
func (s *Service) CurrentUser(ctx context.Context, token string) *model.User {
	if token == "" {
		return nil
	}
	userID, err := s.parse(token)
	if err != nil {
		return nil
	}
	if _, err := s.repo.GetTokenByValue(ctx, token); err != nil {
		return nil
	}
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil || !user.IsActive {
		return nil
	}
	return user
}

func (s *Service) parse(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// issueToken 签发令牌并记录，登出时据此撤销
func (s *Service) issueToken(ctx context.Context, user *model.User) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(TokenTTL)
	claims := jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"jti":     uuid.New().String(),
		"exp":     expiresAt.Unix(),
		"iat":     now.Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	record := &model.AuthToken{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: expiresAt,
	}
	if err := s.repo.CreateToken(ctx, record); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store token: %w", err)
	}
	return token, expiresAt, nil
}
