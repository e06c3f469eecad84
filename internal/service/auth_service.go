package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"pomelo/internal/model/auth"
	"pomelo/internal/pkg/id"
	"pomelo/internal/pkg/jwt"
	"pomelo/internal/pkg/password"
	authRepo "pomelo/internal/repository/auth"
)

// 认证错误，handler 层用 errors.Is 映射 HTTP 状态
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUserExists     = errors.New("username already taken")
	ErrEmailExists    = errors.New("email already registered")
	ErrBadCredentials = errors.New("invalid username or password")
	ErrUserInactive   = errors.New("account pending review")
	ErrUserBanned     = errors.New("account disabled")
	ErrTokenInvalid   = errors.New("invalid refresh token")
	ErrTokenExpired   = errors.New("refresh token expired")
)

// AuthService 注册、登录与令牌生命周期
type AuthService struct {
	users      *authRepo.UserRepo
	tokens     *authRepo.RefreshTokenRepo
	jwt        *jwt.JWT
	refreshTTL time.Duration
}

// NewAuthService 创建认证服务
func NewAuthService(
	users *authRepo.UserRepo,
	tokens *authRepo.RefreshTokenRepo,
	jwtSecret string,
	accessTTL time.Duration,
	refreshTTL time.Duration,
) *AuthService {
	return &AuthService{
		users:      users,
		tokens:     tokens,
		jwt:        jwt.NewJWT(jwtSecret, accessTTL),
		refreshTTL: refreshTTL,
	}
}

// Session 一次登录签发的令牌组
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int // access token 有效期（秒）
	User         *auth.User
}

// Register 注册新用户，初始状态为待审核
func (s *AuthService) Register(ctx context.Context, username, email, pwd, nickname string) (*auth.User, error) {
	if existing, _ := s.users.FindByUsername(ctx, username); existing != nil {
		return nil, ErrUserExists
	}
	if existing, _ := s.users.FindByEmail(ctx, email); existing != nil {
		return nil, ErrEmailExists
	}

	hashed, err := password.Hash(pwd)
	if err != nil {
		return nil, err
	}

	user := &auth.User{
		ID:       id.New(),
		Username: username,
		Email:    email,
		Password: hashed,
		Role:     auth.RoleEditor,
		Status:   auth.UserStatusInactive, // 管理员审核通过后才能登录
	}
	if nickname != "" {
		user.Profile = &auth.UserProfile{Nickname: nickname}
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login 校验凭据并签发会话
// 用户不存在与密码错误返回同一个错误，不泄露用户名是否注册
func (s *AuthService) Login(ctx context.Context, username, pwd string) (*Session, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, ErrBadCredentials
	}
	if !password.Verify(pwd, user.Password) {
		return nil, ErrBadCredentials
	}
	if err := ensureActive(user); err != nil {
		return nil, err
	}

	session, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLoginAt(ctx, user.ID); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to update last login time")
	}
	return session, nil
}

// Refresh 用 refresh token 换新的 access token；refresh token 本身不轮换
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	stored, err := s.tokens.FindByToken(ctx, refreshToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if stored.IsExpired() {
		_ = s.tokens.DeleteByToken(ctx, refreshToken)
		return nil, ErrTokenExpired
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if user.Status == auth.UserStatusBanned {
		return nil, ErrUserBanned
	}

	access, err := s.jwt.GenerateToken(user.ID, user.Username, string(user.Role))
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken: access,
		ExpiresIn:   int(s.jwt.GetExpiration().Seconds()),
		User:        user,
	}, nil
}

// Logout 作废 refresh token
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.DeleteByToken(ctx, refreshToken)
}

// GetUserByID 按 ID 取用户
func (s *AuthService) GetUserByID(ctx context.Context, userID string) (*auth.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// issueSession 签发 access + refresh 令牌并持久化 refresh token
func (s *AuthService) issueSession(ctx context.Context, user *auth.User) (*Session, error) {
	access, err := s.jwt.GenerateToken(user.ID, user.Username, string(user.Role))
	if err != nil {
		return nil, err
	}

	refresh := jwt.GenerateRefreshToken()
	record := &auth.RefreshToken{
		ID:        id.New(),
		UserID:    user.ID,
		Token:     refresh,
		ExpiresAt: time.Now().Add(s.refreshTTL),
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.jwt.GetExpiration().Seconds()),
		User:         user,
	}, nil
}

// ensureActive 登录前的状态闸门
func ensureActive(user *auth.User) error {
	switch user.Status {
	case auth.UserStatusInactive:
		return ErrUserInactive
	case auth.UserStatusBanned:
		return ErrUserBanned
	default:
		return nil
	}
}
