package services

import (
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/koinonia/backend/internal/config"
	"github.com/koinonia/backend/internal/models"
	jwtpkg "github.com/koinonia/backend/pkg/jwt"
	"github.com/koinonia/backend/pkg/validation"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type AuthService struct {
	db  *gorm.DB
	cfg *config.Config
}

func NewAuthService(db *gorm.DB, cfg *config.Config) *AuthService {
	return &AuthService{db: db, cfg: cfg}
}

// Login authenticates a user and returns access and refresh tokens.
func (s *AuthService) Login(email, password string) (string, string, *models.User, error) {
	var user models.User
	if err := s.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", nil, errors.New("invalid credentials")
		}
		return "", "", nil, err
	}

	if !user.IsActive {
		return "", "", nil, errors.New("account is deactivated")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return "", "", nil, errors.New("invalid credentials")
	}

	accessToken, err := jwtpkg.GenerateToken(user.ID.String(), jwtpkg.AccessToken, s.cfg.JWTSecret, s.cfg.JWTAccessTokenDuration)
	if err != nil {
		return "", "", nil, err
	}

	refreshToken, err := jwtpkg.GenerateToken(user.ID.String(), jwtpkg.RefreshToken, s.cfg.JWTSecret, s.cfg.JWTRefreshTokenDuration)
	if err != nil {
		return "", "", nil, err
	}

	refreshTokenModel := &models.RefreshToken{
		UserID:    user.ID,
		Token:     refreshToken,
		ExpiresAt: time.Now().Add(s.cfg.JWTRefreshTokenDuration),
	}
	if err := s.db.Create(refreshTokenModel).Error; err != nil {
		return "", "", nil, err
	}

	return accessToken, refreshToken, &user, nil
}

// Register creates a new user account.
func (s *AuthService) Register(email, password, name string) (*models.User, error) {
	if !validation.ValidateEmail(email) {
		return nil, errors.New("invalid email address")
	}
	if !validation.ValidatePassword(password) {
		return nil, errors.New("password must be at least 8 characters with upper, lower, number and special characters")
	}
	if name == "" {
		return nil, errors.New("name is required")
	}

	var existing models.User
	if err := s.db.Where("email = ?", email).First(&existing).Error; err == nil {
		return nil, errors.New("email already registered")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:    email,
		Password: string(hashed),
		Name:     validation.SanitizeString(name),
		IsActive: true,
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// RefreshToken exchanges a valid refresh token for a new access token.
func (s *AuthService) RefreshToken(refreshToken string) (string, error) {
	claims, err := jwtpkg.ValidateToken(refreshToken, s.cfg.JWTSecret)
	if err != nil || claims.TokenType != jwtpkg.RefreshToken {
		return "", errors.New("invalid refresh token")
	}

	var stored models.RefreshToken
	if err := s.db.Where("token = ?", refreshToken).First(&stored).Error; err != nil {
		return "", errors.New("refresh token not found")
	}
	if time.Now().After(stored.ExpiresAt) {
		return "", errors.New("refresh token expired")
	}

	return jwtpkg.GenerateToken(claims.UserID, jwtpkg.AccessToken, s.cfg.JWTSecret, s.cfg.JWTAccessTokenDuration)
}

// Logout invalidates all refresh tokens of a user.
func (s *AuthService) Logout(userID uuid.UUID) error {
	return s.db.Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error
}

// ValidateAccessToken validates an access token and returns its claims.
func (s *AuthService) ValidateAccessToken(token string) (*jwtpkg.Claims, error) {
	claims, err := jwtpkg.ValidateToken(token, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != jwtpkg.AccessToken {
		return nil, errors.New("not an access token")
	}
	return claims, nil
}

// GetUserByID loads a user by id.
func (s *AuthService) GetUserByID(userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateDefaultAdmin ensures the bootstrap admin account exists.
func (s *AuthService) CreateDefaultAdmin() error {
	var count int64
	if err := s.db.Model(&models.User{}).Where("is_admin = ?", true).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(s.cfg.AdminPassword), s.cfg.BcryptCost)
	if err != nil {
		return err
	}
	admin := &models.User{
		Email:    s.cfg.AdminEmail,
		Password: string(hashed),
		Name:     "Administrator",
		IsAdmin:  true,
		IsActive: true,
	}
	if err := s.db.Create(admin).Error; err != nil {
		return err
	}
	log.Printf("Created default admin account %s", s.cfg.AdminEmail)
	return nil
}

// CleanupExpiredTokens removes stale refresh tokens.
func (s *AuthService) CleanupExpiredTokens() error {
	return s.db.Where("expires_at < ?", time.Now()).Delete(&models.RefreshToken{}).Error
}
