package services

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/koinonia/backend/internal/models"
	"github.com/koinonia/backend/pkg/validation"
	"gorm.io/gorm"
)

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

func (s *UserService) GetUserByID(userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("user not found")
		}
		return nil, err
	}
	return &user, nil
}

// UpdateProfile updates the user's own editable fields.
func (s *UserService) UpdateProfile(userID uuid.UUID, name, gender string, birthday *time.Time) (*models.User, error) {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	if name != "" {
		user.Name = validation.SanitizeString(name)
	}
	if gender != "" {
		if gender != "M" && gender != "F" {
			return nil, errors.New("gender must be M or F")
		}
		user.Gender = gender
	}
	if birthday != nil {
		user.Birthday = birthday
	}
	if err := s.db.Save(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// AddFamilyMember appends a dependant to the user's family list.
func (s *UserService) AddFamilyMember(userID uuid.UUID, name, gender string, birthday *time.Time) (*models.User, error) {
	if name == "" {
		return nil, errors.New("name is required")
	}
	if gender != "" && gender != "M" && gender != "F" {
		return nil, errors.New("gender must be M or F")
	}
	user, err := s.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	user.FamilyMembers = append(user.FamilyMembers, models.FamilyMember{
		ID:       uuid.New().String(),
		Name:     validation.SanitizeString(name),
		Gender:   gender,
		Birthday: birthday,
	})
	if err := s.db.Model(user).Update("family_members", user.FamilyMembers).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// RemoveFamilyMember deletes a dependant. Registrations already holding a
// seat for the member are unaffected; they are keyed by the member id.
func (s *UserService) RemoveFamilyMember(userID uuid.UUID, memberID string) (*models.User, error) {
	user, err := s.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	kept := user.FamilyMembers[:0]
	found := false
	for _, fm := range user.FamilyMembers {
		if fm.ID == memberID {
			found = true
			continue
		}
		kept = append(kept, fm)
	}
	if !found {
		return nil, errors.New("family member not found")
	}
	user.FamilyMembers = kept
	if err := s.db.Model(user).Update("family_members", user.FamilyMembers).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// SetMembership toggles the member flag (admin only).
func (s *UserService) SetMembership(userID uuid.UUID, member bool) error {
	result := s.db.Model(&models.User{}).Where("id = ?", userID).Update("membership", member)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("user not found")
	}
	return nil
}

// SetActive toggles account activation (admin only).
func (s *UserService) SetActive(userID uuid.UUID, active bool) error {
	result := s.db.Model(&models.User{}).Where("id = ?", userID).Update("is_active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("user not found")
	}
	return nil
}

// ListUsers returns a page of users (admin only).
func (s *UserService) ListUsers(offset, limit int) ([]models.User, int64, error) {
	var total int64
	if err := s.db.Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var users []models.User
	if err := s.db.Order("created_at DESC").Offset(offset).Limit(limit).
		Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}
