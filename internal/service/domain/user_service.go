package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/qs-lzh/open-event/internal/auth"
	"github.com/qs-lzh/open-event/internal/model"
	"github.com/qs-lzh/open-event/internal/repository"
	"github.com/qs-lzh/open-event/internal/service"
)

type FindOrCreateOutcome string

const (
	UserFound   FindOrCreateOutcome = "found"
	UserCreated FindOrCreateOutcome = "created"
)

type UserDefaults struct {
	FirstName string
	LastName  string
}

type FindOrCreateResult struct {
	User    *model.User
	Outcome FindOrCreateOutcome
}

type UserService interface {
	GetByID(ctx context.Context, id uint) (*model.User, error)
	// FindOrCreate returns the user with email, creating one from defaults if none exists.
	FindOrCreate(ctx context.Context, email string, defaults UserDefaults) (*FindOrCreateResult, error)
}

type userService struct {
	repo repository.UserRepo
}

var _ UserService = (*userService)(nil)

func NewUserService(userRepo repository.UserRepo) *userService {
	return &userService{
		repo: userRepo,
	}
}

func (s *userService) GetByID(ctx context.Context, id uint) (*model.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *userService) FindOrCreate(ctx context.Context, email string, defaults UserDefaults) (*FindOrCreateResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, service.ValidationError("email", "is required")
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return &FindOrCreateResult{User: user, Outcome: UserFound}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	plain, err := auth.RandomPassword()
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(plain)
	if err != nil {
		return nil, err
	}
	user = &model.User{
		Email:          email,
		FirstName:      defaults.FirstName,
		LastName:       defaults.LastName,
		HashedPassword: hash,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		// a concurrent request may have created the same email
		if existing, getErr := s.repo.GetByEmail(ctx, email); getErr == nil {
			return &FindOrCreateResult{User: existing, Outcome: UserFound}, nil
		}
		return nil, fmt.Errorf("create user %s: %w", email, err)
	}
	return &FindOrCreateResult{User: user, Outcome: UserCreated}, nil
}
