package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/db"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

type AccountRepo interface {
	CreateAccount(ctx context.Context, a *models.Account) error
	IsEmailExist(ctx context.Context, email string) (bool, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	UpdateSettings(ctx context.Context, id string, s models.AccountSettings) error
}

type DeviceRepo interface {
	ListByOwner(ctx context.Context, ownerID string) ([]models.Device, error)
	ListAll(ctx context.Context) ([]models.Device, error)
}

type SubscriptionRepo interface {
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	CreateSubscription(ctx context.Context, s *models.Subscription) error
	GetCurrent(ctx context.Context, accountID string) (*models.Subscription, error)
}

type TokenIssuer interface {
	GenerateJWT(accountID string, role models.Role) (string, error)
}

type AccountService struct {
	AccountRepo      AccountRepo
	DeviceRepo       DeviceRepo
	SubscriptionRepo SubscriptionRepo
	Tokens           TokenIssuer
	TrialPlanID      string
	Logger           *zap.Logger
	validate         *validator.Validate
	now              func() time.Time
}

var (
	ErrEmailTaken         = errors.New("e-mail уже зарегистрирован")
	ErrInvalidCredentials = errors.New("неверная пара e-mail/пароль")
	ErrAccountNotFound    = errors.New("аккаунт не найден")
	ErrNoSubscription     = errors.New("подписка не найдена")
	ErrInvalidRequest     = errors.New("неверный формат запроса")
)

func NewAccountService(accounts AccountRepo, devices DeviceRepo, subscriptions SubscriptionRepo, tokens TokenIssuer, trialPlanID string, logger *zap.Logger) *AccountService {
	return &AccountService{
		AccountRepo:      accounts,
		DeviceRepo:       devices,
		SubscriptionRepo: subscriptions,
		Tokens:           tokens,
		TrialPlanID:      trialPlanID,
		Logger:           logger,
		validate:         validator.New(),
		now:              time.Now,
	}
}

// Register creates a reseller account, activates the trial plan and returns
// a session token.
func (s *AccountService) Register(ctx context.Context, req models.RegisterRequest) (string, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := s.validate.Struct(req); err != nil {
		return "", ErrInvalidRequest
	}
	exists, err := s.AccountRepo.IsEmailExist(ctx, req.Email)
	if err != nil {
		return "", err
	}
	if exists {
		return "", ErrEmailTaken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	acc := &models.Account{
		ID:           uuid.NewString(),
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         models.RoleUser,
	}
	if err := s.AccountRepo.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return "", ErrEmailTaken
		}
		return "", err
	}
	if err := s.startTrial(ctx, acc.ID); err != nil {
		s.Logger.Error("Не удалось активировать пробный тариф", zap.String("account_id", acc.ID), zap.Error(err))
	}
	return s.Tokens.GenerateJWT(acc.ID, acc.Role)
}

func (s *AccountService) startTrial(ctx context.Context, accountID string) error {
	if s.TrialPlanID == "" {
		return nil
	}
	plan, err := s.SubscriptionRepo.GetPlan(ctx, s.TrialPlanID)
	if err != nil {
		return err
	}
	now := s.now()
	return s.SubscriptionRepo.CreateSubscription(ctx, &models.Subscription{
		ID:        uuid.NewString(),
		AccountID: accountID,
		PlanID:    plan.ID,
		StartsAt:  now,
		ExpiresAt: now.AddDate(0, 0, plan.DurationDays),
		Status:    models.SubscriptionActive,
	})
}

func (s *AccountService) Login(ctx context.Context, req models.LoginRequest) (string, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		return "", ErrInvalidRequest
	}
	acc, err := s.AccountRepo.GetByEmail(ctx, req.Email)
	if errors.Is(err, db.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)) != nil {
		return "", ErrInvalidCredentials
	}
	return s.Tokens.GenerateJWT(acc.ID, acc.Role)
}

func (s *AccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	acc, err := s.AccountRepo.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return acc, err
}

func (s *AccountService) UpdateSettings(ctx context.Context, id string, settings models.AccountSettings) (*models.Account, error) {
	if settings.PixKey != nil {
		key := strings.TrimSpace(*settings.PixKey)
		settings.PixKey = &key
	}
	if err := s.validate.Struct(settings); err != nil {
		return nil, ErrInvalidRequest
	}
	if err := s.AccountRepo.UpdateSettings(ctx, id, settings); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return s.GetAccount(ctx, id)
}

// GetSubscription returns the latest subscription with its status as of now.
func (s *AccountService) GetSubscription(ctx context.Context, accountID string) (*models.Subscription, error) {
	sub, err := s.SubscriptionRepo.GetCurrent(ctx, accountID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNoSubscription
	}
	if err != nil {
		return nil, err
	}
	sub.Status = sub.EffectiveStatus(s.now())
	return sub, nil
}

// AccessibleDevices is every device for admins and the owned ones otherwise.
func (s *AccountService) AccessibleDevices(ctx context.Context, accountID string, role models.Role) ([]models.Device, error) {
	if role == models.RoleAdmin {
		return s.DeviceRepo.ListAll(ctx)
	}
	return s.DeviceRepo.ListByOwner(ctx, accountID)
}
