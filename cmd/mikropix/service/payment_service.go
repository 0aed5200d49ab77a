package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/backend"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/db"
	"github.com/AlexeySalamakhin/mikropix/cmd/mikropix/models"
)

var (
	ErrPlanNotFound        = errors.New("тариф не найден")
	ErrTrialNotPurchasable = errors.New("пробный тариф нельзя оплатить")
)

type PlanRepo interface {
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
}

type PaymentClient interface {
	CreatePayment(ctx context.Context, accountID, planID string) (*backend.Payment, error)
}

type PaymentService struct {
	Plans    PlanRepo
	Client   PaymentClient
	Logger   *zap.Logger
	validate *validator.Validate
}

func NewPaymentService(plans PlanRepo, client PaymentClient, logger *zap.Logger) *PaymentService {
	return &PaymentService{Plans: plans, Client: client, Logger: logger, validate: validator.New()}
}

// CreatePayment starts a PIX charge for a subscription plan. The backend
// activates the subscription once the charge is paid.
func (s *PaymentService) CreatePayment(ctx context.Context, accountID string, req models.PaymentRequest) (*backend.Payment, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, ErrInvalidRequest
	}
	plan, err := s.Plans.GetPlan(ctx, req.PlanID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	if plan.IsTrial {
		return nil, ErrTrialNotPurchasable
	}
	p, err := s.Client.CreatePayment(ctx, accountID, plan.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	s.Logger.Info("Payment created", zap.String("account_id", accountID), zap.String("plan_id", plan.ID), zap.String("payment_id", p.PaymentID))
	return p, nil
}
