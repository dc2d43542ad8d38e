// Package service содержит бизнес-логику Accounts Service.
package service

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"example.com/txoutbox/pkg/logger"
	"example.com/txoutbox/pkg/uow"
	"example.com/txoutbox/services/accounts/internal/domain"
	"example.com/txoutbox/services/accounts/internal/repository"
)

// Transactor выполняет операцию в транзакции (реализуется uow.Manager).
type Transactor interface {
	Do(ctx context.Context, op uow.Operation, opts ...uow.Option) error
}

// AccountService — сценарии работы с аккаунтами.
// Каждый сценарий выполняется в одной транзакции: изменение аккаунта
// и запись его событий в outbox фиксируются вместе или не фиксируются вовсе.
type AccountService struct {
	tx   Transactor
	repo repository.AccountRepository
}

// NewAccountService создаёт сервис аккаунтов.
func NewAccountService(tx Transactor, repo repository.AccountRepository) *AccountService {
	return &AccountService{tx: tx, repo: repo}
}

// Register создаёт аккаунт.
func (s *AccountService) Register(ctx context.Context, email, name string) (*domain.Account, error) {
	var account *domain.Account

	err := s.tx.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
		a, err := domain.Register(email, name)
		if err != nil {
			return err
		}

		exists, err := s.repo.ExistsByEmail(ctx, tx, a.Email)
		if err != nil {
			return fmt.Errorf("ошибка проверки email: %w", err)
		}
		if exists {
			return domain.ErrEmailExists
		}

		if err := s.repo.Save(ctx, tx, a); err != nil {
			return err
		}

		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("account_id", account.ID).
		Msg("Аккаунт зарегистрирован")

	return account, nil
}

// ChangeEmail меняет email аккаунта.
func (s *AccountService) ChangeEmail(ctx context.Context, id, email string) error {
	err := s.tx.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
		a, err := s.repo.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := a.ChangeEmail(email); err != nil {
			return err
		}

		exists, err := s.repo.ExistsByEmail(ctx, tx, a.Email)
		if err != nil {
			return fmt.Errorf("ошибка проверки email: %w", err)
		}
		if exists {
			return domain.ErrEmailExists
		}

		return s.repo.Save(ctx, tx, a)
	})
	if err != nil {
		return err
	}

	logger.Ctx(ctx).Info().
		Str("account_id", id).
		Msg("Email аккаунта изменён")
	return nil
}

// Deactivate деактивирует аккаунт.
func (s *AccountService) Deactivate(ctx context.Context, id, reason string) error {
	err := s.tx.Do(ctx, func(ctx context.Context, tx *gorm.DB) error {
		a, err := s.repo.GetByID(ctx, tx, id)
		if err != nil {
			return err
		}

		if err := a.Deactivate(reason); err != nil {
			return err
		}

		return s.repo.Save(ctx, tx, a)
	})
	if err != nil {
		return err
	}

	logger.Ctx(ctx).Info().
		Str("account_id", id).
		Msg("Аккаунт деактивирован")
	return nil
}
