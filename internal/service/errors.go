package service

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/escrowdesk/internal/repository"
)

var (
	// ErrForbidden возвращается, если роли не хватает прав на действие.
	ErrForbidden = errors.New("forbidden")
	// ErrBanned возвращается для заблокированных пользователей.
	ErrBanned = fmt.Errorf("%w: account banned", ErrForbidden)
	// ErrConflict возвращается при нарушении инвариантов уникальности.
	ErrConflict = errors.New("conflict")
	// ErrActiveDeal возвращается, если у пользователя уже есть активная сделка.
	ErrActiveDeal = fmt.Errorf("%w: you already have an active deal, complete it before creating a new one", ErrConflict)
	// ErrOwnerExists возвращается, если владелец платформы уже назначен.
	ErrOwnerExists = fmt.Errorf("%w: platform already has an owner", ErrConflict)
	// ErrInvalidTransition возвращается, если действие недопустимо в текущем статусе сделки.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotFound возвращается, если сделка или пользователь не найдены.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput возвращается при некорректных входных данных.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidDeal возвращается при некорректных параметрах сделки.
	ErrInvalidDeal = fmt.Errorf("%w: deal", ErrInvalidInput)
	// ErrInvalidConfig возвращается при некорректных настройках комиссии.
	ErrInvalidConfig = fmt.Errorf("%w: fee config", ErrInvalidInput)
	// ErrStorage возвращается при любой другой ошибке хранилища.
	ErrStorage = errors.New("storage failure")
)

// mapRepoErr переводит ошибки хранилища в ошибки сервиса.
func mapRepoErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrDealNotFound):
		return fmt.Errorf("%w: deal", ErrNotFound)
	case errors.Is(err, repository.ErrUserNotFound):
		return fmt.Errorf("%w: user", ErrNotFound)
	case errors.Is(err, repository.ErrActiveDealExists):
		return ErrActiveDeal
	case errors.Is(err, repository.ErrOwnerExists):
		return ErrOwnerExists
	case errors.Is(err, repository.ErrStatusMismatch):
		return fmt.Errorf("%w: deal was modified concurrently", ErrConflict)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
