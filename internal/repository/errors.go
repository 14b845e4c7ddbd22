package repository

import "errors"

var (
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrDealNotFound возвращается, если сделка не найдена.
	ErrDealNotFound = errors.New("deal not found")
	// ErrActiveDealExists возвращается при попытке создать вторую активную сделку пользователя.
	ErrActiveDealExists = errors.New("user already has an active deal")
	// ErrStatusMismatch возвращается, если статус сделки изменился до условной записи.
	ErrStatusMismatch = errors.New("deal status does not match expected")
	// ErrOwnerExists возвращается, если на платформе уже есть владелец.
	ErrOwnerExists = errors.New("platform already has an owner")
)
