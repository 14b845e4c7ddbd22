package model

import "time"

// StepState — состояние шага на шкале прогресса сделки.
type StepState string

const (
	StepCompleted StepState = "completed"
	StepCurrent   StepState = "current"
	StepPending   StepState = "pending"
	StepCancelled StepState = "cancelled"
)

// TimelineStep описывает шаг шкалы прогресса сделки.
type TimelineStep struct {
	Title       string
	Description string
	State       StepState
	Timestamp   *time.Time
}

// Timeline строит шкалу прогресса сделки для отображения.
// Статус escrow_pending здесь только подпись шага "Escrow Setup":
// подтверждение эскроу сразу переводит сделку в payment_pending.
func Timeline(d *Deal) []TimelineStep {
	s := d.Status
	cancelled := s == DealStatusCancelled
	created := d.CreatedAt

	stage := func(current DealStatus, before ...DealStatus) StepState {
		switch {
		case cancelled:
			return StepCancelled
		case s == current:
			return StepCurrent
		}
		for _, b := range before {
			if s == b {
				return StepPending
			}
		}
		return StepCompleted
	}

	completion := StepPending
	switch s {
	case DealStatusCompleted:
		completion = StepCompleted
	case DealStatusCancelled:
		completion = StepCancelled
	}

	return []TimelineStep{
		{Title: "Deal Created", Description: "Deal submitted for review", State: StepCompleted, Timestamp: &created},
		{Title: "Admin Review", Description: "Waiting for admin approval", State: stage(DealStatusPending)},
		{Title: "Deal Approved", Description: "Deal approved by admin", State: stage(DealStatusApproved, DealStatusPending)},
		{Title: "Escrow Setup", Description: "Seller transfers crypto to escrow",
			State: stage(DealStatusEscrowPending, DealStatusPending, DealStatusApproved)},
		{Title: "Payment", Description: "Buyer makes payment to seller",
			State: stage(DealStatusPaymentPending, DealStatusPending, DealStatusApproved, DealStatusEscrowPending)},
		{Title: "Completion", Description: "Crypto released to buyer", State: completion},
	}
}
