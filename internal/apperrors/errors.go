package apperrors

import (
	"errors"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountAlreadyExists = errors.New("account already exists for owner")
	ErrInsufficientFunds    = errors.New("insufficient funds")

	ErrTransactionNotFound = errors.New("transaction not found")
	ErrValidation          = errors.New("validation failed")

	ErrInvalidRecipient = errors.New("recipient is invalid")
	ErrInvalidMerchant  = errors.New("merchant is invalid")

	ErrPaymentNotFound     = errors.New("payment not found")
	ErrTransferNotFound    = errors.New("transfer not found")
	ErrInvalidRefundAmount = errors.New("refund amount exceeds refundable remainder")

	ErrInsufficientPoints = errors.New("insufficient points")

	ErrDuplicateNonce    = errors.New("nonce already used")
	ErrRequestInProgress = errors.New("request with same idempotency key is in progress")

	ErrQRPayloadInvalid = errors.New("qr payload is invalid or expired")
)
