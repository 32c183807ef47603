package vault

import "errors"

var (
	ErrNotUnlocked        = errors.New("vault: not unlocked")
	ErrNotInitialized     = errors.New("vault: master password not initialized")
	ErrAlreadyInitialized = errors.New("vault: master password already initialized")
	ErrWrongPassword      = errors.New("vault: wrong master password")
	ErrEntryNotFound      = errors.New("vault: entry not found")
	ErrInvalidEntry       = errors.New("vault: invalid entry")
	ErrNoTOTP             = errors.New("vault: entry has no totp secret")
)
