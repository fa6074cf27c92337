package service

import "errors"

var (
	ErrQuantityOutOfRange = errors.New("quantity out of range")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrInvalidPrice       = errors.New("price must not be negative")
)
