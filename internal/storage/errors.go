package storage

import "errors"

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationExists   = errors.New("conversation already exists")
	ErrInvalidData          = errors.New("invalid data")
	ErrStorageClosed        = errors.New("storage closed")
)
