package iam

import "errors"

var (
	ErrNotFound           = errors.New("iam: not found")
	ErrAlreadyExists      = errors.New("iam: already exists")
	ErrInvalidInput       = errors.New("iam: invalid input")
	ErrInvalidCredentials = errors.New("iam: invalid credentials")
	ErrInvalidToken       = errors.New("iam: invalid token")
	ErrTokenExpired       = errors.New("iam: token expired")
	ErrSessionInactive    = errors.New("iam: session inactive")
	ErrUnauthorized       = errors.New("iam: unauthorized")
	ErrSystemRole         = errors.New("iam: system role cannot be deleted")
)
