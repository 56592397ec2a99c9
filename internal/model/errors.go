package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrInsufficientCapacity is returned when the machine cannot grant an
	// admission slot for a task's capability requirement.
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	// ErrImageBuild is returned when a sandbox image could not be built.
	ErrImageBuild = errors.New("image build failed")
	// ErrUnavailable is returned on transient failures (unreachable registry,
	// network timeouts) that are safe to retry.
	ErrUnavailable = errors.New("temporarily unavailable")
)
