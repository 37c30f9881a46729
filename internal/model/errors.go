package model

import (
	"errors"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobExists      = errors.New("job directory already exists")
	ErrJobIDExhausted = errors.New("could not generate unique job id")
	ErrNoSuchSpec     = errors.New("job spec not found")
)
