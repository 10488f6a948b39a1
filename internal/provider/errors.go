package provider

import "errors"

var (
	// ErrMissingCredentials means the provider was selected but has no
	// API key configured.
	ErrMissingCredentials = errors.New("missing API credentials")

	// ErrEmptyResponse means the provider call succeeded but produced no
	// usable text.
	ErrEmptyResponse = errors.New("empty response from provider")
)
