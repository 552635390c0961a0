package translation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidOrgKey rejects a registration whose organization key is not
	// known.
	ErrInvalidOrgKey = errors.New("invalid organization key")
	// ErrUnsupportedDriver is returned by NewTranslator for an unknown driver.
	ErrUnsupportedDriver = errors.New("unsupported translation driver")
	// ErrEmptyResult is returned when the backend answers without text.
	ErrEmptyResult = errors.New("translation returned no text")
)

// Translator translates text between language codes.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Config selects and configures the translation backend.
type Config struct {
	Driver         string            `mapstructure:"driver"`
	GoogleAPIKey   string            `mapstructure:"google_api_key"`
	SourceLanguage string            `mapstructure:"source_language"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	OrgKeys        map[string]string `mapstructure:"org_keys"`
}

// NewTranslator builds the backend named by cfg.Driver.
func NewTranslator(ctx context.Context, cfg Config) (Translator, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "echo":
		return EchoTranslator{}, nil
	case "google":
		return NewGoogleTranslator(ctx, cfg.GoogleAPIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
}

// EchoTranslator tags text with the target language. It is used in
// development and tests.
type EchoTranslator struct{}

// Translate implements Translator.
func (EchoTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "[" + target + "] " + text, nil
}
