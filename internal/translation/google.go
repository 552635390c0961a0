package translation

import (
	"context"
	"fmt"
	"html"

	"google.golang.org/api/option"
	translate "google.golang.org/api/translate/v2"
)

// GoogleTranslator calls the Cloud Translation v2 REST API.
type GoogleTranslator struct {
	svc *translate.Service
}

// NewGoogleTranslator creates a client authenticated with an API key. An
// empty key falls back to application default credentials.
func NewGoogleTranslator(ctx context.Context, apiKey string, opts ...option.ClientOption) (*GoogleTranslator, error) {
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	svc, err := translate.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create translate service: %w", err)
	}
	return &GoogleTranslator{svc: svc}, nil
}

// Translate implements Translator.
func (g *GoogleTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	call := g.svc.Translations.List([]string{text}, target).Format("text").Context(ctx)
	if source != "" {
		call = call.Source(source)
	}
	resp, err := call.Do()
	if err != nil {
		return "", fmt.Errorf("translate to %s: %w", target, err)
	}
	if len(resp.Translations) == 0 {
		return "", fmt.Errorf("%w: target %s", ErrEmptyResult, target)
	}
	return html.UnescapeString(resp.Translations[0].TranslatedText), nil
}
