package translation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	pkglog "github.com/edunderwood/transcript-translate-server/pkg/log"
)

// Service is the translation collaborator: it registers services with their
// organization and translates transcripts on their behalf.
type Service struct {
	translator Translator
	source     string
	orgKeys    map[string]string

	mu       sync.RWMutex
	services map[string]string // serviceID -> organization
}

// NewService wraps a translator. An empty orgKeys map accepts any key.
func NewService(t Translator, source string, orgKeys map[string]string) *Service {
	keys := make(map[string]string, len(orgKeys))
	for k, v := range orgKeys {
		keys[k] = v
	}
	return &Service{
		translator: t,
		source:     source,
		orgKeys:    keys,
		services:   make(map[string]string),
	}
}

// EnsureWired registers serviceID. A non-empty orgKey must be known when
// keys are configured.
func (s *Service) EnsureWired(ctx context.Context, serviceID, orgKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	org := ""
	if orgKey != "" && len(s.orgKeys) > 0 {
		name, ok := s.orgKeys[orgKey]
		if !ok {
			return ErrInvalidOrgKey
		}
		org = name
	}

	s.mu.Lock()
	s.services[serviceID] = org
	s.mu.Unlock()

	l := pkglog.Ctx(ctx)
	l.Info().Str(pkglog.FieldServiceID, serviceID).Str("organization", org).Msg("service registered for translation")
	return nil
}

// Organization returns the organization a service registered with.
func (s *Service) Organization(serviceID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.services[serviceID]
	return org, ok
}

// Translate translates text for serviceID into lang.
func (s *Service) Translate(ctx context.Context, serviceID, text, lang string) (string, error) {
	if strings.EqualFold(lang, s.source) {
		return text, nil
	}
	out, err := s.translator.Translate(ctx, text, s.source, lang)
	if err != nil {
		return "", fmt.Errorf("service %s: %w", serviceID, err)
	}
	return out, nil
}
