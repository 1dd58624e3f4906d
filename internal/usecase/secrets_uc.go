package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/RemisonBarawa/Freelance-App/config"
	"github.com/RemisonBarawa/Freelance-App/internal/domain"

	"go.uber.org/zap"
)

// shown unmasked in admin views
var plainSecrets = map[string]bool{
	config.SecretShortcode:       true,
	config.SecretCallbackURL:     true,
	config.SecretInitiatorName:   true,
	config.SecretQueueTimeoutURL: true,
	config.SecretResultURL:       true,
}

type SecretsUsecase struct {
	store    config.SecretStore
	notifier *Notifier
	logger   *zap.Logger
}

func NewSecretsUsecase(store config.SecretStore, notifier *Notifier, logger *zap.Logger) *SecretsUsecase {
	return &SecretsUsecase{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// GetMasked returns every managed secret with credential values masked.
// Unset secrets map to an empty string.
func (uc *SecretsUsecase) GetMasked(ctx context.Context) (map[string]string, error) {
	creds, err := uc.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	values := creds.ToMap()
	out := make(map[string]string, len(config.SecretNames))
	for _, name := range config.SecretNames {
		out[name] = maskSecret(name, values[name])
	}
	return out, nil
}

func maskSecret(name, value string) string {
	switch {
	case value == "":
		return ""
	case plainSecrets[name]:
		return value
	case len(value) > 8:
		return value[:4] + "****" + value[len(value)-4:]
	default:
		return "****"
	}
}

// Update rotates the given secrets. The four core credentials must be present
// and non-blank; blank or unknown keys are ignored. It returns the names that
// were written.
func (uc *SecretsUsecase) Update(ctx context.Context, values map[string]string) ([]string, error) {
	var missing []string
	for _, name := range config.RequiredSecrets {
		if strings.TrimSpace(values[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissingSecrets, strings.Join(missing, ", "))
	}

	updates := make(map[string]string, len(values))
	for k, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || !config.IsSecretName(k) {
			continue
		}
		updates[k] = v
	}

	if err := uc.store.Update(ctx, updates); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(updates))
	for k := range updates {
		names = append(names, k)
	}
	sort.Strings(names)

	uc.logger.Info("M-Pesa secrets updated", zap.Strings("secrets", names))

	uc.notifier.send(ctx, adminNotice(domain.NotifySystemUpdate,
		fmt.Sprintf("M-Pesa configuration updated by admin. %d secrets modified.", len(names)),
		"", domain.PriorityMedium).withIcon("settings"))

	return names, nil
}
