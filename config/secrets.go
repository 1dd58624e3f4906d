package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/RemisonBarawa/Freelance-App/pkg/security"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Secret names as managed through the admin configuration surface.
const (
	SecretConsumerKey        = "MPESA_CONSUMER_KEY"
	SecretConsumerSecret     = "MPESA_CONSUMER_SECRET"
	SecretPasskey            = "MPESA_PASSKEY"
	SecretShortcode          = "MPESA_SHORTCODE"
	SecretCallbackURL        = "MPESA_CALLBACK_URL"
	SecretInitiatorName      = "MPESA_INITIATOR_NAME"
	SecretSecurityCredential = "MPESA_SECURITY_CREDENTIAL"
	SecretQueueTimeoutURL    = "MPESA_QUEUE_TIMEOUT_URL"
	SecretResultURL          = "MPESA_RESULT_URL"
)

// SecretNames is the ordered list of every managed secret.
var SecretNames = []string{
	SecretConsumerKey,
	SecretConsumerSecret,
	SecretPasskey,
	SecretShortcode,
	SecretCallbackURL,
	SecretInitiatorName,
	SecretSecurityCredential,
	SecretQueueTimeoutURL,
	SecretResultURL,
}

// RequiredSecrets must be non-blank in every update.
var RequiredSecrets = []string{
	SecretConsumerKey,
	SecretConsumerSecret,
	SecretPasskey,
	SecretShortcode,
}

// IsSecretName reports whether name is a managed secret.
func IsSecretName(name string) bool {
	for _, n := range SecretNames {
		if n == name {
			return true
		}
	}
	return false
}

// MpesaCredentials is the gateway credential set handed to the provider.
type MpesaCredentials struct {
	ConsumerKey        string
	ConsumerSecret     string
	Passkey            string
	Shortcode          string
	CallbackURL        string
	InitiatorName      string
	SecurityCredential string
	QueueTimeoutURL    string
	ResultURL          string
}

func (c MpesaCredentials) ToMap() map[string]string {
	return map[string]string{
		SecretConsumerKey:        c.ConsumerKey,
		SecretConsumerSecret:     c.ConsumerSecret,
		SecretPasskey:            c.Passkey,
		SecretShortcode:          c.Shortcode,
		SecretCallbackURL:        c.CallbackURL,
		SecretInitiatorName:      c.InitiatorName,
		SecretSecurityCredential: c.SecurityCredential,
		SecretQueueTimeoutURL:    c.QueueTimeoutURL,
		SecretResultURL:          c.ResultURL,
	}
}

func CredentialsFromMap(m map[string]string) MpesaCredentials {
	return MpesaCredentials{
		ConsumerKey:        m[SecretConsumerKey],
		ConsumerSecret:     m[SecretConsumerSecret],
		Passkey:            m[SecretPasskey],
		Shortcode:          m[SecretShortcode],
		CallbackURL:        m[SecretCallbackURL],
		InitiatorName:      m[SecretInitiatorName],
		SecurityCredential: m[SecretSecurityCredential],
		QueueTimeoutURL:    m[SecretQueueTimeoutURL],
		ResultURL:          m[SecretResultURL],
	}
}

// MissingForPush lists the secrets a push payment or status query needs but
// does not have.
func (c MpesaCredentials) MissingForPush() []string {
	return missing(c.ToMap(), SecretConsumerKey, SecretConsumerSecret, SecretPasskey, SecretShortcode, SecretCallbackURL)
}

// MissingForPayout lists the secrets a B2C payout needs but does not have.
func (c MpesaCredentials) MissingForPayout() []string {
	return missing(c.ToMap(), SecretConsumerKey, SecretConsumerSecret, SecretShortcode, SecretInitiatorName, SecretSecurityCredential)
}

func missing(values map[string]string, names ...string) []string {
	var out []string
	for _, n := range names {
		if strings.TrimSpace(values[n]) == "" {
			out = append(out, n)
		}
	}
	return out
}

// SecretStore is where gateway credentials are read from and rotated into.
// Business logic only ever sees MpesaCredentials returned by Load.
type SecretStore interface {
	Load(ctx context.Context) (MpesaCredentials, error)
	Update(ctx context.Context, values map[string]string) error
}

// MemorySecretStore keeps credentials in process. NewEnvSecretStore seeds one
// from the environment.
type MemorySecretStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemorySecretStore(values map[string]string) *MemorySecretStore {
	s := &MemorySecretStore{values: make(map[string]string, len(SecretNames))}
	for k, v := range values {
		if IsSecretName(k) {
			s.values[k] = v
		}
	}
	return s
}

// NewEnvSecretStore reads every managed secret from the environment. When no
// security credential is set but a certificate and initiator password are,
// the credential is derived from them.
func NewEnvSecretStore(cfg MpesaConfig, logger *zap.Logger) (*MemorySecretStore, error) {
	values := make(map[string]string, len(SecretNames))
	for _, name := range SecretNames {
		values[name] = os.Getenv(name)
	}

	if values[SecretSecurityCredential] == "" && cfg.CertPath != "" && cfg.InitiatorPassword != "" {
		credential, err := security.GenerateSecurityCredential(cfg.CertPath, cfg.InitiatorPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to generate security credential: %w", err)
		}
		values[SecretSecurityCredential] = credential
		logger.Info("M-Pesa security credential generated from certificate",
			zap.String("cert_path", cfg.CertPath))
	}

	return NewMemorySecretStore(values), nil
}

func (s *MemorySecretStore) Load(context.Context) (MpesaCredentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CredentialsFromMap(s.values), nil
}

func (s *MemorySecretStore) Update(_ context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		if IsSecretName(k) {
			s.values[k] = v
		}
	}
	return nil
}

const DefaultSecretsKey = "mpesa:secrets"

// RedisSecretStore keeps rotated credentials in a redis hash shared by every
// replica. Fields missing from the hash fall back to the seed store.
type RedisSecretStore struct {
	client redis.UniversalClient
	key    string
	seed   SecretStore
}

func NewRedisSecretStore(client redis.UniversalClient, seed SecretStore) *RedisSecretStore {
	return &RedisSecretStore{
		client: client,
		key:    DefaultSecretsKey,
		seed:   seed,
	}
}

func (s *RedisSecretStore) Load(ctx context.Context) (MpesaCredentials, error) {
	values := map[string]string{}
	if s.seed != nil {
		base, err := s.seed.Load(ctx)
		if err != nil {
			return MpesaCredentials{}, err
		}
		values = base.ToMap()
	}

	stored, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return MpesaCredentials{}, fmt.Errorf("failed to read secrets: %w", err)
	}
	for k, v := range stored {
		if IsSecretName(k) && v != "" {
			values[k] = v
		}
	}

	return CredentialsFromMap(values), nil
}

func (s *RedisSecretStore) Update(ctx context.Context, values map[string]string) error {
	fields := make(map[string]interface{}, len(values))
	for k, v := range values {
		if IsSecretName(k) {
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, s.key, fields).Err(); err != nil {
		return fmt.Errorf("failed to write secrets: %w", err)
	}
	return nil
}
