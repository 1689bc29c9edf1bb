package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/bcrypt"

	"github.com/aelexs/nextchapter/internal/auth"
	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/internal/observability"
	"github.com/aelexs/nextchapter/internal/realtime"
)

var settingsRef = realtime.Doc(domain.CollectionSecurity, domain.SecuritySettingsDoc)

// SecurityServiceConfig holds the dependencies for SecurityService.
type SecurityServiceConfig struct {
	DB         DocumentDB
	Limiter    AttemptLimiter
	Minter     *auth.Minter
	Validator  *auth.Validator
	Clock      domain.Clock
	Logger     *slog.Logger
	BcryptCost int // Zero means bcrypt.DefaultCost

	// GlobalLimiter, when set, caps attempts across all clients, so
	// rotating client identities cannot multiply the per-client budget.
	GlobalLimiter AttemptLimiter
}

// SecurityService is the PIN gate in front of the notes board and the
// bucket list.
type SecurityService struct {
	db        DocumentDB
	limiter   AttemptLimiter
	global    AttemptLimiter
	minter    *auth.Minter
	validator *auth.Validator
	clock     domain.Clock
	logger    *slog.Logger
	cost      int
}

// NewSecurityService creates a SecurityService.
func NewSecurityService(cfg SecurityServiceConfig) *SecurityService {
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &SecurityService{
		db:        cfg.DB,
		limiter:   cfg.Limiter,
		global:    cfg.GlobalLimiter,
		minter:    cfg.Minter,
		validator: cfg.Validator,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		cost:      cost,
	}
}

// Initialize stores the default PIN when no settings document exists yet.
// Existing settings are left alone.
func (s *SecurityService) Initialize(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "security.initialize")
	defer span.End()

	_, err := s.db.Get(ctx, settingsRef)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		spanError(span, err)
		return fmt.Errorf("read security settings: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(domain.DefaultPIN), s.cost)
	if err != nil {
		spanError(span, err)
		return fmt.Errorf("hash default PIN: %w", err)
	}
	if err := s.db.Set(ctx, settingsRef, realtime.Fields{
		"pinHash":     string(hash),
		"lastUpdated": domain.NowTimestamp(s.clock),
	}, false); err != nil {
		spanError(span, err)
		return fmt.Errorf("store default security settings: %w", err)
	}

	s.log(ctx).InfoContext(ctx, "security.initialized")
	return nil
}

// VerifyPIN checks pin for client and mints a session token on success.
func (s *SecurityService) VerifyPIN(ctx context.Context, pin, client string) (auth.Session, error) {
	ctx, span := tracer.Start(ctx, "security.verify_pin")
	defer span.End()

	if err := s.checkPIN(ctx, pin, client); err != nil {
		spanError(span, err)
		pinVerificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultOf(err))))
		return auth.Session{}, err
	}

	session, err := s.minter.MintSession()
	if err != nil {
		spanError(span, err)
		return auth.Session{}, fmt.Errorf("mint session: %w", err)
	}

	pinVerificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
	s.log(ctx).InfoContext(ctx, "security.pin_verified", "session_id", session.ID)
	return session, nil
}

// ChangePIN replaces the PIN. current must verify, next must be a valid PIN
// and confirm must repeat it.
func (s *SecurityService) ChangePIN(ctx context.Context, current, next, confirm, client string) error {
	ctx, span := tracer.Start(ctx, "security.change_pin")
	defer span.End()

	if err := s.checkPIN(ctx, current, client); err != nil {
		spanError(span, err)
		pinChangesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultOf(err))))
		return err
	}

	newPIN, err := domain.NewPIN(next)
	if err != nil {
		spanError(span, err)
		pinChangesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "invalid")))
		return fmt.Errorf("new PIN: %w", err)
	}
	if confirm != next {
		err := domain.ErrPINMismatch
		spanError(span, err)
		pinChangesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "mismatch")))
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPIN.Expose()), s.cost)
	if err != nil {
		spanError(span, err)
		return fmt.Errorf("hash PIN: %w", err)
	}
	if err := s.db.Set(ctx, settingsRef, realtime.Fields{
		"pinHash":     string(hash),
		"lastUpdated": domain.NowTimestamp(s.clock),
	}, true); err != nil {
		spanError(span, err)
		s.log(ctx).ErrorContext(ctx, "security.change_pin_failed", "error", err)
		return fmt.Errorf("store PIN: %w", err)
	}

	pinChangesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
	s.log(ctx).InfoContext(ctx, "security.pin_changed")
	return nil
}

// Authorize validates a session token minted by VerifyPIN.
func (s *SecurityService) Authorize(token string) (*auth.Claims, error) {
	return s.validator.Validate(token)
}

// checkPIN validates the format, charges an attempt to client and compares
// against the stored hash. A successful check clears the client's attempts.
func (s *SecurityService) checkPIN(ctx context.Context, raw, client string) error {
	pin, err := domain.NewPIN(raw)
	if err != nil {
		return err
	}

	if err := s.charge(ctx, s.limiter, client); err != nil {
		return err
	}
	if s.global != nil {
		if err := s.charge(ctx, s.global, globalAttemptKey); err != nil {
			return err
		}
	}

	doc, err := s.db.Get(ctx, settingsRef)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrIncorrectPIN
	}
	if err != nil {
		return fmt.Errorf("read security settings: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(doc.String("pinHash")), []byte(pin.Expose())); err != nil {
		s.log(ctx).InfoContext(ctx, "security.pin_rejected", "client", client)
		return domain.ErrIncorrectPIN
	}

	if err := s.limiter.Reset(ctx, client); err != nil {
		s.log(ctx).WarnContext(ctx, "security.attempt_reset_failed", "error", err)
	}
	return nil
}

// globalAttemptKey is the single key the global limiter counts under.
// It is never reset: only the window expiring clears it.
const globalAttemptKey = "all"

// charge records one attempt for key against l.
func (s *SecurityService) charge(ctx context.Context, l AttemptLimiter, key string) error {
	allowed, err := l.Allow(ctx, key)
	if err != nil {
		s.log(ctx).WarnContext(ctx, "security.attempt_check_failed", "error", err)
		return fmt.Errorf("attempt check: %w: %w", domain.ErrUnavailable, err)
	}
	if !allowed {
		s.log(ctx).WarnContext(ctx, "security.too_many_attempts", "client", key)
		return domain.ErrTooManyAttempts
	}
	return nil
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrIncorrectPIN):
		return "incorrect"
	case errors.Is(err, domain.ErrTooManyAttempts):
		return "throttled"
	case errors.Is(err, domain.ErrInvalidPIN):
		return "invalid"
	}
	return "error"
}

func (s *SecurityService) log(ctx context.Context) *slog.Logger {
	return observability.WithTraceID(ctx, loggerOrDefault(s.logger))
}
