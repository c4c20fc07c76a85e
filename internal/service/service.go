package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"storefront/backend/internal/cache"
	"storefront/backend/internal/clock"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/events"
	"storefront/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	stores    cache.StoreCache
	storeTTL  time.Duration
	publisher events.Publisher
	pubWait   time.Duration
	log       zerolog.Logger
	clock     clock.Clock
	validate  *validator.Validate
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithStoreCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.storeTTL = ttl
		}
	}
}

// WithPublishTimeout bounds how long a committed operation waits on the publisher.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pubWait = d
		}
	}
}

func New(repo store.Repository, storeCache cache.StoreCache, publisher events.Publisher, logger zerolog.Logger, opts ...Option) *Service {
	if storeCache == nil {
		storeCache = cache.NoopStoreCache{}
	}
	if publisher == nil {
		publisher = events.Noop{}
	}

	svc := &Service{
		repo:      repo,
		stores:    storeCache,
		storeTTL:  time.Minute,
		publisher: publisher,
		pubWait:   2 * time.Second,
		log:       logger,
		clock:     clock.Real{},
		validate:  newValidator(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// checkRequest runs struct-tag validation and reports the first failure as a client error.
func (s *Service) checkRequest(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return store.Invalid("%s is required", fe.Field())
		case "email":
			return store.Invalid("%s must be a valid email address", fe.Field())
		case "datetime":
			return store.Invalid("%s must be a date formatted as %s", fe.Field(), fe.Param())
		case "min", "gte", "gt":
			return store.Invalid("%s must be at least %s", fe.Field(), minParam(fe))
		case "max", "lte":
			return store.Invalid("%s must be at most %s", fe.Field(), fe.Param())
		default:
			return store.Invalid("%s is invalid", fe.Field())
		}
	}
	return fmt.Errorf("validate request: %w", err)
}

func minParam(fe validator.FieldError) string {
	if fe.Tag() == "gt" {
		return "more than " + fe.Param()
	}
	return fe.Param()
}

// publish is best-effort: the transaction has already committed, so a
// cancelled request still publishes, but never for longer than pubWait.
func (s *Service) publish(ctx context.Context, evts ...events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pubWait)
	defer cancel()
	if err := s.publisher.Publish(ctx, evts...); err != nil {
		s.log.Warn().Err(err).Int("events", len(evts)).Msg("failed to publish events")
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// lookup maps a bare ErrNotFound from the store into a named client error.
func lookup(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		var typed *store.Error
		if errors.As(err, &typed) {
			return err
		}
		return store.NotFound(what)
	}
	return err
}

func validatePaymentMethod(method int) error {
	if method < 0 || method >= domain.PaymentMethodCount {
		return store.Invalid("payment method must be between 0 and %d", domain.PaymentMethodCount-1)
	}
	return nil
}

func validateLineItems(items []domain.LineItem, emptyMsg string) ([]domain.LineItem, error) {
	if len(items) == 0 {
		return nil, store.Invalid("%s", emptyMsg)
	}
	for _, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return nil, store.Invalid("product_id is required")
		}
		if err := domain.ValidateLineQuantity(item.Quantity); err != nil {
			return nil, store.Invalid("product %s: %s", item.ProductID, err.Error())
		}
	}
	merged := domain.MergeLineItems(items)
	for _, item := range merged {
		if err := domain.ValidateLineQuantity(item.Quantity); err != nil {
			return nil, store.Invalid("product %s: %s", item.ProductID, err.Error())
		}
	}
	return merged, nil
}
