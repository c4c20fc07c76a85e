package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
)

const tokenIssuer = "storefront"

var errInvalidCredentials = store.Errorf(store.ErrUnauthorized, "invalid credentials")

// AuthManager issues and verifies access tokens for accounts held in UserStore.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	users    UserStore
	now      func() time.Time
}

type UserStore interface {
	ValidateRegistration(req domain.RegisterRequest) error
	CreateUser(ctx context.Context, req domain.RegisterRequest, passwordHash string) (domain.User, error)
	UserByEmail(ctx context.Context, email string) (domain.User, error)
	GetUser(ctx context.Context, userID string) (domain.User, error)
}

func NewAuthManager(secret string, tokenTTL time.Duration, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.User, error) {
	if err := a.users.ValidateRegistration(req); err != nil {
		return domain.User{}, err
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, err
	}
	return a.users.CreateUser(ctx, req, hash)
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	user, err := a.users.UserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, errInvalidCredentials
		}
		return domain.LoginResponse{}, err
	}
	if user.Anonymized || !verifyPassword(user.PasswordHash, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.sign(user.ID, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		User:        user,
	}, nil
}

// ParseToken verifies tokenStr and reloads the user so role changes apply
// without reissuing tokens.
func (a *AuthManager) ParseToken(ctx context.Context, tokenStr string) (domain.Actor, error) {
	claims := &jwtlib.RegisteredClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwtlib.WithValidMethods([]string{"HS256"}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithTimeFunc(a.now),
	)
	if err != nil || !token.Valid {
		return domain.Actor{}, store.Errorf(store.ErrUnauthorized, "invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, store.Errorf(store.ErrUnauthorized, "invalid token subject")
	}

	user, err := a.users.GetUser(ctx, sub)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Actor{}, store.Errorf(store.ErrUnauthorized, "invalid token subject")
		}
		return domain.Actor{}, err
	}
	if user.Anonymized {
		return domain.Actor{}, store.Errorf(store.ErrUnauthorized, "account is disabled")
	}
	return domain.Actor{
		ID:            user.ID,
		StoreID:       user.StoreID,
		StoreRole:     user.StoreRole,
		EmailVerified: user.EmailVerified,
		IsAdmin:       user.IsAdmin,
	}, nil
}

func (a *AuthManager) sign(userID string, expiresAt time.Time) (string, error) {
	claims := jwtlib.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwtlib.NewNumericDate(a.now()),
		ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		Issuer:    tokenIssuer,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
