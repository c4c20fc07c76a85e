package service

import (
	"context"
	"strings"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

// ValidateRegistration checks a sign-up request before its password is hashed.
func (s *Service) ValidateRegistration(req domain.RegisterRequest) error {
	return s.checkRequest(req)
}

// CreateUser stores a new account. passwordHash must already be hashed.
func (s *Service) CreateUser(ctx context.Context, req domain.RegisterRequest, passwordHash string) (domain.User, error) {
	if err := s.checkRequest(req); err != nil {
		return domain.User{}, err
	}
	user := domain.User{
		ID:           xid.New("usr"),
		Email:        normalizeEmail(req.Email),
		PasswordHash: passwordHash,
		Name:         strings.TrimSpace(req.Name),
		CreatedAt:    s.now(),
	}
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateUser(ctx, user)
	})
	if err != nil {
		return domain.User{}, err
	}
	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return user, nil
}

// UserByEmail and GetUser treat anonymized accounts as missing.
func (s *Service) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	var user domain.User
	err := s.repo.View(ctx, func(r store.Reader) error {
		found, err := r.GetUserByEmail(ctx, normalizeEmail(email))
		if err != nil {
			return lookup(err, "user")
		}
		if found.Anonymized {
			return store.NotFound("user")
		}
		user = *found
		return nil
	})
	return user, err
}

func (s *Service) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var user domain.User
	err := s.repo.View(ctx, func(r store.Reader) error {
		found, err := activeUser(ctx, r, userID)
		if err != nil {
			return err
		}
		user = *found
		return nil
	})
	return user, err
}

// DeleteUser removes an account. Accounts that orders, sales, points or
// reviews refer to are anonymized instead; the result reports which.
func (s *Service) DeleteUser(ctx context.Context, userID string) (bool, error) {
	anonymized := false
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		u, err := activeUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if u.StoreID != "" {
			return store.Invalid("user must be disassociated from store %s before deleting them", u.StoreID)
		}
		referenced, err := tx.UserReferenced(ctx, u.ID)
		if err != nil {
			return err
		}
		if !referenced {
			return tx.DeleteUser(ctx, u.ID)
		}

		u.Name = domain.DeletedUserName
		u.Email = tombstoneEmail(u.ID)
		u.PasswordHash = ""
		u.IsAdmin = false
		u.EmailVerified = false
		u.StoreRole = domain.StoreRoleNone
		u.Anonymized = true
		anonymized = true
		return tx.UpdateUser(ctx, *u)
	})
	if err != nil {
		return false, err
	}
	s.log.Info().Str("user_id", userID).Bool("anonymized", anonymized).Msg("user deleted")
	return anonymized, nil
}

func activeUser(ctx context.Context, r store.Reader, userID string) (*domain.User, error) {
	u, err := r.GetUser(ctx, userID)
	if err != nil {
		return nil, lookup(err, "user")
	}
	if u.Anonymized {
		return nil, store.NotFound("user")
	}
	return u, nil
}

// tombstoneEmail keeps the unique email index satisfied for anonymized rows.
func tombstoneEmail(userID string) string {
	return "deleted+" + userID + "@storefront.invalid"
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
