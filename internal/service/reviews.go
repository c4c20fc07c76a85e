package service

import (
	"context"
	"strings"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

func (s *Service) CreateReview(ctx context.Context, req domain.ReviewCreateRequest) (domain.Review, error) {
	req.Description = strings.TrimSpace(req.Description)
	if err := s.checkRequest(req); err != nil {
		return domain.Review{}, err
	}

	review := domain.Review{
		ID:          xid.New("rev"),
		StoreID:     req.StoreID,
		UserID:      req.UserID,
		Stars:       req.Stars,
		Description: req.Description,
		CreatedAt:   s.now(),
	}
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetStore(ctx, req.StoreID); err != nil {
			return lookup(err, "store")
		}
		if _, err := activeUser(ctx, tx, req.UserID); err != nil {
			return err
		}
		return tx.CreateReview(ctx, review)
	})
	if err != nil {
		return domain.Review{}, err
	}
	s.log.Info().Str("review_id", review.ID).Str("store_id", review.StoreID).Int("stars", review.Stars).Msg("review created")
	return review, nil
}

func (s *Service) GetReview(ctx context.Context, id string) (domain.Review, error) {
	var review domain.Review
	err := s.repo.View(ctx, func(r store.Reader) error {
		found, err := r.GetReview(ctx, id)
		if err != nil {
			return lookup(err, "review")
		}
		review = *found
		return nil
	})
	return review, err
}

// ListReviews returns reviews newest first. A store or user named by the
// filter must exist.
func (s *Service) ListReviews(ctx context.Context, filter domain.ReviewFilter) ([]domain.Review, error) {
	var reviews []domain.Review
	err := s.repo.View(ctx, func(r store.Reader) error {
		if filter.StoreID != "" {
			if _, err := r.GetStore(ctx, filter.StoreID); err != nil {
				return lookup(err, "store")
			}
		}
		if filter.UserID != "" {
			if _, err := r.GetUser(ctx, filter.UserID); err != nil {
				return lookup(err, "user")
			}
		}
		var err error
		reviews, err = r.ListReviews(ctx, filter)
		return err
	})
	return reviews, err
}

// DeleteReview lets the author or an admin remove a review.
func (s *Service) DeleteReview(ctx context.Context, actor domain.Actor, id string) error {
	err := s.repo.InTx(ctx, func(tx store.Tx) error {
		review, err := tx.GetReview(ctx, id)
		if err != nil {
			return lookup(err, "review")
		}
		if !actor.IsAdmin && actor.ID != review.UserID {
			return store.Errorf(store.ErrForbidden, "only the author or an admin can delete this review")
		}
		return tx.DeleteReview(ctx, id)
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("review_id", id).Str("actor", actor.ID).Msg("review deleted")
	return nil
}
