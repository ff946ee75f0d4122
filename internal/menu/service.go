package menu

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aqarfund/aqar/internal/rbac"
	"github.com/aqarfund/aqar/internal/shared"
)

// Service is the menu registry.
type Service struct {
	repo        Repository
	invalidator rbac.Invalidator
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewService constructs a Service. invalidator may be nil.
func NewService(repo Repository, invalidator rbac.Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invalidator: invalidator, validator: shared.NewValidator(), logger: logger}
}

// List returns all items in hierarchy order; parents always precede children.
func (s *Service) List(ctx context.Context) ([]Item, error) {
	items, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return Order(items), nil
}

// Get returns one item or ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (Item, error) {
	return s.repo.Get(ctx, id)
}

// Create validates and inserts a new item.
func (s *Service) Create(ctx context.Context, input Input) (Item, error) {
	input = normalizeInput(input)
	if err := shared.ValidateStruct(s.validator, input); err != nil {
		return Item{}, err
	}
	var item Item
	err := s.repo.Locked(ctx, func(repo Repository) error {
		if err := checkRefs(ctx, repo, 0, input); err != nil {
			return err
		}
		var err error
		item, err = repo.Insert(ctx, input)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.invalidate(ctx)
	return item, nil
}

// Update validates and rewrites an existing item. The parent check and the
// write share one lock so concurrent reparents cannot close a cycle.
func (s *Service) Update(ctx context.Context, id int64, input Input) (Item, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return Item{}, err
	}
	input = normalizeInput(input)
	if err := shared.ValidateStruct(s.validator, input); err != nil {
		return Item{}, err
	}
	var item Item
	err := s.repo.Locked(ctx, func(repo Repository) error {
		if err := checkRefs(ctx, repo, id, input); err != nil {
			return err
		}
		var err error
		item, err = repo.Update(ctx, id, input)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.invalidate(ctx)
	return item, nil
}

// SetActive soft-disables or re-enables an item.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) (Item, error) {
	var item Item
	err := s.repo.Locked(ctx, func(repo Repository) error {
		current, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if active && !current.IsActive {
			if err := checkKey(ctx, repo, id, current.Key); err != nil {
				return err
			}
		}
		item, err = repo.SetActive(ctx, id, active)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.invalidate(ctx)
	return item, nil
}

func checkRefs(ctx context.Context, repo Repository, id int64, input Input) error {
	if err := checkKey(ctx, repo, id, input.Key); err != nil {
		return err
	}
	if input.ParentID != nil {
		if err := checkParent(ctx, repo, id, *input.ParentID); err != nil {
			return err
		}
	}
	if input.RequiredPermission != "" {
		exists, err := repo.PermissionExists(ctx, input.RequiredPermission)
		if err != nil {
			return err
		}
		if !exists {
			return shared.NotFoundField("required_permission", "unknown permission")
		}
	}
	return nil
}

func checkKey(ctx context.Context, repo Repository, id int64, key string) error {
	owner, taken, err := repo.ActiveKeyOwner(ctx, key)
	if err != nil {
		return err
	}
	if taken && owner != id {
		return shared.NewValidationError("key", "key already used by an active item")
	}
	return nil
}

// checkParent rejects unknown parents and any parent whose ancestor chain
// contains id.
func checkParent(ctx context.Context, repo Repository, id, parentID int64) error {
	if id != 0 && parentID == id {
		return shared.NewValidationError("parent_id", "item cannot be its own parent")
	}
	items, err := repo.ListAll(ctx)
	if err != nil {
		return err
	}
	byID := make(map[int64]Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	if _, ok := byID[parentID]; !ok {
		return shared.NotFoundField("parent_id", "parent item does not exist")
	}
	if id == 0 {
		return nil
	}
	seen := map[int64]struct{}{}
	for cursor := parentID; ; {
		if cursor == id {
			return shared.NewValidationError("parent_id", "parent would create a cycle")
		}
		if _, loop := seen[cursor]; loop {
			return nil
		}
		seen[cursor] = struct{}{}
		parent := byID[cursor].ParentID
		if parent == nil {
			return nil
		}
		cursor = *parent
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx); err != nil {
		s.logger.Warn("menu cache invalidate", slog.Any("error", err))
	}
}

func normalizeInput(input Input) Input {
	input.Key = strings.TrimSpace(input.Key)
	input.LabelEn = strings.TrimSpace(input.LabelEn)
	input.LabelAr = strings.TrimSpace(input.LabelAr)
	input.Path = strings.TrimSpace(input.Path)
	input.RequiredPermission = rbac.NormalizePermission(input.RequiredPermission)
	return input
}
