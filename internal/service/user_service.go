package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/user-directory/internal/auth"
	"github.com/spec-kit/user-directory/internal/cache"
	"github.com/spec-kit/user-directory/internal/config"
	"github.com/spec-kit/user-directory/internal/domain"
	"github.com/spec-kit/user-directory/internal/events"
	"github.com/spec-kit/user-directory/internal/repository"
	"github.com/spec-kit/user-directory/pkg/util"
)

// UserService coordinates directory record workflows: validation, uniqueness
// enforcement, partial updates and conflict-aware deletes.
type UserService struct {
	users      repository.UserRepository
	cache      *cache.UserCache
	dispatcher events.Dispatcher
	logger     *zap.Logger
	bcryptCost int
}

// UserDependencies bundles collaborators for the user service.
type UserDependencies struct {
	UserRepo   repository.UserRepository
	Cache      *cache.UserCache
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// UserCreateInput describes the create payload. Password carries the raw
// credential; it is hashed before it reaches the store.
type UserCreateInput struct {
	Name     string
	Email    string
	Password string
	Status   string
}

// UserUpdateInput describes a partial update. Nil fields retain the stored
// value; Password distinguishes omitted (nil) from explicitly empty.
type UserUpdateInput struct {
	Name     *string
	Email    *string
	Password *string
	Status   *string
}

// NewUserService builds the service.
func NewUserService(cfg config.Config, deps UserDependencies) *UserService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		users:      deps.UserRepo,
		cache:      deps.Cache,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		bcryptCost: cfg.Security.BcryptCost,
	}
}

// List returns users ordered by ascending id. A non-empty search term
// restricts the result to users whose name or email contains the term
// case-insensitively; searches bypass the cache.
func (s *UserService) List(ctx context.Context, search string) ([]domain.User, error) {
	if term := strings.TrimSpace(search); term != "" {
		return s.users.List(ctx, term)
	}
	return s.cache.ListUsers(ctx, func(ctx context.Context) ([]domain.User, error) {
		return s.users.List(ctx, "")
	})
}

// Get returns the user with the given id.
func (s *UserService) Get(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.cache.GetUser(ctx, id, func(ctx context.Context) (*domain.User, error) {
		return s.users.GetByID(ctx, id)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, util.NewNotFound("user", map[string]any{"id": id})
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create validates input, enforces email uniqueness and inserts a new user.
// The store assigns id and registration time. The uniqueness pre-check keeps
// error messages friendly; the unique index remains the guarantee when a
// concurrent insert races past it.
func (s *UserService) Create(ctx context.Context, input UserCreateInput) (*domain.User, error) {
	name := strings.TrimSpace(input.Name)
	email := strings.TrimSpace(input.Email)

	missing := map[string]any{}
	if name == "" {
		missing["name"] = "required"
	}
	if email == "" {
		missing["email"] = "required"
	}
	if input.Password == "" {
		missing["password_hash"] = "required"
	}
	if len(missing) > 0 {
		return nil, util.NewValidationError("name, email and password_hash are required", missing)
	}

	status, err := domain.ParseStatus(input.Status)
	if err != nil {
		return nil, util.NewValidationError("status must be active or blocked", map[string]any{"status": input.Status})
	}

	if err := s.ensureEmailFree(ctx, email, 0); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Status:       status,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, util.NewConflict("email already in use", map[string]any{"email": email})
		}
		return nil, err
	}

	s.publish(ctx, events.EventUserCreated, user.ID, events.UserCreatedPayload{
		Name:   user.Name,
		Email:  user.Email,
		Status: user.Status,
	})
	return user, nil
}

// Update applies a partial update: supplied fields replace stored values,
// omitted fields are retained. Returns the full updated record.
func (s *UserService) Update(ctx context.Context, id int64, input UserUpdateInput) (*domain.User, error) {
	current, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, util.NewNotFound("user", map[string]any{"id": id})
	}
	if err != nil {
		return nil, err
	}

	updated := *current
	emailChanged := false
	statusChanged := false

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, util.NewValidationError("name must not be empty", map[string]any{"name": "required"})
		}
		updated.Name = name
	}

	if input.Email != nil {
		email := strings.TrimSpace(*input.Email)
		if email == "" {
			return nil, util.NewValidationError("email must not be empty", map[string]any{"email": "required"})
		}
		if !strings.EqualFold(email, current.Email) {
			if err := s.ensureEmailFree(ctx, email, id); err != nil {
				return nil, err
			}
			emailChanged = true
		}
		updated.Email = email
	}

	if input.Status != nil && strings.TrimSpace(*input.Status) != "" {
		status, err := domain.ParseStatus(*input.Status)
		if err != nil {
			return nil, util.NewValidationError("status must be active or blocked", map[string]any{"status": *input.Status})
		}
		statusChanged = status != current.Status
		updated.Status = status
	}

	// A nil password preserves the stored hash. An explicitly empty one is
	// rejected so a client bug cannot silently wipe a credential.
	if input.Password != nil {
		if *input.Password == "" {
			return nil, util.NewValidationError("password_hash must not be empty when supplied", map[string]any{"password_hash": "required"})
		}
		hash, err := auth.HashPassword(*input.Password, s.bcryptCost)
		if err != nil {
			return nil, err
		}
		updated.PasswordHash = hash
	}

	if err := s.users.Update(ctx, &updated); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, util.NewNotFound("user", map[string]any{"id": id})
		}
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, util.NewConflict("email already in use", map[string]any{"email": updated.Email})
		}
		return nil, err
	}

	s.publish(ctx, events.EventUserUpdated, updated.ID, events.UserUpdatedPayload{
		Name:          updated.Name,
		Email:         updated.Email,
		Status:        updated.Status,
		EmailChanged:  emailChanged,
		StatusChanged: statusChanged,
	})
	return &updated, nil
}

// Delete removes the user and returns the deleted record's snapshot. A delete
// blocked by dependent rows surfaces as a conflict naming the cause rather
// than cascading silently.
func (s *UserService) Delete(ctx context.Context, id int64) (*domain.User, error) {
	current, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, util.NewNotFound("user", map[string]any{"id": id})
	}
	if err != nil {
		return nil, err
	}

	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, util.NewNotFound("user", map[string]any{"id": id})
		}
		if errors.Is(err, repository.ErrHasDependents) {
			return nil, util.NewConflict("user is referenced by dependent records", map[string]any{"id": id})
		}
		return nil, err
	}

	s.publish(ctx, events.EventUserDeleted, current.ID, events.UserDeletedPayload{Email: current.Email})
	return current, nil
}

// ensureEmailFree is the read-then-decide uniqueness pre-check. excludeID
// skips the row being updated.
func (s *UserService) ensureEmailFree(ctx context.Context, email string, excludeID int64) error {
	existing, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != excludeID {
		return util.NewConflict("email already in use", map[string]any{"email": email})
	}
	return nil
}

func (s *UserService) publish(ctx context.Context, eventType events.EventType, userID int64, payload any) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}
