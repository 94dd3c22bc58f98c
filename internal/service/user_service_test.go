package service

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/user-directory/internal/auth"
	"github.com/spec-kit/user-directory/internal/config"
	"github.com/spec-kit/user-directory/internal/domain"
	"github.com/spec-kit/user-directory/internal/events"
	"github.com/spec-kit/user-directory/internal/repository"
	"github.com/spec-kit/user-directory/pkg/util"
)

// --- fakes ---

func timeNowStub() time.Time {
	return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
}

type fakeUserRepo struct {
	users      map[int64]*domain.User
	nextID     int64
	dependents map[int64]bool

	getByEmailErr error
	createErr     error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:      map[int64]*domain.User{},
		dependents: map[int64]bool{},
	}
}

func (f *fakeUserRepo) List(_ context.Context, search string) ([]domain.User, error) {
	ids := make([]int64, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	term := strings.ToLower(strings.TrimSpace(search))
	var out []domain.User
	for _, id := range ids {
		u := f.users[id]
		if term != "" &&
			!strings.Contains(strings.ToLower(u.Name), term) &&
			!strings.Contains(strings.ToLower(u.Email), term) {
			continue
		}
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	if f.getByEmailErr != nil {
		return nil, f.getByEmailErr
	}
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, existing := range f.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return repository.ErrDuplicateEmail
		}
	}
	f.nextID++
	user.ID = f.nextID
	user.CreatedAt = timeNowStub()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) Update(_ context.Context, user *domain.User) error {
	if _, ok := f.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	for _, existing := range f.users {
		if existing.ID != user.ID && strings.EqualFold(existing.Email, user.Email) {
			return repository.ErrDuplicateEmail
		}
	}
	user.UpdatedAt = timeNowStub()
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeUserRepo) Delete(_ context.Context, id int64) error {
	if _, ok := f.users[id]; !ok {
		return repository.ErrNotFound
	}
	if f.dependents[id] {
		return repository.ErrHasDependents
	}
	delete(f.users, id)
	return nil
}

type recordingDispatcher struct {
	published []events.Event
}

func (d *recordingDispatcher) Publish(_ context.Context, event events.Event) error {
	d.published = append(d.published, event)
	return nil
}

func (d *recordingDispatcher) Subscribe(events.EventType, events.EventHandler) {}

func newTestService(repo repository.UserRepository, dispatcher events.Dispatcher) *UserService {
	cfg := config.Config{Security: config.SecurityConfig{BcryptCost: bcrypt.MinCost}}
	return NewUserService(cfg, UserDependencies{
		UserRepo:   repo,
		Dispatcher: dispatcher,
	})
}

func mustCreate(t *testing.T, svc *UserService, name, email, password string) *domain.User {
	t.Helper()
	user, err := svc.Create(context.Background(), UserCreateInput{Name: name, Email: email, Password: password})
	require.NoError(t, err)
	return user
}

func asDomainError(t *testing.T, err error) *util.DomainError {
	t.Helper()
	var de *util.DomainError
	require.ErrorAs(t, err, &de)
	return de
}

// --- create ---

func TestCreateAssignsIDAndDefaults(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo, nil)

	user := mustCreate(t, svc, "Carol", "carol@x.com", "secret")

	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "Carol", user.Name)
	assert.Equal(t, "carol@x.com", user.Email)
	assert.Equal(t, domain.UserStatusActive, user.Status)
	assert.False(t, user.CreatedAt.IsZero())

	got, err := svc.Get(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, got.Email)
}

func TestCreateHashesCredential(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo, nil)

	user := mustCreate(t, svc, "Carol", "carol@x.com", "secret")

	assert.NotEqual(t, "secret", user.PasswordHash)
	assert.NoError(t, auth.ComparePassword(user.PasswordHash, "secret"))
}

func TestCreateMissingFields(t *testing.T) {
	tests := []struct {
		name  string
		input UserCreateInput
	}{
		{name: "missing name", input: UserCreateInput{Email: "a@x.com", Password: "p"}},
		{name: "blank name", input: UserCreateInput{Name: "   ", Email: "a@x.com", Password: "p"}},
		{name: "missing email", input: UserCreateInput{Name: "A", Password: "p"}},
		{name: "missing password", input: UserCreateInput{Name: "A", Email: "a@x.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeUserRepo()
			svc := newTestService(repo, nil)

			_, err := svc.Create(context.Background(), tt.input)
			de := asDomainError(t, err)
			assert.Equal(t, "VALIDATION_FAILED", de.Code)
			assert.Empty(t, repo.users)
		})
	}
}

func TestCreateInvalidStatus(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo, nil)

	_, err := svc.Create(context.Background(), UserCreateInput{
		Name: "A", Email: "a@x.com", Password: "p", Status: "dormant",
	})
	de := asDomainError(t, err)
	assert.Equal(t, "VALIDATION_FAILED", de.Code)
}

func TestCreateDuplicateEmailCaseInsensitive(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo, nil)
	mustCreate(t, svc, "Carol", "carol@x.com", "secret")

	_, err := svc.Create(context.Background(), UserCreateInput{
		Name: "Other", Email: "CAROL@X.COM", Password: "p",
	})
	de := asDomainError(t, err)
	assert.Equal(t, "CONFLICT", de.Code)
	assert.Len(t, repo.users, 1)
}

func TestCreateDuplicateRaceCaughtByConstraint(t *testing.T) {
	// The pre-check misses but the store's unique index still rejects.
	repo := newFakeUserRepo()
	repo.getByEmailErr = repository.ErrNotFound
	repo.createErr = repository.ErrDuplicateEmail
	svc := newTestService(repo, nil)

	_, err := svc.Create(context.Background(), UserCreateInput{
		Name: "Carol", Email: "carol@x.com", Password: "p",
	})
	de := asDomainError(t, err)
	assert.Equal(t, "CONFLICT", de.Code)
}

func TestCreatePublishesEvent(t *testing.T) {
	repo := newFakeUserRepo()
	dispatcher := &recordingDispatcher{}
	svc := newTestService(repo, dispatcher)

	user := mustCreate(t, svc, "Carol", "carol@x.com", "secret")

	require.Len(t, dispatcher.published, 1)
	event := dispatcher.published[0]
	assert.Equal(t, events.EventUserCreated, event.Type)
	assert.Equal(t, user.ID, event.UserID)
	assert.NotEmpty(t, event.ID)
}

// --- get / list ---

func TestGetNotFound(t *testing.T) {
	svc := newTestService(newFakeUserRepo(), nil)

	_, err := svc.Get(context.Background(), 99)
	de := asDomainError(t, err)
	assert.Equal(t, "NOT_FOUND", de.Code)
}

func TestListOrderedByID(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo, nil)
	mustCreate(t, svc, "Alice", "alice@example.com", "p")
	mustCreate(t, svc, "Bob", "bob@example.com", "p")

	users, err := svc.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Alice", users[0].Name)
	assert.Equal(t, "Bob", users[1].Name)
}

func TestListSearchMatchesNameOrEmail(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo, nil)
	mustCreate(t, svc, "Alice", "alice@example.com", "p")
	mustCreate(t, svc, "Bob", "bob@example.com", "p")

	users, err := svc.List(context.Background(), "ali")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Alice", users[0].Name)

	users, err = svc.List(context.Background(), "BOB@")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Bob", users[0].Name)
}

// --- update ---

func TestUpdateStatusOnlyPreservesOtherFields(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo, nil)
	created := mustCreate(t, svc, "Carol", "carol@x.com", "secret")

	status := "blocked"
	updated, err := svc.Update(context.Background(), created.ID, UserUpdateInput{Status: &status})
	require.NoError(t, err)

	assert.Equal(t, domain.UserStatusBlocked, updated.Status)
	assert.Equal(t, "Carol", updated.Name)
	assert.Equal(t, "carol@x.com", updated.Email)
	assert.Equal(t, created.PasswordHash, updated.PasswordHash)
}

func TestUpdateOmittedPasswordPreservesHash(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo, nil)
	created := mustCreate(t, svc, "Carol", "carol@x.com", "secret")

	name := "Caroline"
	updated, err := svc.Update(context.Background(), created.ID, UserUpdateInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, created.PasswordHash, updated.PasswordHash)
	assert.NoError(t, auth.ComparePassword(updated.PasswordHash, "secret"))
}

func TestUpdateSuppliedPasswordReplacesHash(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo, nil)
	created := mustCreate(t, svc, "Carol", "carol@x.com", "secret")

	password := "newsecret"
	updated, err := svc.Update(context.Background(), created.ID, UserUpdateInput{Password: &password})
	require.NoError(t, err)

	assert.NotEqual(t, created.PasswordHash, updated.PasswordHash)
	assert.NoError(t, auth.ComparePassword(updated.PasswordHash, "newsecret"))
	assert.Error(t, auth.ComparePassword(updated.PasswordHash, "secret"))
}

func TestUpdateEmptyPasswordRejected(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo, nil)
	created := mustCreate(t, svc, "Carol", "carol@x.com", "secret")

	empty := ""
	_, err := svc.Update(context.Background(), created.ID, UserUpdateInput{Password: &empty})
	de := asDomainError(t, err)
	assert.Equal(t, "VALIDATION_FAILED", de.Code)

	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.PasswordHash, got.PasswordHash)
}

func TestUpdateEmailConflict(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo, nil)
	mustCreate(t, svc, "Alice", "alice@example.com", "p")
	bob := mustCreate(t, svc, "Bob", "bob@example.com", "p")

	email := "Alice@Example.com"
	_, err := svc.Update(context.Background(), bob.ID, UserUpdateInput{Email: &email})
	de := asDomainError(t, err)
	assert.Equal(t, "CONFLICT", de.Code)
}

func TestUpdateOwnEmailDifferentCaseAllowed(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo, nil)
	created := mustCreate(t, svc, "Carol", "carol@x.com", "p")

	email := "Carol@X.com"
	updated, err := svc.Update(context.Background(), created.ID, UserUpdateInput{Email: &email})
	require.NoError(t, err)
	assert.Equal(t, "Carol@X.com", updated.Email)
}

func TestUpdateNotFound(t *testing.T) {
	svc := newTestService(newFakeUserRepo(), nil)

	name := "Ghost"
	_, err := svc.Update(context.Background(), 42, UserUpdateInput{Name: &name})
	de := asDomainError(t, err)
	assert.Equal(t, "NOT_FOUND", de.Code)
}

// --- delete ---

func TestDeleteReturnsSnapshot(t *testing.T) {
	repo := newFakeUserRepo()
	dispatcher := &recordingDispatcher{}
	svc := newTestService(repo, dispatcher)
	created := mustCreate(t, svc, "Carol", "carol@x.com", "p")
	dispatcher.published = nil

	deleted, err := svc.Delete(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Email, deleted.Email)

	_, err = svc.Get(context.Background(), created.ID)
	de := asDomainError(t, err)
	assert.Equal(t, "NOT_FOUND", de.Code)

	require.Len(t, dispatcher.published, 1)
	assert.Equal(t, events.EventUserDeleted, dispatcher.published[0].Type)
}

func TestDeleteNotFound(t *testing.T) {
	svc := newTestService(newFakeUserRepo(), nil)

	_, err := svc.Delete(context.Background(), 7)
	de := asDomainError(t, err)
	assert.Equal(t, "NOT_FOUND", de.Code)
}

func TestDeleteBlockedByDependents(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo, nil)
	created := mustCreate(t, svc, "Carol", "carol@x.com", "p")
	repo.dependents[created.ID] = true

	_, err := svc.Delete(context.Background(), created.ID)
	de := asDomainError(t, err)
	assert.Equal(t, "CONFLICT", de.Code)

	_, err = svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
}
