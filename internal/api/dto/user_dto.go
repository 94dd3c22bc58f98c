package dto

import (
	"time"

	"github.com/spec-kit/user-directory/internal/domain"
)

// UserCreateRequest payload for new users. The password_hash wire key carries
// the raw credential; it is hashed server-side before storage.
type UserCreateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password_hash"`
	Status   string `json:"status"`
}

// UserUpdateRequest payload for partial updates. Pointer fields distinguish
// omitted values from explicitly supplied ones.
type UserUpdateRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password_hash"`
	Status   *string `json:"status"`
}

// UserResponse is the public shape of a user record. The credential field is
// never serialized.
type UserResponse struct {
	ID               int64             `json:"id"`
	Name             string            `json:"name"`
	Email            string            `json:"email"`
	Status           domain.UserStatus `json:"status"`
	RegistrationTime time.Time         `json:"registration_time"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewUserResponse maps a domain user to its response shape.
func NewUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:               user.ID,
		Name:             user.Name,
		Email:            user.Email,
		Status:           user.Status,
		RegistrationTime: user.CreatedAt,
		UpdatedAt:        user.UpdatedAt,
	}
}

// NewUserListResponse maps a slice of domain users.
func NewUserListResponse(users []domain.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, NewUserResponse(&users[i]))
	}
	return out
}
