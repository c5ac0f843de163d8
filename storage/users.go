package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/simonbegg/todo/domain"
)

// userEntity is keyed by the normalized email so sign-in is a point lookup.
type userEntity struct {
	entityKeys
	UserID       string `json:"UserId"`
	PasswordHash string `json:"PasswordHash"`
	CreatedAt    string `json:"CreatedAt"`
}

// CreateUser registers a new account. It returns domain.ErrUserExists when the
// email is already taken.
func (s *Storage) CreateUser(ctx context.Context, email string, passwordHash []byte) (domain.User, error) {
	u := domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	ent := userEntity{
		entityKeys:   entityKeys{PartitionKey: email, RowKey: email},
		UserID:       u.ID,
		PasswordHash: string(passwordHash),
		CreatedAt:    formatTime(&u.CreatedAt),
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.userTable.Add(ctx, payload); err != nil {
		if errors.Is(err, errEntityExists) {
			return domain.User{}, domain.ErrUserExists
		}
		return domain.User{}, err
	}
	return u, nil
}

// UserByEmail looks up an account. Unknown emails yield domain.ErrBadCredentials.
func (s *Storage) UserByEmail(ctx context.Context, email string) (domain.User, error) {
	row, err := s.userTable.Get(ctx, email, email)
	if err != nil {
		if errors.Is(err, errEntityNotFound) {
			return domain.User{}, domain.ErrBadCredentials
		}
		return domain.User{}, err
	}
	var ent userEntity
	if err := sonic.Unmarshal(row, &ent); err != nil {
		return domain.User{}, fmt.Errorf("decode user: %w", err)
	}
	u := domain.User{
		ID:           ent.UserID,
		Email:        ent.RowKey,
		PasswordHash: []byte(ent.PasswordHash),
	}
	if created := parseTime(ent.CreatedAt); created != nil {
		u.CreatedAt = *created
	}
	return u, nil
}
