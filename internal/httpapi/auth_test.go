package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"fitpos/backend/internal/domain"
	"fitpos/backend/internal/store"
)

type userStoreStub struct {
	mu    sync.Mutex
	users map[string]domain.UserAccount
}

func (s *userStoreStub) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func TestLoginIssuesTokenWithClerkIdentity(t *testing.T) {
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"clerk": {
				ID:        3,
				Username:  "clerk",
				Password:  mustHashPassword(t, "clerk123"),
				Role:      "clerk",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, users)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "clerk",
		Password: "clerk123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.ClerkID != 3 {
		t.Fatalf("expected clerk id 3 in login response, got %d", resp.ClerkID)
	}
	if resp.Role != "clerk" {
		t.Fatalf("expected role clerk, got %s", resp.Role)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.ClerkID != 3 || actor.Username != "clerk" || actor.Role != "clerk" {
		t.Fatalf("unexpected actor from token: %+v", actor)
	}
}

func TestLoginRejectsWrongPasswordAndUnknownUser(t *testing.T) {
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"clerk": {
				ID:       3,
				Username: "clerk",
				Password: mustHashPassword(t, "clerk123"),
				Role:     "clerk",
				Active:   true,
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, users)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "clerk", Password: "wrong"}); err == nil {
		t.Fatalf("expected wrong password to fail")
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "nobody", Password: "clerk123"}); err == nil {
		t.Fatalf("expected unknown user to fail")
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"former": {
				ID:       9,
				Username: "former",
				Password: mustHashPassword(t, "pass1234"),
				Role:     "clerk",
				Active:   false,
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, users)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "former", Password: "pass1234"}); err == nil {
		t.Fatalf("expected inactive account login to fail")
	}
}

func TestCreateClerkStoresPasswordHash(t *testing.T) {
	users := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, users)

	clerk, err := manager.CreateClerk(context.Background(), domain.CreateClerkRequest{
		Username: "newclerk",
		Password: "pass1234",
		FullName: "New Clerk",
	})
	if err != nil {
		t.Fatalf("create clerk failed: %v", err)
	}
	if clerk.Username != "newclerk" {
		t.Fatalf("unexpected username %s", clerk.Username)
	}
	if clerk.Role != "clerk" {
		t.Fatalf("expected clerk role, got %s", clerk.Role)
	}

	stored, err := users.GetUserByUsername(context.Background(), "newclerk")
	if err != nil {
		t.Fatalf("expected clerk to be saved: %v", err)
	}
	if stored.Password == "pass1234" {
		t.Fatalf("expected clerk password to be hashed")
	}
	if !strings.HasPrefix(stored.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", stored.Password)
	}

	if _, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "newclerk",
		Password: "pass1234",
	}); err != nil {
		t.Fatalf("login with new clerk failed: %v", err)
	}
}

func TestCreateClerkRejectsDuplicateUsername(t *testing.T) {
	users := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, users)

	if _, err := manager.CreateClerk(context.Background(), domain.CreateClerkRequest{Username: "newclerk", Password: "pass1234"}); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := manager.CreateClerk(context.Background(), domain.CreateClerkRequest{Username: "NewClerk", Password: "other567"}); err == nil {
		t.Fatalf("expected duplicate username to fail")
	}
}

func TestParseTokenRejectsTamperedToken(t *testing.T) {
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"clerk": {
				ID:       3,
				Username: "clerk",
				Password: mustHashPassword(t, "clerk123"),
				Role:     "clerk",
				Active:   true,
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, users)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "clerk", Password: "clerk123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	other := NewAuthManager("other-secret", time.Hour, users)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with different secret to be rejected")
	}
	if _, err := manager.ParseToken(resp.AccessToken + "x"); err == nil {
		t.Fatalf("expected tampered token to be rejected")
	}
}
