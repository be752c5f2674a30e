package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/Lcs-93/Binance-like/internal/ledger"
	"github.com/Lcs-93/Binance-like/internal/models"
	"github.com/Lcs-93/Binance-like/internal/store"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service handles registration, login and the active-session record.
type Service struct {
	store        *store.Store
	secret       []byte
	startingCash decimal.Decimal
}

// NewService creates an auth service. startingCash is credited to every new
// account at registration.
func NewService(st *store.Store, secret string, startingCash decimal.Decimal) *Service {
	return &Service{store: st, secret: []byte(secret), startingCash: startingCash}
}

// Register creates a new account with a hashed password and the starting
// cash balance, and fans it out through the record store.
func (s *Service) Register(username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 100 {
		return nil, fmt.Errorf("password too long (max 100 characters)")
	}

	if _, err := s.store.GetUser(email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Cash:         s.startingCash,
		Cryptos:      map[string]decimal.Decimal{},
		LastUpdate:   time.Now().UnixMilli(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.SaveUser(user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials, marks the account as the active session and
// returns a signed token plus the session context.
func (s *Service) Login(email, password string) (string, *ledger.Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.GetUser(email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if err := s.store.SetSession(user); err != nil {
		return "", nil, fmt.Errorf("failed to set session: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email":    user.Email,
		"username": user.Username,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, ledger.NewSession(user.Email), nil
}

// Logout destroys the active-session record.
func (s *Service) Logout() error {
	return s.store.ClearSession()
}

// EmailFromToken validates a token and extracts the account email.
func (s *Service) EmailFromToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return "", fmt.Errorf("invalid token claims")
	}
	return email, nil
}
