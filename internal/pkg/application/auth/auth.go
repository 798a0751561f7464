package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-telemetry-mgmt/pkg/types"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrStorage            = errors.New("storage unavailable")
	ErrRoleNotConfigured  = errors.New("default role is not configured")
)

const maxPasswordLength = 72

type ValidationError struct {
	Field   string
	Message string
}

func (v *ValidationError) Error() string {
	return v.Message
}

func missing(field string) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf("%s is required", field)}
}

type AuthService interface {
	Register(ctx context.Context, req types.RegisterRequest) (string, error)
	Login(ctx context.Context, username, password string) (string, error)
	// EnsureDefaultRole fails with ErrRoleNotConfigured if the role given to new accounts does not exist.
	EnsureDefaultRole(ctx context.Context) error
}

type authService struct {
	accounts    database.AccountRepository
	issuer      *TokenIssuer
	defaultRole string
	hashCost    int

	dummyOnce sync.Once
	dummyHash []byte
}

func NewAuthService(accounts database.AccountRepository, issuer *TokenIssuer, defaultRole string, hashCost int) AuthService {
	if hashCost < bcrypt.MinCost || hashCost > bcrypt.MaxCost {
		hashCost = bcrypt.DefaultCost
	}

	return &authService{
		accounts:    accounts,
		issuer:      issuer,
		defaultRole: defaultRole,
		hashCost:    hashCost,
	}
}

func (s *authService) Register(ctx context.Context, req types.RegisterRequest) (string, error) {
	logger := logging.GetFromContext(ctx).With().Str("username", req.Username).Logger()

	if strings.TrimSpace(req.Username) == "" {
		return "", missing("username")
	}

	if req.Password == "" {
		return "", missing("password")
	}

	if len(req.Password) > maxPasswordLength {
		return "", &ValidationError{Field: "password", Message: fmt.Sprintf("password must not be longer than %d bytes", maxPasswordLength)}
	}

	exists, err := s.accounts.UsernameExists(ctx, req.Username)
	if err != nil {
		logger.Error().Err(err).Msg("could not check if username exists")
		return "", ErrStorage
	}
	if exists {
		return "", ErrUsernameTaken
	}

	roleID, err := s.accounts.GetRoleID(ctx, s.defaultRole)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			logger.Error().Str("role", s.defaultRole).Msg("default role does not exist")
			return "", ErrRoleNotConfigured
		}
		logger.Error().Err(err).Msg("could not look up default role")
		return "", ErrStorage
	}

	if req.FullName == nil || strings.TrimSpace(*req.FullName) == "" {
		return "", missing("full_name")
	}

	if req.Email == nil || strings.TrimSpace(*req.Email) == "" {
		return "", missing("email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		logger.Error().Err(err).Msg("failed to hash password")
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	info := &database.UserInfo{
		FullName:     *req.FullName,
		Email:        *req.Email,
		PhoneNumber:  req.PhoneNumber,
		Organization: req.Organization,
	}

	user := &database.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		RoleID:       roleID,
	}

	err = s.accounts.CreateAccount(ctx, info, user)
	if err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			return "", ErrUsernameTaken
		}
		logger.Error().Err(err).Msg("failed to create account")
		return "", ErrStorage
	}

	logger.Info().Str("role", s.defaultRole).Msg("account registered")

	return s.issuer.Issue(req.Username, s.defaultRole)
}

func (s *authService) Login(ctx context.Context, username, password string) (string, error) {
	logger := logging.GetFromContext(ctx).With().Str("username", username).Logger()

	creds, err := s.accounts.GetCredentials(ctx, username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// spend the same effort as for a known user
			_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
			return "", ErrInvalidCredentials
		}
		logger.Error().Err(err).Msg("could not look up credentials")
		return "", ErrStorage
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(password)); err != nil {
		logger.Info().Msg("password mismatch")
		return "", ErrInvalidCredentials
	}

	return s.issuer.Issue(username, creds.RoleName)
}

func (s *authService) EnsureDefaultRole(ctx context.Context) error {
	_, err := s.accounts.GetRoleID(ctx, s.defaultRole)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRoleNotConfigured, s.defaultRole)
		}
		return fmt.Errorf("%w: %s", ErrStorage, err.Error())
	}
	return nil
}

func (s *authService) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not a real password"), s.hashCost)
	})
	return s.dummyHash
}
