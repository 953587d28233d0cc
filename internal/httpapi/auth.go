package httpapi

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	DeleteUser(ctx context.Context, id string) error
	UpdateUserPassword(ctx context.Context, username string, passwordHash string, mustChange bool) error
	UpdateUserLicense(ctx context.Context, id string, licenseYear string) (*domain.UserAccount, error)
}

type ledgerClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

var errInvalidCredentials = errors.New("invalid credentials")

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	user, err := a.userStore.GetUserByUsername(ctx, username)
	if err != nil {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	valid, legacy := verifyPassword(user.PasswordHash, req.Password)
	if !valid {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if legacy {
		// Accounts migrated from the old system carry unsalted SHA-256
		// hashes; rewrite them as bcrypt on the first successful login.
		if hashed, hashErr := hashPassword(req.Password); hashErr == nil {
			if upErr := a.userStore.UpdateUserPassword(ctx, username, hashed, user.MustChangePassword); upErr != nil {
				log.Printf("[auth] WARN: failed to upgrade legacy password hash for %s: %v", username, upErr)
			}
		}
	}

	if !user.Active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}
	if !licenseCurrent(user.LicenseYear, time.Now().UTC()) {
		return domain.LoginResponse{}, errors.New("license expired")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, user.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken:        token,
		Role:               user.Role,
		MustChangePassword: user.MustChangePassword,
		ExpiresAt:          expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ChangePassword(ctx context.Context, username string, req domain.ChangePasswordRequest) error {
	username = strings.ToLower(strings.TrimSpace(username))
	user, err := a.userStore.GetUserByUsername(ctx, username)
	if err != nil {
		return errInvalidCredentials
	}

	valid, _ := verifyPassword(user.PasswordHash, req.CurrentPassword)
	if !valid {
		return errInvalidCredentials
	}
	if strings.TrimSpace(req.NewPassword) == "" || len(req.NewPassword) < 6 {
		return fmt.Errorf("%w: new password must be at least 6 characters", store.ErrValidation)
	}
	if req.NewPassword != req.ConfirmPassword {
		return fmt.Errorf("%w: password confirmation does not match", store.ErrValidation)
	}

	hashed, err := hashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password")
	}

	// A completed change always clears the must-change flag.
	return a.userStore.UpdateUserPassword(ctx, username, hashed, false)
}

func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserAccount, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || len(username) < 4 {
		return domain.UserAccount{}, fmt.Errorf("%w: username must be at least 4 characters", store.ErrValidation)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserAccount{}, fmt.Errorf("%w: username must not contain spaces", store.ErrValidation)
	}
	if strings.TrimSpace(req.Password) == "" || len(req.Password) < 6 {
		return domain.UserAccount{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrValidation)
	}

	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = domain.RoleCashier
	}
	if role != domain.RoleAdmin && role != domain.RoleCashier {
		return domain.UserAccount{}, fmt.Errorf("%w: unknown role %q", store.ErrValidation, role)
	}

	licenseYear := strings.TrimSpace(req.LicenseYear)
	if _, err := strconv.Atoi(licenseYear); err != nil {
		return domain.UserAccount{}, fmt.Errorf("%w: license_year must be a year", store.ErrValidation)
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("failed to hash password")
	}

	now := time.Now().UTC()
	user := domain.UserAccount{
		Username:           username,
		PasswordHash:       hashed,
		Role:               role,
		FullName:           strings.TrimSpace(req.FullName),
		LicenseYear:        licenseYear,
		MustChangePassword: true,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := a.userStore.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrValidation) {
			return domain.UserAccount{}, fmt.Errorf("%w: username already exists", store.ErrValidation)
		}
		return domain.UserAccount{}, err
	}

	created, err := a.userStore.GetUserByUsername(ctx, username)
	if err != nil {
		return domain.UserAccount{}, err
	}
	return *created, nil
}

func (a *AuthManager) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	return a.userStore.ListUsers(ctx)
}

func (a *AuthManager) DeleteUser(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: user id required", store.ErrValidation)
	}
	return a.userStore.DeleteUser(ctx, id)
}

func (a *AuthManager) UpdateLicense(ctx context.Context, id string, req domain.LicenseUpdateRequest) (domain.UserAccount, error) {
	id = strings.TrimSpace(id)
	licenseYear := strings.TrimSpace(req.LicenseYear)
	if id == "" {
		return domain.UserAccount{}, fmt.Errorf("%w: user id required", store.ErrValidation)
	}
	if _, err := strconv.Atoi(licenseYear); err != nil {
		return domain.UserAccount{}, fmt.Errorf("%w: license_year must be a year", store.ErrValidation)
	}

	updated, err := a.userStore.UpdateUserLicense(ctx, id, licenseYear)
	if err != nil {
		return domain.UserAccount{}, err
	}
	return *updated, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &ledgerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := ledgerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "shopledger",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// licenseCurrent reports whether the stored license year parses as an
// integer no earlier than the current year. Any parse failure counts as
// expired.
func licenseCurrent(licenseYear string, now time.Time) bool {
	year, err := strconv.Atoi(strings.TrimSpace(licenseYear))
	if err != nil {
		return false
	}
	return year >= now.Year()
}

// verifyPassword checks input against a stored hash. The second return
// value reports a match against a legacy unsalted SHA-256/base64 hash,
// which the caller should upgrade.
func verifyPassword(stored string, input string) (bool, bool) {
	if stored == "" || strings.TrimSpace(input) == "" {
		return false, false
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil, false
	}
	if isLegacyHash(stored) {
		sum := sha256.Sum256([]byte(input))
		computed := base64.StdEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1, true
	}
	return false, false
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isBcryptHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

func isLegacyHash(value string) bool {
	if len(value) != 44 {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(value)
	return err == nil && len(decoded) == sha256.Size
}
