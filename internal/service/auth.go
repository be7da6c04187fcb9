// Package service contains the store node's account and object services.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgcrypto "github.com/and161185/safe-comments/internal/crypto"
	"github.com/and161185/safe-comments/internal/errs"
	"github.com/and161185/safe-comments/internal/limiter"
	"github.com/and161185/safe-comments/internal/model"
	"github.com/and161185/safe-comments/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// AuthService defines account registration and app authorisation.
type AuthService interface {
	// Register creates a new account and its public names container.
	Register(ctx context.Context, username, password string) (accountID string, err error)
	// AuthoriseWithIP applies rate limiting, checks credentials and issues a grant for the app.
	AuthoriseWithIP(ctx context.Context, req AuthoriseRequest, ip string) (model.Grant, error)
	// VerifyGrant parses and validates a grant token.
	VerifyGrant(token string) (*model.Grant, error)
}

// AuthoriseRequest is what an app asks for on behalf of an account.
type AuthoriseRequest struct {
	Username     string
	Password     string
	App          model.AppInfo
	Containers   model.Containers
	OwnContainer bool
}

// GrantClaims are the JWT claims of a grant token.
type GrantClaims struct {
	App        string              `json:"app"`
	Containers map[string][]string `json:"containers,omitempty"`
	Own        bool                `json:"own,omitempty"`
	jwt.RegisteredClaims
}

type AuthServiceImpl struct {
	accounts repository.AccountRepository
	objects  repository.ObjectRepository
	signKey  []byte
	grantTTL time.Duration
	lim      limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(
	accounts repository.AccountRepository, objects repository.ObjectRepository,
	signKey []byte, grantTTL time.Duration, lim limiter.Limiter,
) *AuthServiceImpl {
	return &AuthServiceImpl{accounts: accounts, objects: objects, signKey: signKey, grantTTL: grantTTL, lim: lim}
}

// ContainerAddress returns the address of an account's named container.
func ContainerAddress(accountID uuid.UUID, name string) model.Address {
	return model.Address{Name: pkgcrypto.ContainerName(accountID.String(), name), TypeTag: model.ContainerTypeTag}
}

// ensureContainer creates an account container unless it already exists.
func (s *AuthServiceImpl) ensureContainer(ctx context.Context, accountID uuid.UUID, name string) error {
	err := s.objects.Create(ctx, model.Object{
		Address: ContainerAddress(accountID, name),
		OwnerID: accountID,
		Name:    name,
	}, nil)
	if errors.Is(err, errs.ErrAlreadyExists) {
		return nil
	}
	return err
}

// Register creates a new account record with per-account salts.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", errors.New("validation: empty username/password")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	saltAuth, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return "", err
	}
	kekSalt, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return "", err
	}

	a := &model.Account{
		ID:       id,
		Username: username,
		PwdHash:  pkgcrypto.HashPassword([]byte(password), saltAuth),
		SaltAuth: saltAuth,
		KekSalt:  kekSalt,
	}
	if err := s.accounts.Create(ctx, a); err != nil {
		return "", err
	}
	if err := s.ensureContainer(ctx, id, model.PublicNamesContainer); err != nil {
		return "", fmt.Errorf("public names container: %w", err)
	}
	return id.String(), nil
}

// AuthoriseWithIP authenticates with rate limiting by (username, ip) and issues a grant.
func (s *AuthServiceImpl) AuthoriseWithIP(ctx context.Context, req AuthoriseRequest, ip string) (model.Grant, error) {
	if req.App.ID == "" {
		return model.Grant{}, errors.New("validation: empty app id")
	}
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, req.Username, ipHash)
	if err != nil {
		return model.Grant{}, err
	}
	if !allowed {
		return model.Grant{}, errs.ErrRateLimited
	}

	a, err := s.accounts.GetByUsername(ctx, req.Username)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(req.Password), a.SaltAuth, a.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, req.Username, ipHash); ferr == nil && blocked {
			return model.Grant{}, errs.ErrRateLimited
		}
		// unknown user and wrong password look the same
		return model.Grant{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, req.Username, ipHash)

	if req.OwnContainer {
		if err := s.ensureContainer(ctx, a.ID, model.OwnContainerName(req.App.ID)); err != nil {
			return model.Grant{}, fmt.Errorf("own container: %w", err)
		}
	}

	g := model.Grant{
		AccountID:    a.ID,
		AppID:        req.App.ID,
		Containers:   req.Containers,
		OwnContainer: req.OwnContainer,
		KekSalt:      a.KekSalt,
	}
	g.Token, g.ExpiresAt, err = s.issueGrantToken(g)
	if err != nil {
		return model.Grant{}, err
	}
	return g, nil
}

// issueGrantToken creates a signed HS256 JWT describing the grant.
func (s *AuthServiceImpl) issueGrantToken(g model.Grant) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.grantTTL)
	claims := GrantClaims{
		App: g.AppID,
		Own: g.OwnContainer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   g.AccountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	if len(g.Containers) > 0 {
		claims.Containers = make(map[string][]string, len(g.Containers))
		for name, perms := range g.Containers {
			list := make([]string, 0, len(perms))
			for _, p := range perms {
				list = append(list, string(p))
			}
			claims.Containers[name] = list
		}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	return signed, exp, err
}

// VerifyGrant checks signature and expiry and returns the grant the token describes.
func (s *AuthServiceImpl) VerifyGrant(token string) (*model.Grant, error) {
	var claims GrantClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return nil, errs.ErrUnauthorized
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return nil, errs.ErrUnauthorized
	}
	g := &model.Grant{
		Token:        token,
		AccountID:    id,
		AppID:        claims.App,
		OwnContainer: claims.Own,
		Containers:   model.Containers{},
	}
	for name, perms := range claims.Containers {
		list := make([]model.Permission, 0, len(perms))
		for _, p := range perms {
			list = append(list, model.Permission(p))
		}
		g.Containers[name] = list
	}
	if claims.ExpiresAt != nil {
		g.ExpiresAt = claims.ExpiresAt.Time
	}
	return g, nil
}
