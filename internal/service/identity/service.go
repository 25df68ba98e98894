package identity

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/driftchat/driftchat/internal/app"
	"github.com/driftchat/driftchat/internal/db"
	"github.com/driftchat/driftchat/internal/repository"
)

// Service owns the anonymous identity lifecycle: first-contact registration,
// token resolution, and heartbeats.
type Service struct {
	appCtx     *app.AppContext
	identities *repository.IdentityRepository
}

func NewService(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:     appCtx,
		identities: repository.NewIdentityRepository(appCtx.DB),
	}
}

// Credentials are returned once at registration. The secret is only ever
// stored as a bcrypt hash; clients that lose it start over with a fresh
// identity.
type Credentials struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
}

// Register creates a new anonymous identity and returns its credentials.
func (s *Service) Register(ctx context.Context) (Credentials, error) {
	token := uuid.NewString()
	secret := uuid.NewString()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return Credentials{}, err
	}

	identity, err := s.identities.Create(ctx, token, string(hash))
	if err != nil {
		return Credentials{}, err
	}

	s.appCtx.Logger.Info("identity registered", "identity_id", identity.ID)
	return Credentials{Token: token, Secret: secret}, nil
}

// Resolve maps a client token to its identity record.
func (s *Service) Resolve(ctx context.Context, token string) (db.Identity, error) {
	return s.identities.GetByToken(ctx, token)
}

// Heartbeat refreshes the identity's activity timestamp and reactivates it.
func (s *Service) Heartbeat(ctx context.Context, identityID uint64) error {
	return s.identities.Touch(ctx, identityID)
}
