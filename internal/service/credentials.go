package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"marketplace-payments/internal/models"
	"marketplace-payments/internal/processor"
	"marketplace-payments/internal/secrets"
	"marketplace-payments/internal/util"
)

// CredentialService manages per-merchant processor sub-account
// credentials. Secret keys are sealed before persisting and decrypted
// only to construct a processor client.
type CredentialService struct {
	store   CredentialStore
	box     *secrets.Box
	clients ClientFactory
	logger  *zap.Logger
}

// NewCredentialService creates a new credential service
func NewCredentialService(store CredentialStore, box *secrets.Box, clients ClientFactory) *CredentialService {
	return &CredentialService{
		store:   store,
		box:     box,
		clients: clients,
		logger:  util.GetLogger(),
	}
}

// CredentialStatus is the caller-visible view of a credential set.
// Secret material never appears here.
type CredentialStatus struct {
	MerchantID string `json:"merchant_id"`
	PublicKey  string `json:"public_key"`
	AccountID  string `json:"account_id"`
	IsVerified bool   `json:"is_verified"`
	IsActive   bool   `json:"is_active"`
}

// Resolve returns a processor client authorized for the merchant's
// sub-account. Unconfigured or unverified merchants are not payable.
func (cs *CredentialService) Resolve(ctx context.Context, merchantID string) (processor.API, *models.MerchantCredential, error) {
	cred, err := cs.store.GetActiveCredential(ctx, merchantID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil, fmt.Errorf("merchant %s: %w", merchantID, models.ErrMerchantNotPayable)
		}
		return nil, nil, err
	}
	if !cred.IsVerified {
		return nil, nil, fmt.Errorf("merchant %s credentials unverified: %w", merchantID, models.ErrMerchantNotPayable)
	}

	secretKey, err := cs.box.Open(cred.SecretKeySealed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sealed credential for merchant %s: %w", merchantID, err)
	}

	return cs.clients(cred.AccountID, secretKey), cred, nil
}

// Save validates the key pair, round-trips the processor to confirm
// the secret key works, then persists it sealed. A verification
// failure persists nothing. replace must be set to rotate an existing
// active set.
func (cs *CredentialService) Save(ctx context.Context, merchantID, publicKey, secretKey string, replace bool) (*CredentialStatus, error) {
	ctx, span := util.StartSpan(ctx, "CredentialService.Save")
	defer span.End()

	if !strings.HasPrefix(publicKey, "pk_") || !strings.HasPrefix(secretKey, "sk_") {
		return nil, fmt.Errorf("keys must be a pk_/sk_ pair: %w", models.ErrInvalidKeyFormat)
	}
	if len(publicKey) < 12 || len(secretKey) < 12 {
		return nil, fmt.Errorf("key too short: %w", models.ErrInvalidKeyFormat)
	}

	existing, err := cs.store.GetActiveCredential(ctx, merchantID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if existing != nil && !replace {
		return nil, fmt.Errorf("merchant %s: %w", merchantID, models.ErrAlreadyConfigured)
	}

	// Live round-trip before anything is persisted.
	account, err := cs.clients("", secretKey).RetrieveAccount(ctx)
	if err != nil {
		if errors.Is(err, models.ErrProcessorRejected) || errors.Is(err, models.ErrValidation) {
			return nil, fmt.Errorf("merchant %s: %w", merchantID, models.ErrProcessorRejected)
		}
		return nil, err
	}

	sealed, err := cs.box.Seal(secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal secret key: %w", err)
	}

	cred := &models.MerchantCredential{
		MerchantID:      merchantID,
		PublicKey:       publicKey,
		SecretKeySealed: sealed,
		AccountID:       account.ID,
		IsVerified:      account.ChargesEnabled && account.DetailsSubmitted,
	}
	if err := cs.store.SaveCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to persist credentials: %w", err)
	}

	cs.logger.Info("Merchant credentials saved",
		zap.String("merchant_id", merchantID),
		zap.String("account_id", account.ID),
		zap.Bool("verified", cred.IsVerified))

	return &CredentialStatus{
		MerchantID: cred.MerchantID,
		PublicKey:  cred.PublicKey,
		AccountID:  cred.AccountID,
		IsVerified: cred.IsVerified,
		IsActive:   true,
	}, nil
}

// Revoke soft-deactivates the active credential set. Rows are kept for
// audit.
func (cs *CredentialService) Revoke(ctx context.Context, merchantID string) error {
	revoked, err := cs.store.RevokeCredential(ctx, merchantID)
	if err != nil {
		return err
	}
	if !revoked {
		return fmt.Errorf("no active credentials for merchant %s: %w", merchantID, models.ErrNotFound)
	}
	cs.logger.Info("Merchant credentials revoked", zap.String("merchant_id", merchantID))
	return nil
}

// Status returns the sanitized view of a merchant's active credential
// set.
func (cs *CredentialService) Status(ctx context.Context, merchantID string) (*CredentialStatus, error) {
	cred, err := cs.store.GetActiveCredential(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	return &CredentialStatus{
		MerchantID: cred.MerchantID,
		PublicKey:  cred.PublicKey,
		AccountID:  cred.AccountID,
		IsVerified: cred.IsVerified,
		IsActive:   cred.IsActive,
	}, nil
}
