package store

import (
	"context"
	"database/sql"
	"fmt"

	"marketplace-payments/internal/models"
)

// GetActiveCredential retrieves the active credential set for a
// merchant. At most one active row exists per merchant.
func (s *Store) GetActiveCredential(ctx context.Context, merchantID string) (*models.MerchantCredential, error) {
	var cred models.MerchantCredential
	err := s.db.GetContext(ctx, &cred, `
		SELECT * FROM merchant_credentials
		WHERE merchant_id = $1 AND is_active = TRUE`, merchantID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("credentials for merchant %s: %w", merchantID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// SaveCredential deactivates any prior credential set and inserts the
// new one in a single transaction, so a failure cannot leave the
// merchant with zero or two active sets. Old rows are retained for
// audit.
func (s *Store) SaveCredential(ctx context.Context, cred *models.MerchantCredential) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE merchant_credentials SET is_active = FALSE, updated_at = NOW()
		WHERE merchant_id = $1 AND is_active = TRUE`, cred.MerchantID)
	if err != nil {
		return fmt.Errorf("failed to deactivate prior credentials: %w", err)
	}

	row := tx.QueryRowxContext(ctx, `
		INSERT INTO merchant_credentials
			(merchant_id, public_key, secret_key_sealed, account_id, is_verified, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING created_at, updated_at`,
		cred.MerchantID, cred.PublicKey, cred.SecretKeySealed, cred.AccountID, cred.IsVerified)
	if err := row.Scan(&cred.CreatedAt, &cred.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert credentials: %w", err)
	}

	return tx.Commit()
}

// RevokeCredential soft-deactivates the active credential set. Never
// deletes.
func (s *Store) RevokeCredential(ctx context.Context, merchantID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE merchant_credentials SET is_active = FALSE, updated_at = NOW()
		WHERE merchant_id = $1 AND is_active = TRUE`, merchantID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetCredentialVerification updates verification flags from a
// merchant_account_updated callback, matched by processor account id.
func (s *Store) SetCredentialVerification(ctx context.Context, accountID string, verified bool) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE merchant_credentials SET is_verified = $1, updated_at = NOW()
		WHERE account_id = $2 AND is_active = TRUE`, verified, accountID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetCredentialByAccountID looks up the active credential owning a
// processor account.
func (s *Store) GetCredentialByAccountID(ctx context.Context, accountID string) (*models.MerchantCredential, error) {
	var cred models.MerchantCredential
	err := s.db.GetContext(ctx, &cred, `
		SELECT * FROM merchant_credentials
		WHERE account_id = $1 AND is_active = TRUE`, accountID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", accountID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}
