package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/caregate/caregate/internal/token"
)

// ForgotPassword emails a reset link if the address belongs to an account.
// The email goes out on the dispatcher and its outcome is only logged, so
// known and unknown addresses get the same answer.
func (s *authService) ForgotPassword(ctx context.Context, email string) error {
	acct, err := s.repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("finding account: %w", err)
	}

	tok, err := s.codec.EncodePassword(token.PasswordClaims{
		Type:    token.TypePasswordReset,
		Subject: acct.ID,
		Kind:    string(s.profile.Kind),
		Email:   acct.Email,
	}, s.life.PasswordReset)
	if err != nil {
		return fmt.Errorf("minting reset token: %w", err)
	}

	url := link(s.profile.ResetURL, tok)
	s.async.Submit(ctx, func(ctx context.Context) {
		if err := s.notifier.SendPasswordReset(ctx, acct.Email, acct.FirstName, url); err != nil {
			s.log.ErrorContext(ctx, "failed to dispatch password reset",
				slog.String("account_id", acct.ID),
				slog.Any("error", err),
			)
			return
		}
		s.record(ctx, acct.ID, ActionPasswordResetRequested, nil)
	})
	return nil
}

// ResetPassword sets a new password from a reset link. Subjects may also use
// a set_password token here, which finishes onboarding.
func (s *authService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	claims, err := s.decodePasswordToken(resetToken, s.profile.ResetTypes)
	if err != nil {
		return err
	}

	acct, err := s.repo.FindByID(ctx, claims.Subject)
	if err != nil {
		return lookupError(err, ErrTokenInvalid)
	}

	if err := s.setPassword(ctx, acct.ID, newPassword); err != nil {
		return err
	}

	if s.profile.ActivateOnReset {
		if err := s.repo.UpdateInvitationStatus(ctx, acct.ID, InvitationActive); err != nil {
			return fmt.Errorf("activating account: %w", err)
		}
	}

	s.record(ctx, acct.ID, ActionPasswordReset, map[string]any{"token_type": string(claims.Type)})
	s.log.Info("password reset", slog.String("account_id", acct.ID))
	return nil
}

// ResendSetPassword reissues a set-password link from an earlier password
// token. The earlier token may have expired; its signature may not be
// forged. Account existence is not re-checked: the token's own signature is
// the proof of identity, as it was when the first link was sent.
func (s *authService) ResendSetPassword(ctx context.Context, priorToken string) error {
	if !s.profile.Invitations {
		return ErrUnsupported
	}

	claims, err := s.decodePasswordToken(priorToken,
		[]token.Type{token.TypePasswordReset, token.TypeSetPassword},
		token.IgnoreExpiry(),
	)
	if errors.Is(err, ErrTokenTypeMismatch) {
		// Resend only ever reports an unusable token, never why.
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if err != nil {
		return err
	}

	if err := s.sendSetPassword(ctx, claims.Subject, claims.Email, "", false); err != nil {
		return err
	}

	s.record(ctx, claims.Subject, ActionSetPasswordResent, nil)
	return nil
}

// InviteSubject emails a set-password invitation and marks the subject as
// invited. invitedBy is the clinician's account id, kept in the event trail.
func (s *authService) InviteSubject(ctx context.Context, subjectID, invitedBy string) error {
	if !s.profile.Invitations {
		return ErrUnsupported
	}

	acct, err := s.repo.FindByID(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("finding account: %w", err)
	}

	if err := s.sendSetPassword(ctx, acct.ID, acct.Email, acct.FirstName, true); err != nil {
		return err
	}

	// Re-inviting an active subject only resends the email; it never walks
	// the status back.
	if deref(acct.InvitationStatus) != InvitationActive {
		if err := s.repo.UpdateInvitationStatus(ctx, acct.ID, InvitationInviteSent); err != nil {
			return fmt.Errorf("updating invitation status: %w", err)
		}
	}

	s.record(ctx, acct.ID, ActionSubjectInvited, map[string]any{"invited_by": invitedBy})
	s.log.Info("subject invited",
		slog.String("account_id", acct.ID),
		slog.String("invited_by", invitedBy),
	)
	return nil
}

// ChangePassword replaces the password of an authenticated account after
// re-checking the current one.
func (s *authService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	acct, err := s.repo.FindByID(ctx, accountID)
	if err != nil {
		return lookupError(err, ErrUnauthenticated)
	}
	if !acct.HasPassword() {
		return ErrNoPasswordSet
	}
	if !s.verify(currentPassword, *acct.PasswordHash) {
		return ErrCurrentPasswordIncorrect
	}

	if err := s.setPassword(ctx, acct.ID, newPassword); err != nil {
		return err
	}

	s.record(ctx, acct.ID, ActionPasswordChanged, nil)
	return nil
}

// decodePasswordToken decodes a password token and checks it was minted for
// this account kind. A token for the other kind is treated as invalid rather
// than as a type mismatch: its type is fine, its audience is not.
func (s *authService) decodePasswordToken(raw string, allowed []token.Type, opts ...token.DecodeOption) (token.PasswordClaims, error) {
	claims, err := s.codec.DecodePassword(raw, allowed, opts...)
	if err != nil {
		return token.PasswordClaims{}, err
	}
	if claims.Kind != string(s.profile.Kind) {
		return token.PasswordClaims{}, fmt.Errorf("%w: token issued for %q", ErrTokenInvalid, claims.Kind)
	}
	return claims, nil
}

func (s *authService) sendSetPassword(ctx context.Context, accountID, email, name string, invitation bool) error {
	tok, err := s.codec.EncodePassword(token.PasswordClaims{
		Type:    token.TypeSetPassword,
		Subject: accountID,
		Kind:    string(s.profile.Kind),
		Email:   email,
	}, s.life.SetPassword)
	if err != nil {
		return fmt.Errorf("minting set-password token: %w", err)
	}

	url := link(s.profile.SetPasswordURL, tok)
	if invitation {
		err = s.notifier.SendInvitation(ctx, email, name, url)
	} else {
		err = s.notifier.SendSetPassword(ctx, email, url)
	}
	if err != nil {
		s.log.Error("failed to dispatch set-password link",
			slog.String("account_id", accountID),
			slog.Bool("invitation", invitation),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

func (s *authService) setPassword(ctx context.Context, accountID, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := s.repo.UpdatePassword(ctx, accountID, hash); err != nil {
		return fmt.Errorf("storing password: %w", err)
	}
	return nil
}
