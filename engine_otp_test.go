package stepauth

import (
	"context"
	"errors"
	"testing"
)

func TestGenerateOTPIssuesChallenge(t *testing.T) {
	engine, _, notifier, mr := newTestEngine(t)
	ctx := context.Background()

	challenge, err := engine.GenerateOTP(ctx, "u-1", ChannelEmail, "alice@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if challenge.ChallengeID == "" {
		t.Fatal("expected a challenge ID")
	}
	if challenge.Channel != "email" {
		t.Fatalf("expected email channel, got %q", challenge.Channel)
	}
	if challenge.MaskedRecipient != "a***e@example.com" {
		t.Fatalf("unexpected masked recipient %q", challenge.MaskedRecipient)
	}
	if notifier.recipients[0] != "alice@example.com" {
		t.Fatalf("code delivered to %q", notifier.recipients[0])
	}
	if !mr.Exists("otp:" + challenge.ChallengeID) {
		t.Fatal("challenge record missing in redis")
	}
}

func TestGenerateOTPSMSMasksPhone(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)

	challenge, err := engine.GenerateOTP(context.Background(), "u-1", ChannelSMS, "+14155550123")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if challenge.Channel != "sms" {
		t.Fatalf("expected sms channel, got %q", challenge.Channel)
	}
	if challenge.MaskedRecipient != "+14******123" {
		t.Fatalf("unexpected masked phone %q", challenge.MaskedRecipient)
	}
	if notifier.channels[0] != ChannelSMS {
		t.Fatal("code must go out via sms")
	}
}

func TestGenerateOTPRejectsEmptyInput(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.GenerateOTP(ctx, "", ChannelEmail, "alice@example.com"); err == nil {
		t.Fatal("expected an error for an empty user ID")
	}
	if _, err := engine.GenerateOTP(ctx, "u-1", ChannelEmail, ""); err == nil {
		t.Fatal("expected an error for an empty recipient")
	}
}

func TestValidateOTPReturnsOwner(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	ctx := context.Background()

	challenge, err := engine.GenerateOTP(ctx, "u-1", ChannelEmail, "alice@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	result, err := engine.ValidateOTP(ctx, challenge.ChallengeID, notifier.lastCode(t))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.UserID != "u-1" || result.Channel != "email" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestValidateOTPWrongCode(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	ctx := context.Background()

	challenge, err := engine.GenerateOTP(ctx, "u-1", ChannelEmail, "alice@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	_, err = engine.ValidateOTP(ctx, challenge.ChallengeID, wrongCode(notifier.lastCode(t)))
	if !errors.Is(err, ErrOTPInvalidCode) {
		t.Fatalf("expected ErrOTPInvalidCode, got %v", err)
	}
	var mismatch *InvalidCodeError
	if !errors.As(err, &mismatch) || mismatch.AttemptsRemaining != 2 {
		t.Fatalf("expected 2 attempts remaining, got %v", err)
	}
}

func TestValidateOTPSingleUse(t *testing.T) {
	engine, _, notifier, _ := newTestEngine(t)
	ctx := context.Background()

	challenge, err := engine.GenerateOTP(ctx, "u-1", ChannelEmail, "alice@example.com")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	code := notifier.lastCode(t)

	if _, err := engine.ValidateOTP(ctx, challenge.ChallengeID, code); err != nil {
		t.Fatalf("first validate: %v", err)
	}
	_, err = engine.ValidateOTP(ctx, challenge.ChallengeID, code)
	if !errors.Is(err, ErrOTPAlreadyUsed) {
		t.Fatalf("expected ErrOTPAlreadyUsed, got %v", err)
	}
}
