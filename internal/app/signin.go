package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/rencire/free-games-claimer/internal/automation"
	"github.com/rencire/free-games-claimer/internal/domain"
)

const (
	selSignIn        = `button:has-text("Sign in")`
	selUserName      = `[data-a-target="user-dropdown-first-name-text"]`
	selAcceptCookies = `[aria-label="Cookies usage disclaimer banner"] button:has-text("Accept Cookies")`
	selTryPrime      = `role=button[name="Try Prime"]`
	selEmail         = `[name=email]`
	selPassword      = `[name=password]`
	selRememberMe    = `[name=rememberMe]`
	selSubmit        = `input[type="submit"]`
	selLoginAlert    = `.a-alert-content`
	selRememberOTP   = `[name=rememberDevice]`
	selOTPCode       = `input[name=otpCode]`

	urlLoginError = "**/ap/signin**"
	urlMFA        = "**/ap/mfa**"
	urlSignedIn   = "https://gaming.amazon.com/home?signedIn=true"
)

// Credentials are used for automatic sign-in. OTPKey is the base32 TOTP secret.
type Credentials struct {
	Email    string
	Password string
	OTPKey   string
}

// SignIn makes sure the session is signed in to the platform.
type SignIn struct {
	session      automation.Session
	creds        Credentials
	headless     bool
	timeout      time.Duration
	loginTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewSignIn(session automation.Session, creds Credentials, headless bool, timeout, loginTimeout time.Duration, logger *slog.Logger) *SignIn {
	return &SignIn{
		session:      session,
		creds:        creds,
		headless:     headless,
		timeout:      timeout,
		loginTimeout: loginTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// Ensure opens the platform, signs in when needed and returns the displayed user
// name. It fails with ErrMembershipRequired when the account has no membership.
func (a *SignIn) Ensure(ctx context.Context) (string, error) {
	s := a.session.Surface()
	if err := s.Navigate(ctx, URLClaim); err != nil {
		return "", fmt.Errorf("open %s: %w", URLClaim, err)
	}
	if _, err := automation.RaceSelectors(ctx, s, selSignIn, selUserName); err != nil {
		return "", fmt.Errorf("wait for sign-in state: %w", err)
	}
	if cookies := s.Locate(selAcceptCookies); automation.Exists(ctx, cookies) {
		_ = cookies.Click(ctx)
	}

	for automation.Exists(ctx, s.Locate(selSignIn)) {
		a.logger.Error("not signed in anymore")
		if err := a.signIn(ctx, s); err != nil {
			a.session.SetDefaultTimeout(a.timeout)
			return "", err
		}
		a.session.SetDefaultTimeout(a.timeout)
	}

	user, err := s.Locate(selUserName).First().InnerText(ctx)
	if err != nil {
		return "", fmt.Errorf("read user name: %w", err)
	}
	user = strings.TrimSpace(user)
	a.logger.Info("signed in", "user", user)

	if automation.Exists(ctx, s.Locate(selTryPrime)) {
		return user, domain.ErrMembershipRequired
	}
	return user, nil
}

func (a *SignIn) signIn(ctx context.Context, s automation.Surface) error {
	if err := s.Locate(selSignIn).First().Click(ctx); err != nil {
		return fmt.Errorf("open sign-in: %w", err)
	}
	a.session.SetDefaultTimeout(a.loginTimeout)
	a.logger.Info("login timeout", "seconds", int(a.loginTimeout.Seconds()))

	if a.creds.Email == "" || a.creds.Password == "" {
		if a.headless {
			return domain.ErrNotSignedIn
		}
		a.logger.Info("waiting for you to login in the browser")
		return a.waitSignedIn(ctx, s)
	}

	a.logger.Info("using email and password from environment")
	if err := s.Locate(selEmail).Fill(ctx, a.creds.Email); err != nil {
		return fmt.Errorf("fill email: %w", err)
	}
	if err := s.Locate(selPassword).Fill(ctx, a.creds.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := s.Locate(selRememberMe).SetChecked(ctx, true); err != nil {
		return fmt.Errorf("check remember me: %w", err)
	}
	if err := s.Locate(selSubmit).Click(ctx); err != nil {
		return fmt.Errorf("submit credentials: %w", err)
	}

	var alert string
	idx, err := automation.Race(ctx,
		func(ctx context.Context) error {
			if err := s.WaitForURL(ctx, urlLoginError); err != nil {
				return err
			}
			text, err := s.Locate(selLoginAlert).First().InnerText(ctx)
			if err != nil {
				return err
			}
			if alert = strings.TrimSpace(text); alert == "" {
				return errors.New("empty login alert")
			}
			return nil
		},
		func(ctx context.Context) error { return s.WaitForURL(ctx, urlMFA) },
		func(ctx context.Context) error { return s.WaitForURL(ctx, urlSignedIn) },
	)
	if err != nil {
		return fmt.Errorf("wait for login result: %w", err)
	}

	switch idx {
	case 0:
		a.logger.Error("login error", "alert", alert)
		return fmt.Errorf("%w: %s", domain.ErrLoginFailed, alert)
	case 1:
		if err := a.enterOTP(ctx, s); err != nil {
			return err
		}
		return a.waitSignedIn(ctx, s)
	}
	return nil
}

func (a *SignIn) enterOTP(ctx context.Context, s automation.Surface) error {
	a.logger.Info("two-step verification required")
	if err := s.Locate(selRememberOTP).SetChecked(ctx, true); err != nil {
		return fmt.Errorf("check remember device: %w", err)
	}
	if a.creds.OTPKey == "" {
		if a.headless {
			return fmt.Errorf("%w: two-step verification needs PG_OTPKEY", domain.ErrLoginFailed)
		}
		a.logger.Info("enter the one time password in the browser")
		return nil
	}

	code, err := totp.GenerateCode(strings.ReplaceAll(a.creds.OTPKey, " ", ""), a.now())
	if err != nil {
		return fmt.Errorf("%w: generate one time password: %v", domain.ErrLoginFailed, err)
	}
	if err := s.Locate(selOTPCode).Fill(ctx, code); err != nil {
		return fmt.Errorf("fill one time password: %w", err)
	}
	if err := s.Locate(selSubmit).Click(ctx); err != nil {
		return fmt.Errorf("submit one time password: %w", err)
	}
	return nil
}

func (a *SignIn) waitSignedIn(ctx context.Context, s automation.Surface) error {
	if err := s.WaitForURL(ctx, urlSignedIn); err != nil {
		return fmt.Errorf("wait for sign-in: %w", err)
	}
	return nil
}
