// Package twofactor provides a pluggable multi-method two-factor
// authentication engine: TOTP, email and SMS one-time codes, single-use
// recovery codes, and trusted-device exemptions.
//
// The package owns verification and state only. Session handling, HTTP
// routing, template rendering and message transport belong to the host; the
// engine talks to them through the codestore.Store and notification.Notifier
// contracts.
//
// # Basic Usage
//
//	store := codestore.NewInMemStore()
//	notifier := notification.NewMockNotifier()
//
//	service, err := twofactor.NewService(store, notifier,
//		twofactor.DefaultConfig("my-app", signingKey))
//	if err != nil {
//		return err
//	}
//
//	// Enroll a TOTP authenticator
//	material, err := service.BeginSetup(ctx, identity, twofactor.MethodTOTP, twofactor.SetupOptions{})
//	// ... show material.ProvisioningURI as a QR code ...
//	result, err := service.ConfirmSetup(ctx, identity, twofactor.MethodTOTP, codeFromApp)
//	if result.Outcome == twofactor.OutcomeEnabled {
//		// result.RecoveryCodes shown exactly once
//	}
//
//	// At login
//	if trusted, _ := service.IsTrustedDevice(ctx, identity, cookieToken); !trusted {
//		service.Challenge(ctx, identity, twofactor.MethodTOTP)
//		verify, _ := service.Verify(ctx, identity, twofactor.MethodTOTP, submitted,
//			twofactor.VerifyOptions{RememberDevice: true, Fingerprint: fp})
//		// verify.Outcome, verify.DeviceToken
//	}
//
// # Outcomes vs errors
//
// Expected validation results (wrong code, expired challenge, rate limited)
// come back as Outcome values on the result structs. Errors are reserved
// for configuration problems (ErrMethodNotEnabled, ErrAlreadyEnabled,
// ErrNotSetup) and infrastructure faults (ErrStore, ErrDelivery); the engine
// never retries the latter.
//
// # Concurrency
//
// All read-then-write state transitions (challenge consumption, recovery
// code use, rate-limit accounting) go through the store's conditional-write
// primitives, so the guarantees hold across multiple host processes sharing
// one store.
package twofactor
