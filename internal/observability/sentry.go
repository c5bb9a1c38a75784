package observability

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled bool

// InitSentry enables error reporting when dsn is set. The returned func
// flushes pending events and should run at shutdown.
func InitSentry(dsn, release, environment string) (func(), error) {
	if dsn == "" {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		SampleRate:       1.0,
		AttachStacktrace: true,
		Environment:      environment,
		Release:          fmt.Sprintf("stableguard@%s", release),
	})
	if err != nil {
		return func() {}, fmt.Errorf("init sentry: %w", err)
	}
	sentryEnabled = true
	slog.Info("sentry error reporting enabled", "environment", environment)
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// CaptureError reports err with component and extra tags. No-op unless
// InitSentry succeeded.
func CaptureError(err error, component string, tags map[string]string) {
	if !sentryEnabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		scope.SetFingerprint([]string{component, fmt.Sprintf("%T", err)})
		sentry.CaptureException(err)
	})
}
