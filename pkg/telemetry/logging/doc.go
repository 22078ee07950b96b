// Package logging configures structured logging on top of log/slog.
//
// # Overview
//
// New builds a slog.Logger whose handler chain adds request context and
// redacts secrets:
//
//	ContextHandler -> redaction (optional) -> JSON or text handler
//
// Components do not hold a *Logger. They log through
// slog.Default().With("component", "...") and use the *Context methods so
// that request_id, tenant_id, api_key_id and trace_id are attached.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:     "info",
//	    Format:    "json",
//	    RedactPII: true,
//	})
//	if err != nil {
//	    return err
//	}
//	logger.SetDefault()
//
//	ctx = logging.WithTenantID(ctx, "acme")
//	slog.InfoContext(ctx, "quota alert", "resource", "api_call")
//
// # Redaction
//
// With RedactPII enabled, API key secrets (tsk_live_...), bearer tokens,
// passwords and e-mail local parts are masked in messages and string
// attributes. Attributes named like secrets ("password", "token", ...) are
// masked entirely; identifiers ending in "_id" are left alone.
package logging
