// Package directory resolves tenants and API keys for admission.
//
// The engine receives an already-authenticated (tenant, key) identity and
// only reads tenants and keys; they are created, changed and revoked by
// external subscription and key-management events. Static holds them in
// memory and is refreshed wholesale when configuration is reloaded.
//
//	dir := directory.NewStatic(tenants, keys)
//	tenant, key, err := directory.Authorize(ctx, dir, "org-1", "key-1", time.Now())
//	if errors.Is(err, limits.ErrKeyInvalid) {
//	    // deny key_invalid
//	}
package directory
