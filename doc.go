// Package oauth2 is the storage and claims engine for an OAuth2 and
// OpenID Connect authorization server backed by a Moodle-style user
// database.
//
// The package ties three concerns together behind one façade:
//
//   - persistence of clients, tokens, authorization codes, scopes and
//     signing keys through a storage.Store backend (in-memory or SQL)
//   - credential verification for clients and resource-owner users
//   - OpenID Connect UserInfo claim resolution from user profiles
//
// Construct an Engine with New and use it as the storage contract of a
// token-issuing frontend:
//
//	store := memory.New()
//	users := idmemory.NewProvider()
//	engine, err := oauth2.New(oauth2.Config{
//		Store:    store,
//		Identity: users,
//		SiteURL:  "https://moodle.example.org",
//	})
//
// Backends never delete expired rows on read: Get operations return
// expired tokens and codes unchanged, and the caller checks the Expires
// timestamp. Seeding of baseline scopes and the default signing key is
// the install package's job.
package oauth2
