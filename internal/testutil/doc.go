// Package testutil provides test fixtures and utilities.
//
// # Fixtures
//
// TOML config fixtures are embedded using go:embed:
//
//	fixtures/valid_config.toml
//	fixtures/invalid_config.toml
//
// ValidConfig and InvalidConfig decode them over config.Default():
//
//	cfg, err := testutil.ValidConfig()
//	cfg, err := testutil.InvalidConfig()
//
// # Record Store
//
// NewStore opens a SQLite-backed store in t.TempDir() and closes it when
// the test ends:
//
//	s := testutil.NewStore(t, store.WithClock(clock.Now))
//
// # Clock
//
// Clock is a settable time source for expiry and grace-period tests:
//
//	clock := testutil.NewClock(time.Now())
//	clock.Advance(time.Hour + time.Second)
package testutil
