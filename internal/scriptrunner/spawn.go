package scriptrunner

// Spawner lets callers (e.g. the host supervisor) own goroutines created by
// the runner. Without one the runner uses plain `go`.
type Spawner interface {
	Go(name string, fn func())
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(name string, fn func())

func (f SpawnerFunc) Go(name string, fn func()) { f(name, fn) }

var goSpawner = SpawnerFunc(func(_ string, fn func()) { go fn() })
