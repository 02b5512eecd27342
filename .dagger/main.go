// Chatrelay CI/CD
//
// Package main provides reproducible builds and tests locally and in GitHub actions.
// It is the main harness for handling nearly all dev operations.
package main

import (
	"context"

	"dagger/chatrelay/internal/dagger"
)

// Chatrelay is the main module for the chatrelay CI/CD pipeline
type Chatrelay struct {
	// Project source directory
	//
	// +private
	Source *dagger.Directory
}

// New creates a new Chatrelay CI/CD module instance
func New(
	// Project source directory.
	//
	// +defaultPath="/"
	// +ignore=[".git", ".direnv", ".devenv", "build", "tmp", "_examples"]
	source *dagger.Directory,
) *Chatrelay {
	return &Chatrelay{
		Source: source,
	}
}

// goContainer returns a Go container with the project source mounted and
// the module and build caches attached. Chatrelay is pure Go, so CGO is off.
//
// It is the shared foundation for tests, builds, and linting.
func (c *Chatrelay) goContainer() *dagger.Container {
	return dag.Container().
		From("golang:1.25-alpine").
		WithEnvVariable("CGO_ENABLED", "0").
		WithEnvVariable("PATH", "/go/bin:$PATH", dagger.ContainerWithEnvVariableOpts{Expand: true}).
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build")).
		WithWorkdir("/src").
		WithDirectory("/src", c.Source)
}

// Test runs the chatrelay unit tests via "go test"
func (c *Chatrelay) Test(ctx context.Context) (string, error) {
	return c.goContainer().
		WithExec([]string{"go", "test", "-v", "./..."}).
		Stdout(ctx)
}

// TestRace runs the streaming packages under the race detector. The detector
// needs cgo, so this container turns it back on.
func (c *Chatrelay) TestRace(ctx context.Context) (string, error) {
	return dag.Container().
		From("golang:1.25-bookworm").
		WithEnvVariable("CGO_ENABLED", "1").
		WithMountedCache("/go/pkg/mod", dag.CacheVolume("go-mod")).
		WithMountedCache("/root/.cache/go-build", dag.CacheVolume("go-build-race")).
		WithWorkdir("/src").
		WithDirectory("/src", c.Source).
		WithExec([]string{"go", "test", "-race", "./relay/...", "./pkg/reducer/...", "./cmd/chatrelay/chat/..."}).
		Stdout(ctx)
}
