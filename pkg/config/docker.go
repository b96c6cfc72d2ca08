package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"sync"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether /.dockerenv exists. Cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps loopback hosts to host.docker.internal inside a container
// so a local Postgres or embedding server on the host stays reachable.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	return rewriteLoopback(host)
}

// ResolveURLForDocker applies ResolveHostForDocker to the host part of rawURL.
// Unparseable or empty URLs are returned unchanged.
func ResolveURLForDocker(rawURL string) string {
	if rawURL == "" || !IsRunningInDocker() {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	host := rewriteLoopback(u.Hostname())
	if port := u.Port(); port != "" {
		host = host + ":" + port
	}
	u.Host = host
	return u.String()
}

func rewriteLoopback(host string) string {
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
