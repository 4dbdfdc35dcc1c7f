package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "relay", "worker", "migrate", "inspect", "token"})
}

func TestTokenSession(t *testing.T) {
	t.Setenv("SESSION_SECRET", "cli-secret")

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "session", "user-7", "--email", "u7@example.com"})
	require.NoError(t, root.Execute())

	raw := strings.TrimSpace(out.String())
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte("cli-secret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims["sub"])
	assert.Equal(t, "u7@example.com", claims["email"])
}

func TestTokenWorkerRequiresKey(t *testing.T) {
	t.Setenv("WORKER_SIGNING_KEY", "")

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"token", "worker"})
	assert.ErrorContains(t, root.Execute(), "WORKER_SIGNING_KEY")
}
