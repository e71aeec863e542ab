// Package appid resolves the application identity used for config paths,
// environment prefixes and version output.
package appid

import (
	"context"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"
)

const (
	BinaryName  = "mailsched"
	EnvPrefix   = "MAILSCHED_"
	Description = "Schedule-send interception engine and scheduler backend"
)

// Default returns the built-in identity.
func Default() *appidentity.Identity {
	return &appidentity.Identity{
		Vendor:      "mailsched",
		BinaryName:  BinaryName,
		ConfigName:  BinaryName,
		EnvPrefix:   EnvPrefix,
		Description: Description,
	}
}

// Get returns the identity file named by FULMEN_APP_IDENTITY_PATH when set,
// otherwise the built-in identity.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	if strings.TrimSpace(os.Getenv(appidentity.EnvIdentityPath)) == "" {
		return Default(), nil
	}
	return appidentity.Get(ctx)
}
