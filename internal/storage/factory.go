// Package storage builds the configured ports.StorageProvider.
package storage

import (
	"context"
	"fmt"

	"montage/internal/adapters/storage/gdrive"
	"montage/internal/adapters/storage/localfs"
	"montage/internal/config"
	"montage/internal/ports"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// Provider aliases ports.StorageProvider to keep call sites short.
type Provider = ports.StorageProvider

// NewProvider builds the provider cfg names. The gdrive provider
// authenticates with the offline refresh token from cmd/gdrive-auth.
func NewProvider(cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "localfs":
		return localfs.New(cfg.LocalRoot), nil

	case "gdrive":
		return newGDriveProvider(cfg.GDrive)

	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

func newGDriveProvider(cfg config.GDriveConfig) (Provider, error) {
	ctx := context.Background()

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}

	tok := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	httpClient := conf.Client(ctx, tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}

	return gdrive.NewClient(srv, cfg.FolderID), nil
}
