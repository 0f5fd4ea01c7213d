package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	vfs "github.com/os-js/OS.js-sub002"
	"github.com/os-js/OS.js-sub002/internal/logging"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

func init() {
	vfs.RegisterTransport("gdrive", createTransport)
}

// createTransport builds a Drive transport. With a token file the
// credentials file is an OAuth client secret and the token is the user's
// grant; without one it is a service account key. The "graphExpiry" mount
// option overrides DefaultGraphExpiry.
func createTransport(ctx context.Context, mc vfs.MountConfig, cfg *vfs.Config) (vfs.Transport, error) {
	credentialsFile := mc.Option("credentialsFile", cfg.GDriveCredentialsFile)
	if credentialsFile == "" {
		return nil, fmt.Errorf("%w: google-drive transport needs a credentials file", vfs.ErrInvalidArgument)
	}
	tokenFile := mc.Option("tokenFile", cfg.GDriveTokenFile)

	clientOpt, err := clientOption(ctx, credentialsFile, tokenFile)
	if err != nil {
		return nil, err
	}
	srv, err := drive.NewService(ctx, clientOpt)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	opts := []AdapterOption{WithLogger(logging.FromContext(ctx, nil))}
	if s := mc.Option("graphExpiry", ""); s != "" {
		idle, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("%w: graphExpiry %q: %w", vfs.ErrInvalidArgument, s, err)
		}
		opts = append(opts, WithGraphExpiry(idle))
	}
	return New(NewAPI(srv), opts...), nil
}

func clientOption(ctx context.Context, credentialsFile, tokenFile string) (option.ClientOption, error) {
	secret, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read drive credentials: %w", err)
	}

	if tokenFile == "" {
		creds, err := google.CredentialsFromJSON(ctx, secret, drive.DriveScope)
		if err != nil {
			return nil, fmt.Errorf("parse drive credentials: %w", err)
		}
		return option.WithCredentials(creds), nil
	}

	conf, err := google.ConfigFromJSON(secret, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("parse drive client secret: %w", err)
	}
	raw, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("read drive token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("parse drive token: %w", err)
	}
	return option.WithHTTPClient(conf.Client(ctx, &tok)), nil
}
