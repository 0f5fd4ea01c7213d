package azure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	vfs "github.com/os-js/OS.js-sub002"
)

func init() {
	vfs.RegisterTransport("azure", createTransport)
}

// createTransport builds an Azure transport from a connection string or
// from an account name and key. Mount table options "container",
// "prefix", "connectionString", "accountName", "accountKey", "endpoint" and
// "urlExpiry" override the environment config.
func createTransport(_ context.Context, mc vfs.MountConfig, cfg *vfs.Config) (vfs.Transport, error) {
	containerName := mc.Option("container", cfg.AzureContainer)
	if containerName == "" {
		return nil, fmt.Errorf("%w: azure transport needs a container", vfs.ErrInvalidArgument)
	}

	client, err := newContainerClient(mc, cfg, containerName)
	if err != nil {
		return nil, err
	}

	var opts []AdapterOption
	if prefix := mc.Option("prefix", cfg.AzurePrefix); prefix != "" {
		opts = append(opts, WithPrefix(prefix))
	}
	if s := mc.Option("urlExpiry", ""); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("%w: urlExpiry %q: %w", vfs.ErrInvalidArgument, s, err)
		}
		opts = append(opts, WithURLExpiry(d))
	}
	return New(client, opts...), nil
}

func newContainerClient(mc vfs.MountConfig, cfg *vfs.Config, containerName string) (*container.Client, error) {
	if cs := mc.Option("connectionString", cfg.AzureConnectionString); cs != "" {
		client, err := container.NewClientFromConnectionString(cs, containerName, nil)
		if err != nil {
			return nil, fmt.Errorf("create azure client: %w", err)
		}
		return client, nil
	}

	account := mc.Option("accountName", cfg.AzureAccountName)
	key := mc.Option("accountKey", cfg.AzureAccountKey)
	if account == "" || key == "" {
		return nil, fmt.Errorf("%w: azure transport needs a connection string or an account name and key", vfs.ErrInvalidArgument)
	}
	cred, err := container.NewSharedKeyCredential(account, key)
	if err != nil {
		return nil, fmt.Errorf("create azure credential: %w", err)
	}

	endpoint := mc.Option("endpoint", cfg.AzureEndpoint)
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	}
	containerURL := strings.TrimSuffix(endpoint, "/") + "/" + containerName
	client, err := container.NewClientWithSharedKeyCredential(containerURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure client: %w", err)
	}
	return client, nil
}
