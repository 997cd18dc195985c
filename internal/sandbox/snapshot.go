package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"golang.org/x/sync/errgroup"
)

// SnapshotFetcher downloads package store snapshots published under
// <base>/snapshots/<name>.
type SnapshotFetcher struct {
	base   string
	client *http.Client
	logger logging.Logger
}

// NewSnapshotFetcher returns a fetcher for base. A nil client uses
// http.DefaultClient.
func NewSnapshotFetcher(base string, client *http.Client, logger logging.Logger) *SnapshotFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &SnapshotFetcher{
		base:   strings.TrimRight(base, "/"),
		client: client,
		logger: logger.WithComponent("snapshots"),
	}
}

// URL returns the location of the named snapshot.
func (f *SnapshotFetcher) URL(name string) string {
	return f.base + "/snapshots/" + url.PathEscape(name)
}

// Fetch downloads one snapshot and extracts it into dir.
func (f *SnapshotFetcher) Fetch(ctx context.Context, gw Gateway, name, dir string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(name), nil)
	if err != nil {
		return errors.NewNetworkError("building snapshot request", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return errors.NewNetworkError(fmt.Sprintf("fetching snapshot %s", name), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewNetworkError(
			fmt.Sprintf("fetching snapshot %s", name),
			fmt.Errorf("unexpected status %s", resp.Status),
		)
	}

	if err := gw.MountArchive(ctx, resp.Body, dir); err != nil {
		return err
	}
	f.logger.Debug(ctx, "Mounted snapshot", "snapshot", name, "dir", dir)
	return nil
}

// MountSnapshots creates dir and extracts every snapshot into it
// concurrently. The first failure cancels the rest.
func (f *SnapshotFetcher) MountSnapshots(ctx context.Context, gw Gateway, snapshots []string, dir string) error {
	if len(snapshots) == 0 {
		return nil
	}
	if err := gw.MakeDirectoryAll(ctx, dir); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(len(snapshots))
	for _, name := range snapshots {
		g.Go(func() error {
			return f.Fetch(ctx, gw, name, dir)
		})
	}
	return g.Wait()
}
