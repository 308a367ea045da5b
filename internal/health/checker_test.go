package health

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/mediafire/mfsfs/internal/catalog"
	"github.com/mediafire/mfsfs/internal/remote"
)

func TestRegisterAndRunCheck(t *testing.T) {
	t.Parallel()

	checker, err := NewChecker(&Config{Enabled: true, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}

	if err := checker.RegisterCheck("ok", "always succeeds", CategoryCore, PriorityHigh, func(ctx context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("RegisterCheck() error = %v", err)
	}

	if err := checker.RegisterCheck("ok", "dup", CategoryCore, PriorityHigh, func(ctx context.Context) error {
		return nil
	}); err == nil {
		t.Fatal("expected error registering duplicate check name")
	}

	result, err := checker.RunCheck(context.Background(), "ok")
	if err != nil {
		t.Fatalf("RunCheck() error = %v", err)
	}
	if result.Status != StatusHealthy {
		t.Errorf("status = %v, want healthy", result.Status)
	}

	if _, err := checker.RunCheck(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown check")
	}
}

func TestRunAllChecksAggregatesStatus(t *testing.T) {
	t.Parallel()

	checker, err := NewChecker(&Config{Enabled: true, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}

	_ = checker.RegisterCheck("good", "", CategoryCore, PriorityLow, func(ctx context.Context) error { return nil })
	_ = checker.RegisterCheck("bad", "", CategoryCore, PriorityCritical, func(ctx context.Context) error {
		return errors.New("boom")
	})

	results, err := checker.RunAllChecks(context.Background())
	if err != nil {
		t.Fatalf("RunAllChecks() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	if checker.IsHealthy() {
		t.Error("expected unhealthy status from a critical failure")
	}

	stats := checker.GetStats()
	if stats.UnhealthyChecks != 1 || stats.HealthyChecks != 1 {
		t.Errorf("stats = %+v, want 1 healthy, 1 unhealthy", stats)
	}
	if stats.OverallStatus != StatusUnhealthy {
		t.Errorf("overall status = %v, want unhealthy", stats.OverallStatus)
	}
}

func TestStagingDirWritableCheck(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	check := StagingDirWritableCheck(dir)
	if err := check(context.Background()); err != nil {
		t.Errorf("check() error = %v, want nil for writable dir", err)
	}

	missing := StagingDirWritableCheck("/nonexistent/path/for/health/check")
	if err := missing(context.Background()); err == nil {
		t.Error("expected error for nonexistent staging directory")
	}
}

func TestCatalogStalenessCheck(t *testing.T) {
	t.Parallel()

	client := &stubClient{}
	tree := catalog.NewFolderTree(client, catalog.TreeConfig{})
	if err := tree.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	check := CatalogStalenessCheck(tree, time.Hour)
	if err := check(context.Background()); err != nil {
		t.Errorf("check() error = %v, want nil for fresh catalog", err)
	}

	stale := CatalogStalenessCheck(tree, -time.Second)
	if err := stale(context.Background()); err == nil {
		t.Error("expected staleness error with a negative max age")
	}
}

func TestRemoteReachabilityCheck(t *testing.T) {
	t.Parallel()

	ok := RemoteReachabilityCheck(&stubClient{})
	if err := ok(context.Background()); err != nil {
		t.Errorf("check() error = %v, want nil", err)
	}

	failing := RemoteReachabilityCheck(&stubClient{accountErr: errors.New("unreachable")})
	if err := failing(context.Background()); err == nil {
		t.Error("expected error from failing client")
	}
}

func TestStopWithoutStartReturnsError(t *testing.T) {
	t.Parallel()

	checker, err := NewChecker(&Config{Enabled: true})
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}
	if err := checker.Stop(); err == nil {
		t.Error("expected error stopping a checker that was never started")
	}
}

// stubClient is a minimal remote.Client satisfying health-check dependencies.
type stubClient struct {
	accountErr error
}

func (s *stubClient) AccountID(ctx context.Context) (string, error) {
	if s.accountErr != nil {
		return "", s.accountErr
	}
	return "acct", nil
}
func (s *stubClient) FolderCreate(ctx context.Context, parentKey, name string) error { return nil }
func (s *stubClient) FolderDelete(ctx context.Context, key string) error             { return nil }
func (s *stubClient) FileDelete(ctx context.Context, key string) error               { return nil }
func (s *stubClient) DeviceChanges(ctx context.Context, sinceRevision int64) (*remote.Journal, error) {
	return &remote.Journal{NewRevision: sinceRevision}, nil
}
func (s *stubClient) FolderGetContent(ctx context.Context, key string) ([]remote.FolderInfo, []remote.FileInfo, error) {
	return nil, nil, nil
}
func (s *stubClient) FileGetInfo(ctx context.Context, key string) (*remote.FileInfo, error) {
	return nil, os.ErrNotExist
}
func (s *stubClient) Download(ctx context.Context, url string, dst io.WriterAt) error {
	return nil
}
func (s *stubClient) UploadSimple(ctx context.Context, parentKey string, src io.Reader, name string) (string, error) {
	return "", nil
}
func (s *stubClient) UploadPatch(ctx context.Context, existingFileKey string, src io.Reader) (string, error) {
	return "", nil
}
func (s *stubClient) UploadPoll(ctx context.Context, uploadKey string) (*remote.UploadStatus, error) {
	return nil, nil
}
