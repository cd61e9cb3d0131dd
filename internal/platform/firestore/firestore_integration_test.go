//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/pawmart/api/internal/platform/config"
	pfirestore "github.com/pawmart/api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type couponDoc struct {
	Code        string `firestore:"code"`
	Redemptions int    `firestore:"redemptions"`
}

// emulator manages a dockerised Firestore emulator for the duration of a test.
type emulator struct {
	endpoint    string
	containerID string
}

func startEmulator(t *testing.T) *emulator {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	daemonCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(daemonCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	port := freePort(t)
	out, err := exec.Command("docker",
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}

	em := &emulator{endpoint: fmt.Sprintf("127.0.0.1:%d", port), containerID: id}
	t.Cleanup(em.stop)
	em.awaitReady(t, 30*time.Second)
	return em
}

func (e *emulator) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", e.containerID).Run()
}

func (e *emulator) awaitReady(t *testing.T, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", e.endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}

func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func mustGetCoupon(t *testing.T, ctx context.Context, repo *pfirestore.BaseRepository[couponDoc], id string) pfirestore.Document[couponDoc] {
	t.Helper()

	doc, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return doc
}

func TestProviderAndRepositoryIntegration(t *testing.T) {
	em := startEmulator(t)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "test-project",
		EmulatorHost: em.endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("expected firestore client, got error: %v", err)
	}
	if client == nil {
		t.Fatalf("provider returned nil client")
	}

	repo := pfirestore.NewBaseRepository[couponDoc](provider, "coupons")

	if _, err := repo.Set(ctx, "SAVE10", couponDoc{Code: "SAVE10", Redemptions: 1}); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	doc := mustGetCoupon(t, ctx, repo, "SAVE10")
	if doc.ID != "SAVE10" {
		t.Fatalf("expected id SAVE10, got %s", doc.ID)
	}
	if doc.Data.Code != "SAVE10" || doc.Data.Redemptions != 1 {
		t.Fatalf("unexpected data: %#v", doc.Data)
	}
	if doc.UpdateTime.IsZero() {
		t.Fatalf("expected update time to be set")
	}

	if _, err := repo.Update(ctx, "SAVE10", []firestore.Update{{Path: "redemptions", Value: 2}}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if doc = mustGetCoupon(t, ctx, repo, "SAVE10"); doc.Data.Redemptions != 2 {
		t.Fatalf("expected redemptions=2, got %d", doc.Data.Redemptions)
	}

	docs, err := repo.Query(ctx, nil)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	_, err = repo.Get(ctx, "missing")
	if err == nil {
		t.Fatalf("expected not found error")
	}
	var cls interface{ IsNotFound() bool }
	if !errors.As(err, &cls) {
		t.Fatalf("expected repository error, got %v", err)
	}
	if !cls.IsNotFound() {
		t.Fatalf("expected not found classification")
	}

	if err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, "SAVE10")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var coupon couponDoc
		if err := snap.DataTo(&coupon); err != nil {
			return err
		}
		coupon.Redemptions++
		return tx.Set(ref, coupon)
	}); err != nil {
		t.Fatalf("transaction failed: %v", err)
	}
	if doc = mustGetCoupon(t, ctx, repo, "SAVE10"); doc.Data.Redemptions != 3 {
		t.Fatalf("expected redemptions=3 after txn, got %d", doc.Data.Redemptions)
	}

	canceledCtx, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	if err := provider.RunTransaction(canceledCtx, func(context.Context, *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}
