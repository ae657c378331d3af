//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/acai-shop/api/internal/domain"
	pconfig "github.com/acai-shop/api/internal/platform/config"
	pfirestore "github.com/acai-shop/api/internal/platform/firestore"
	"github.com/acai-shop/api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestSequenceRepositoryIntegration(t *testing.T) {
	store := newEmulatorStore(t, "sequence-test")
	repo := store.Sequences()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := repo.Next(ctx, repositories.SequenceOrders)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		if val != int64(i+1) {
			t.Fatalf("expected id %d at position %d, got %d", i+1, i, val)
		}
	}

	last, limit := int64(1000), int64(1001)
	if err := repo.Configure(ctx, repositories.SequenceDeliverers, repositories.SequenceConfig{Last: &last, Limit: &limit}); err != nil {
		t.Fatalf("configure sequence: %v", err)
	}
	if value, err := repo.Next(ctx, repositories.SequenceDeliverers); err != nil || value != 1001 {
		t.Fatalf("expected seeded id 1001, got %d (err=%v)", value, err)
	}
	var seqErr *repositories.SequenceError
	_, err := repo.Next(ctx, repositories.SequenceDeliverers)
	if !errors.As(err, &seqErr) || seqErr.Failure != repositories.SequenceExhausted || !seqErr.IsUnavailable() {
		t.Fatalf("expected exhausted sequence error, got %v", err)
	}
}

func TestOrderRepositoryIntegration(t *testing.T) {
	store := newEmulatorStore(t, "orders-test")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	orders := store.Orders()
	created, err := orders.Insert(ctx, domain.Order{
		UserID:        7,
		Status:        domain.OrderStatusPendingPayment,
		DeliveryType:  domain.DeliveryTypePickup,
		PaymentMethod: domain.PaymentMethodPix,
		TotalPrice:    decimal.RequireFromString("20.00"),
		DeliveryFee:   decimal.Zero,
		Items: []domain.OrderItem{{
			ID:           1,
			ProductID:    4,
			Quantity:     2,
			PriceAtOrder: decimal.RequireFromString("10.00"),
		}},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if created.ID != 1 {
		t.Fatalf("expected first order id 1, got %d", created.ID)
	}

	loaded, err := orders.FindByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !loaded.TotalPrice.Equal(decimal.RequireFromString("20")) || len(loaded.Items) != 1 {
		t.Fatalf("unexpected order %+v", loaded)
	}
	if loaded.LastItemID != 1 {
		t.Fatalf("expected lastItemId 1, got %d", loaded.LastItemID)
	}

	loaded.Status = domain.OrderStatusBeingPrepared
	if err := orders.Update(ctx, loaded, domain.OrderStatusPendingPayment); err != nil {
		t.Fatalf("update: %v", err)
	}
	err = orders.Update(ctx, loaded, domain.OrderStatusPendingPayment)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on stale status, got %v", err)
	}

	err = store.RunInTx(ctx, func(ctx context.Context) error {
		order, err := orders.FindByID(ctx, created.ID)
		if err != nil {
			return err
		}
		order.Status = domain.OrderStatusReadyForPickup
		if err := orders.Update(ctx, order, domain.OrderStatusBeingPrepared); err != nil {
			return err
		}
		return orders.AppendStatusChange(ctx, domain.StatusChange{
			OrderID:    order.ID,
			From:       domain.OrderStatusBeingPrepared,
			To:         domain.OrderStatusReadyForPickup,
			ActorID:    "user:1",
			OccurredAt: time.Now(),
		})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	history, err := orders.ListStatusChanges(ctx, created.ID)
	if err != nil || len(history) != 1 || history[0].To != domain.OrderStatusReadyForPickup {
		t.Fatalf("unexpected history %+v (err=%v)", history, err)
	}
}

func TestDelivererPhoneUniquenessIntegration(t *testing.T) {
	store := newEmulatorStore(t, "deliverers-test")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	deliverers := store.Deliverers()
	first, err := deliverers.Insert(ctx, domain.Deliverer{Name: "Ana", Phone: "11999990000", IsActive: true})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = deliverers.Insert(ctx, domain.Deliverer{Name: "Bia", Phone: "11999990000", IsActive: true})
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected duplicate phone conflict, got %v", err)
	}

	first.Phone = "11888880000"
	if err := deliverers.Update(ctx, first); err != nil {
		t.Fatalf("update phone: %v", err)
	}
	if found, err := deliverers.FindByPhone(ctx, "11888880000"); err != nil || found.ID != first.ID {
		t.Fatalf("expected lookup by new phone, got %+v (err=%v)", found, err)
	}
	if _, err := deliverers.Insert(ctx, domain.Deliverer{Name: "Bia", Phone: "11999990000", IsActive: true}); err != nil {
		t.Fatalf("expected released phone to be reusable: %v", err)
	}
}

func newEmulatorStore(t *testing.T, projectID string) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint})
	store, err := NewStore(provider)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skipf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond); err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
