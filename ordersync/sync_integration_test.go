package ordersync_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/trackops_backend/config"
	"github.com/mmdatafocus/trackops_backend/models"
	"github.com/mmdatafocus/trackops_backend/ordersync"
	"github.com/mmdatafocus/trackops_backend/utils"
	"github.com/shopspring/decimal"
)

func TestSyncEngine_EndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "trackops_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	operationId := "op-integration-1"
	db := config.GetDB()
	if err := db.Create(&models.Operation{ID: operationId, Name: "Integration Co", Currency: "EUR"}).Error; err != nil {
		t.Fatalf("create operation: %v", err)
	}

	ctx := utils.SetOperationIdInContext(context.Background(), operationId)

	t.Run("idempotent upsert with monotonic status", func(t *testing.T) {
		record := ordersync.RawOrderRecord{
			Provider:      "shopify",
			Side:          models.ProviderSideCheckout,
			ExternalId:    "1001",
			Status:        "fulfilled",
			CustomerPhone: "+351912345678",
			Total:         decimal.NewFromInt(50),
			OrderDate:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			Items:         []ordersync.RawLineItem{{Sku: "abc123", Quantity: 1}},
		}

		first, err := ordersync.UpsertRecord(ctx, operationId, ordersync.MapRecord(record, operationId, "s1"))
		if err != nil {
			t.Fatalf("first upsert: %v", err)
		}
		if !first.Created {
			t.Fatalf("first upsert should create")
		}

		// Provider later echoes an older status; the row must not regress.
		record.Status = "paid"
		second, err := ordersync.UpsertRecord(ctx, operationId, ordersync.MapRecord(record, operationId, "s1"))
		if err != nil {
			t.Fatalf("second upsert: %v", err)
		}
		if second.Created || second.OrderId != first.OrderId {
			t.Fatalf("re-ingest created a duplicate: %+v vs %+v", first, second)
		}

		order, err := models.GetOrderByProviderOrderId(ctx, operationId, "1001")
		if err != nil || order == nil {
			t.Fatalf("load order: %v", err)
		}
		if order.Status != models.OrderStatusShipped {
			t.Fatalf("status regressed to %s", order.Status)
		}
	})

	t.Run("cost link recalculation with gating", func(t *testing.T) {
		if err := db.Create(&models.ProductCostLink{
			OperationId: operationId,
			Sku:         "abc123",
			CostPrice:   decimal.NewFromInt(7),
		}).Error; err != nil {
			t.Fatalf("create cost link: %v", err)
		}

		outcome, err := ordersync.RecalculateForSku(ctx, operationId, "abc123")
		if err != nil {
			t.Fatalf("recalculate: %v", err)
		}
		if outcome.Updated == 0 {
			t.Fatalf("no orders updated: %+v", outcome)
		}

		order, _ := models.GetOrderByProviderOrderId(ctx, operationId, "1001")
		if !order.ProductCost.Equal(decimal.NewFromInt(7)) {
			t.Fatalf("product cost %s, expected 7", order.ProductCost)
		}

		// Cancelled orders carry zero cost regardless of links.
		cancelled := ordersync.MapRecord(ordersync.RawOrderRecord{
			Provider:   "shopify",
			Side:       models.ProviderSideCheckout,
			ExternalId: "1002",
			Status:     "cancelled",
			Items:      []ordersync.RawLineItem{{Sku: "abc123", Quantity: 3}},
		}, operationId, "s1")
		if _, err := ordersync.UpsertRecord(ctx, operationId, cancelled); err != nil {
			t.Fatalf("upsert cancelled: %v", err)
		}
		row, _ := models.GetOrderByProviderOrderId(ctx, operationId, "1002")
		if !row.ProductCost.IsZero() {
			t.Fatalf("cancelled order has product cost %s", row.ProductCost)
		}

		// "abc" is a substring of the stored token "abc123" but not a token
		// itself; the pass must fall back to the whole operation instead of
		// updating nothing.
		if err := db.Create(&models.ProductCostLink{
			OperationId: operationId,
			Sku:         "abc",
			CostPrice:   decimal.NewFromInt(9),
		}).Error; err != nil {
			t.Fatalf("create cost link: %v", err)
		}
		fallback, err := ordersync.RecalculateForSku(ctx, operationId, "abc")
		if err != nil {
			t.Fatalf("recalculate substring sku: %v", err)
		}
		if fallback.Scanned < 2 {
			t.Fatalf("fallback scanned %d orders, expected the whole operation", fallback.Scanned)
		}
		order, _ = models.GetOrderByProviderOrderId(ctx, operationId, "1001")
		if !order.ProductCost.Equal(decimal.NewFromInt(7)) {
			t.Fatalf("product cost %s polluted by substring link", order.ProductCost)
		}
	})

	t.Run("matching by reference and merge", func(t *testing.T) {
		shipment := ordersync.MapRecord(ordersync.RawOrderRecord{
			Provider:       "fhb",
			Side:           models.ProviderSideFulfillment,
			ExternalId:     "FHB-1",
			Reference:      "1001",
			Status:         "transit",
			TrackingNumber: "TRK-1",
			OrderDate:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		}, operationId, "")
		if _, err := ordersync.UpsertRecord(ctx, operationId, shipment); err != nil {
			t.Fatalf("upsert shipment: %v", err)
		}

		outcome, err := ordersync.MatchOperation(ctx, operationId, nil)
		if err != nil {
			t.Fatalf("match: %v", err)
		}
		if outcome.Matched != 1 {
			t.Fatalf("matched %d, expected 1", outcome.Matched)
		}

		order, _ := models.GetOrderByProviderOrderId(ctx, operationId, "1001")
		if order.MatchState != models.MatchStateMatched {
			t.Fatalf("match state %s", order.MatchState)
		}
		if order.CarrierOrderId == nil || *order.CarrierOrderId != "FHB-1" {
			t.Fatalf("carrier order id not merged")
		}
		if order.TrackingNumber != "TRK-1" {
			t.Fatalf("tracking not merged")
		}
		if order.Status != models.OrderStatusInTransit {
			t.Fatalf("status %s, expected in_transit", order.Status)
		}
		if orphan, _ := models.GetOrderByCarrierOrderId(ctx, operationId, "FHB-1"); orphan == nil || orphan.ID != order.ID {
			t.Fatalf("fulfillment-only row not collapsed into checkout row")
		}
	})

	t.Run("ambiguous phone match goes to review", func(t *testing.T) {
		for _, id := range []string{"2001", "2002"} {
			record := ordersync.MapRecord(ordersync.RawOrderRecord{
				Provider:      "shopify",
				Side:          models.ProviderSideCheckout,
				ExternalId:    id,
				Status:        "paid",
				CustomerPhone: "+351933334444",
				Total:         decimal.NewFromInt(80),
				OrderDate:     time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC),
			}, operationId, "s1")
			if _, err := ordersync.UpsertRecord(ctx, operationId, record); err != nil {
				t.Fatalf("upsert %s: %v", id, err)
			}
		}
		shipment := ordersync.MapRecord(ordersync.RawOrderRecord{
			Provider:      "elogy",
			Side:          models.ProviderSideFulfillment,
			ExternalId:    "EL-1",
			CustomerPhone: "+351933334444",
			Total:         decimal.NewFromInt(80),
			Status:        "shipped",
			OrderDate:     time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
		}, operationId, "")
		if _, err := ordersync.UpsertRecord(ctx, operationId, shipment); err != nil {
			t.Fatalf("upsert shipment: %v", err)
		}

		outcome, err := ordersync.MatchOperation(ctx, operationId, nil)
		if err != nil {
			t.Fatalf("match: %v", err)
		}
		if outcome.Ambiguous != 1 {
			t.Fatalf("ambiguous %d, expected 1", outcome.Ambiguous)
		}
		row, _ := models.GetOrderByCarrierOrderId(ctx, operationId, "EL-1")
		if row == nil || row.MatchState != models.MatchStateReview {
			t.Fatalf("ambiguous shipment not flagged for review: %+v", row)
		}
	})

	t.Run("optimistic session updates survive racing writers", func(t *testing.T) {
		run := models.SyncRun{OperationId: operationId, Status: models.SyncRunStatusRunning, Mode: models.SyncModeFull}
		if err := db.Create(&run).Error; err != nil {
			t.Fatalf("create run: %v", err)
		}
		if _, err := ordersync.StartSession(ctx, run.ID, operationId); err != nil {
			t.Fatalf("start session: %v", err)
		}

		const writers = 8
		var wg sync.WaitGroup
		wg.Add(writers)
		for i := 0; i < writers; i++ {
			go func() {
				defer wg.Done()
				_, err := ordersync.UpdateSession(ctx, run.ID, func(s *models.SyncSession) {
					s.Phase = models.SyncPhaseSyncingPlatform
					s.PlatformProcessed++
				})
				if err != nil {
					t.Errorf("update session: %v", err)
				}
			}()
		}
		wg.Wait()

		var session models.SyncSession
		if err := db.Where("run_id = ?", run.ID).Take(&session).Error; err != nil {
			t.Fatalf("load session: %v", err)
		}
		if session.PlatformProcessed != writers {
			t.Fatalf("processed %d, expected %d (lost update)", session.PlatformProcessed, writers)
		}
		if session.Version < writers {
			t.Fatalf("version %d, expected at least %d", session.Version, writers)
		}
	})

	t.Run("same provider order id in two operations", func(t *testing.T) {
		otherOp := "op-integration-2"
		if err := db.Create(&models.Operation{ID: otherOp, Name: "Other Co", Currency: "EUR"}).Error; err != nil {
			t.Fatalf("create operation: %v", err)
		}
		otherCtx := utils.SetOperationIdInContext(context.Background(), otherOp)

		// External id 1001 already exists in the first operation.
		record := ordersync.RawOrderRecord{
			Provider:   "shopify",
			Side:       models.ProviderSideCheckout,
			ExternalId: "1001",
			Status:     "paid",
			Total:      decimal.NewFromInt(12),
			OrderDate:  time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
		}
		result, err := ordersync.UpsertRecord(otherCtx, otherOp, ordersync.MapRecord(record, otherOp, "s2"))
		if err != nil {
			t.Fatalf("upsert into second operation: %v", err)
		}
		if !result.Created {
			t.Fatalf("second operation's order was swallowed: %+v", result)
		}

		mine, _ := models.GetOrderByProviderOrderId(otherCtx, otherOp, "1001")
		theirs, _ := models.GetOrderByProviderOrderId(ctx, operationId, "1001")
		if mine == nil || theirs == nil {
			t.Fatalf("each operation must keep its own row")
		}
		if mine.ID == theirs.ID {
			t.Fatalf("primary key %q shared across operations", mine.ID)
		}
	})

	t.Run("run fails for operation without integrations", func(t *testing.T) {
		bareOp := "op-integration-bare"
		if err := db.Create(&models.Operation{ID: bareOp, Name: "Bare Co", Currency: "EUR"}).Error; err != nil {
			t.Fatalf("create operation: %v", err)
		}
		run := models.SyncRun{OperationId: bareOp, Status: models.SyncRunStatusQueued, Mode: models.SyncModeFull}
		if err := db.Create(&run).Error; err != nil {
			t.Fatalf("create run: %v", err)
		}

		bareCtx := utils.SetOperationIdInContext(context.Background(), bareOp)
		if err := ordersync.ProcessSyncRun(bareCtx, ordersync.SyncRunMessage{RunId: run.ID, OperationId: bareOp}); err != nil {
			t.Fatalf("process run: %v", err)
		}

		var reloaded models.SyncRun
		if err := db.Where("id = ?", run.ID).Take(&reloaded).Error; err != nil {
			t.Fatalf("reload run: %v", err)
		}
		if reloaded.Status != models.SyncRunStatusFailed {
			t.Fatalf("status %s, expected failed", reloaded.Status)
		}
		if !strings.Contains(reloaded.FatalError, "no connected integrations") {
			t.Fatalf("fatal error %q", reloaded.FatalError)
		}
	})

	t.Run("webhook and poll converge to one row", func(t *testing.T) {
		// Duplicate registration: the row with a webhook secret must win.
		noSecret := models.StoreIntegration{
			OperationId: operationId, Provider: "cartpanda", Side: models.ProviderSideCheckout,
			Status: models.IntegrationStatusConnected, StoreIdentifier: "panda-shop",
		}
		withSecret := models.StoreIntegration{
			OperationId: operationId, Provider: "cartpanda", Side: models.ProviderSideCheckout,
			Status: models.IntegrationStatusConnected, StoreIdentifier: "panda-shop",
			WebhookSecret: "whsec-1",
		}
		if err := db.Create(&noSecret).Error; err != nil {
			t.Fatalf("create integration: %v", err)
		}
		if err := db.Create(&withSecret).Error; err != nil {
			t.Fatalf("create integration: %v", err)
		}
		resolved, err := models.FindIntegrationByStoreIdentifier(context.Background(), "cartpanda", "panda-shop")
		if err != nil || resolved == nil {
			t.Fatalf("resolve integration: %v", err)
		}
		if resolved.ID != withSecret.ID {
			t.Fatalf("resolved integration %d, expected the one with a secret (%d)", resolved.ID, withSecret.ID)
		}

		body := []byte(`{"event":"order.updated","event_id":"evt-9001","order":` +
			`{"id":9001,"shop_slug":"panda-shop","status":"paid","total_price":30,` +
			`"customer":{"phone":"+351911112222"}}}`)
		mac := hmac.New(sha256.New, []byte("whsec-1"))
		mac.Write(body)
		headers := http.Header{}
		headers.Set("X-Cartpanda-Hmac-Sha256", base64.StdEncoding.EncodeToString(mac.Sum(nil)))

		result, err := ordersync.ProcessWebhook(context.Background(), "cartpanda", body, headers)
		if err != nil {
			t.Fatalf("process webhook: %v", err)
		}
		if result.OperationId != operationId || result.OrderId == "" {
			t.Fatalf("unexpected webhook result: %+v", result)
		}

		pushed, _ := models.GetOrderByProviderOrderId(ctx, operationId, "9001")
		if pushed == nil {
			t.Fatalf("webhook order not stored")
		}
		if pushed.MatchState != models.MatchStateUnmatched {
			t.Fatalf("checkout row match state %s, expected unmatched", pushed.MatchState)
		}

		// A later poll page carries the same order; it must merge, not fork.
		polled := ordersync.MapRecord(ordersync.RawOrderRecord{
			Provider:      "cartpanda",
			Side:          models.ProviderSideCheckout,
			ExternalId:    "9001",
			Status:        "paid",
			CustomerPhone: "+351911112222",
			Total:         decimal.NewFromInt(30),
			OrderDate:     time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC),
		}, operationId, "panda-shop")
		second, err := ordersync.UpsertRecord(ctx, operationId, polled)
		if err != nil {
			t.Fatalf("poll upsert: %v", err)
		}
		if second.Created || second.OrderId != result.OrderId {
			t.Fatalf("poll forked a second row: %+v vs webhook %q", second, result.OrderId)
		}

		// Exact redelivery dedupes on the event id.
		redelivered, err := ordersync.ProcessWebhook(context.Background(), "cartpanda", body, headers)
		if err != nil {
			t.Fatalf("redelivered webhook: %v", err)
		}
		if !redelivered.Duplicate {
			t.Fatalf("redelivery not detected as duplicate")
		}
	})
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("trackops-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("trackops-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=trackops_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
