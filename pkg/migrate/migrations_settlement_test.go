package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tickettoken/settlement/pkg/migrate"
)

func TestMigrationDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestTransactionsMigrationContainsConstraints(t *testing.T) {
	assertMigrationContains(t, "*_create_transactions.sql", []string{
		"CREATE TABLE IF NOT EXISTS transactions",
		"CHECK (amount_cents >= 0)",
		"total_cents = amount_cents + platform_fee_cents + gas_fee_cents_paid + tax_cents",
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_idempotency",
		"ON transactions (idempotency_key, tenant_id)",
		"WHERE provider_payment_id IS NOT NULL",
		"DROP TABLE IF EXISTS transactions",
	})
}

func TestRefundsMigrationContainsConstraints(t *testing.T) {
	assertMigrationContains(t, "*_create_refunds.sql", []string{
		"CREATE TABLE IF NOT EXISTS refunds",
		"FOREIGN KEY (transaction_id) REFERENCES transactions(id)",
		"CHECK (amount_cents > 0)",
		"metadata jsonb NOT NULL DEFAULT '{}'::jsonb",
	})
}

func TestBalancesAndInboxMigrationsContainUniqueKeys(t *testing.T) {
	assertMigrationContains(t, "*_create_venue_balances.sql", []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_venue_balances_bucket",
		"ON venue_balances (venue_id, balance_type)",
		"CREATE TABLE IF NOT EXISTS venue_profiles",
	})
	assertMigrationContains(t, "*_create_webhook_inbox.sql", []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_webhook_inbox_event",
		"ON webhook_inbox (provider, event_id)",
		"retry_count integer NOT NULL DEFAULT 0",
	})
}

func assertMigrationContains(t *testing.T, pattern string, checks []string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration file matching %s", pattern)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
