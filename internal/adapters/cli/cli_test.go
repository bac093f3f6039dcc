package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cardops/internal/app"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"ingest", "add", "stock", "history", "reconcile", "prices", "seed", "migrate", "schema", "serve"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "stock")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSchemaSummary(t *testing.T) {
	out, err := execute(t, "schema", "summary")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "rejected_by_stage")
	cost, ok := props["total_cost"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", cost["type"])
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// useSQLite points the configuration at a fresh database in dir.
func useSQLite(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("CARDOPS_CONFIG", "")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "cardops.db"))
	t.Setenv("REDIS_ADDRESS", "")
	t.Setenv("SHOPIFY_SHOP_URL", "")
	t.Setenv("SHOPIFY_ACCESS_TOKEN", "")
	t.Setenv("LOG_LEVEL", "error")
}

func writeFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func stockTotal(t *testing.T) *app.StockResult {
	t.Helper()
	out, err := execute(t, "--format", "json", "stock")
	require.NoError(t, err)
	var res app.StockResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	return &res
}

func TestIngestAndResubmitFailedRows(t *testing.T) {
	dir := t.TempDir()
	useSQLite(t, dir)

	catalog := filepath.Join(dir, "catalog.csv")
	writeFile(t, catalog,
		"name,set_code,number,market_ref,condition,sku,external_id,price_cad",
		"Charizard VMAX,swsh1,142,swsh1-142,NM,SWSH1-142-NM,,95.00",
	)
	_, err := execute(t, "seed", catalog)
	require.NoError(t, err)

	upload := filepath.Join(dir, "upload.csv")
	writeFile(t, upload,
		"card_name,set_code,card_number,condition,quantity,unit_cost,source,notes",
		"Charizard VMAX,swsh1,142,NM,2,80.00,buylist,",
		"Charizard VMAX,swsh1,142,NM,0,80.00,buylist,",
		"Mewtwo,swsh1,72,NM,1,3.00,trade,shelf 2",
	)
	out, err := execute(t, "ingest", upload)
	require.NoError(t, err)
	assert.Contains(t, out, "1 validation error(s)")
	assert.Contains(t, out, "1 failed row(s)")

	errorsFile, err := os.ReadFile(filepath.Join(dir, "errors_upload.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(errorsFile), "error_reason")
	assert.Contains(t, string(errorsFile), "quantity must be > 0")

	failedPath := filepath.Join(dir, "failed_upload.csv")
	failed, err := os.ReadFile(failedPath)
	require.NoError(t, err)
	assert.Equal(t,
		"card_name,set_code,card_number,condition,quantity,unit_cost,source,notes\nMewtwo,swsh1,72,NM,1,3.00,trade,shelf 2\n",
		string(failed))

	res := stockTotal(t)
	require.Len(t, res.Levels, 1)
	assert.Equal(t, int64(2), res.TotalUnits)
	assert.True(t, res.Levels[0].CostBasisAvg.Equal(decimal.NewFromInt(80)))

	// The missing card is added upstream, then only the failed rows go in again.
	writeFile(t, catalog,
		"name,set_code,number,market_ref,condition,sku,external_id,price_cad",
		"Mewtwo,swsh1,72,swsh1-72,NM,SWSH1-72-NM,,4.00",
	)
	_, err = execute(t, "seed", catalog)
	require.NoError(t, err)
	_, err = execute(t, "ingest", "--failed-out", filepath.Join(dir, "failed_again.csv"), failedPath)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "failed_again.csv"))
	assert.True(t, os.IsNotExist(err))

	res = stockTotal(t)
	assert.Equal(t, int64(3), res.TotalUnits)

	out, err = execute(t, "--format", "json", "history", "1")
	require.NoError(t, err)
	var hist app.HistoryResult
	require.NoError(t, json.Unmarshal([]byte(out), &hist))
	assert.Len(t, hist.Transactions, 1, "charizard must not be recorded twice")
}

func TestIngestCleanRerunRemovesOldArtifacts(t *testing.T) {
	dir := t.TempDir()
	useSQLite(t, dir)

	catalog := filepath.Join(dir, "catalog.csv")
	writeFile(t, catalog,
		"name,set_code,number,market_ref,condition,sku,external_id,price_cad",
		"Charizard VMAX,swsh1,142,swsh1-142,NM,SWSH1-142-NM,,95.00",
	)
	_, err := execute(t, "seed", catalog)
	require.NoError(t, err)

	upload := filepath.Join(dir, "upload.csv")
	writeFile(t, upload,
		"card_name,set_code,card_number,condition,quantity,unit_cost,source,notes",
		"Charizard VMAX,swsh1,142,NM,0,80.00,buylist,",
		"Mewtwo,swsh1,72,NM,1,3.00,trade,",
	)
	_, err = execute(t, "ingest", upload)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "errors_upload.csv"))
	require.FileExists(t, filepath.Join(dir, "failed_upload.csv"))

	writeFile(t, upload,
		"card_name,set_code,card_number,condition,quantity,unit_cost,source,notes",
		"Charizard VMAX,swsh1,142,NM,1,80.00,buylist,",
	)
	out, err := execute(t, "ingest", upload)
	require.NoError(t, err)
	assert.NotContains(t, out, "failed row(s)")
	assert.NoFileExists(t, filepath.Join(dir, "errors_upload.csv"))
	assert.NoFileExists(t, filepath.Join(dir, "failed_upload.csv"))
}

func TestAddRejected(t *testing.T) {
	dir := t.TempDir()
	useSQLite(t, dir)

	out, err := execute(t, "add", "--name", "Pikachu", "--set", "swsh1", "--number", "25",
		"--condition", "Near Mint", "--qty", "1", "--cost", "1.00", "--source", "buylist")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `did you mean "NM"?`)
}

func TestHistoryUnknownVariant(t *testing.T) {
	dir := t.TempDir()
	useSQLite(t, dir)

	_, err := execute(t, "history", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
