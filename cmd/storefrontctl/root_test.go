package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "storefront.yaml")
	cfg := "store:\n  type: sqlite\n  file_path: " + filepath.Join(dir, "shop.db") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, args ...string) (storefront.AccessResult, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()

	var res storefront.AccessResult
	if err == nil && bytes.HasPrefix(bytes.TrimSpace(stdout.Bytes()), []byte("{")) {
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	}
	return res, stdout.String() + stderr.String(), err
}

func TestCreateFetchUpdate(t *testing.T) {
	cfg := writeConfig(t)

	_, out, err := run(t, "--config", cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema at version 1")

	created, _, err := run(t, "--config", cfg, "create", "Product",
		"name=Oak Chair", "price=4500", "category=cat-1", "stock=3")
	require.NoError(t, err)
	require.NotNil(t, created.Entity)
	assert.Equal(t, storefront.SourcePrimary, created.Source)
	assert.Equal(t, "oak-chair", created.Entity.Slug)

	fetched, _, err := run(t, "--config", cfg, "fetch-slug", "Product", "oak-chair")
	require.NoError(t, err)
	assert.Equal(t, created.Entity.ID, fetched.Entity.ID)

	updated, _, err := run(t, "--config", cfg, "update", "Product", created.Entity.ID,
		"--fields", `{"price": 3900}`, "--expected-version", "1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Entity.Version)
	assert.Equal(t, 3900.0, updated.Entity.Fields["price"])

	_, _, err = run(t, "--config", cfg, "update", "Product", created.Entity.ID,
		"price=100", "--expected-version", "1")
	require.Error(t, err)
	assert.True(t, storefront.IsFailureKind(err, storefront.FailureConflict))
}

func TestListWithWhere(t *testing.T) {
	cfg := writeConfig(t)

	for _, method := range []string{"upi", "cod"} {
		_, _, err := run(t, "--config", cfg, "create", "Order",
			"paymentMethod="+method, "totalPrice=4500")
		require.NoError(t, err)
	}

	res, _, err := run(t, "--config", cfg, "list", "Order", "--where", "paymentMethod=upi")
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "upi", res.Entities[0].Fields["paymentMethod"])

	derived, _, err := run(t, "--config", cfg, "list", "PaymentRequest")
	require.NoError(t, err)
	assert.Len(t, derived.Entities, 1)
}

func TestBadInput(t *testing.T) {
	cfg := writeConfig(t)

	_, _, err := run(t, "--config", cfg, "create", "Product", "price")
	assert.ErrorContains(t, err, "want name=value")

	_, _, err = run(t, "--config", cfg, "create", "Product", "--fields", "{")
	assert.ErrorContains(t, err, "invalid --fields")

	_, _, err = run(t, "--config", cfg, "list", "Order", "--where", "upi")
	assert.ErrorContains(t, err, "want field=value")

	_, _, err = run(t, "--config", cfg, "create", "Widget", "name=x")
	assert.True(t, storefront.IsFailureKind(err, storefront.FailureValidation))
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, 4500.0, parseValue("4500"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, "upi", parseValue("upi"))
}
