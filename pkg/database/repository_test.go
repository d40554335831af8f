// Copyright 2025 Archive Origin
//
// Integration tests for the repository layer. Skipped unless
// ARCHIVEORIGIN_TEST_DB points at a live, migrated Postgres instance.

package database

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	connStr := os.Getenv("ARCHIVEORIGIN_TEST_DB")
	if connStr == "" {
		os.Exit(0)
	}

	var err error
	testDB, err = sql.Open("postgres", connStr)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}

	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	if testDB == nil {
		t.Skip("test database not configured")
	}
	return &Client{db: testDB}
}

func TestTokenRepository_UpsertAndGet(t *testing.T) {
	client := newTestClient(t)
	repo := NewTokenRepository(client)
	ctx := context.Background()

	deviceID := "device-" + uuid.New().String()
	now := time.Now().UTC().Truncate(time.Second)
	token := &DeviceToken{
		DeviceID:  deviceID,
		Token:     "tok-" + uuid.New().String(),
		PublicKey: "ed25519:AAAA",
		IssuedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
	}

	if err := repo.Upsert(ctx, token); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := repo.Get(ctx, deviceID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Token != token.Token {
		t.Errorf("token = %s, want %s", got.Token, token.Token)
	}
}

func TestTokenRepository_GetMissing(t *testing.T) {
	client := newTestClient(t)
	repo := NewTokenRepository(client)

	_, err := repo.Get(context.Background(), "nonexistent-"+uuid.New().String())
	if err != ErrDeviceTokenNotFound {
		t.Errorf("err = %v, want ErrDeviceTokenNotFound", err)
	}
}

func TestCaptureRepository_CreateAndListUnsealed(t *testing.T) {
	client := newTestClient(t)
	repo := NewCaptureRepository(client)
	ctx := context.Background()

	rec := &CaptureRecord{
		RecordID:       uuid.New().String(),
		Shortcode:      "ABC123",
		VerifyURL:      "https://verify.example/v/" + uuid.New().String(),
		AssetHash:      "sha256:" + stringsRepeat("a", 64),
		CaptureTimeUTC: time.Now().UTC().Truncate(time.Second),
		DeviceID:       "device-1",
		DevicePubkey:   "ed25519:AAAA",
		Signature:      "ed25519_sig:AAAA",
	}

	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	tx, err := client.BeginTx(ctx)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()

	unsealed, err := repo.ListUnsealed(ctx, tx)
	if err != nil {
		t.Fatalf("list unsealed: %v", err)
	}

	found := false
	for _, u := range unsealed {
		if u.RecordID == rec.RecordID {
			found = true
		}
	}
	if !found {
		t.Error("expected newly created record among unsealed records")
	}
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
