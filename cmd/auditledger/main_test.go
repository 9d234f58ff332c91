package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attestia/grc-core/pkg/config"
	"github.com/attestia/grc-core/pkg/ledger"
	"github.com/attestia/grc-core/pkg/store/archive"
)

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"auditledger"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunDispatch(t *testing.T) {
	code, out, _ := run("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "auditledger verify")

	code, _, errOut := run("bogus")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command")

	code, _, _ = run()
	assert.Equal(t, 2, code)
}

func TestDemoWalkthrough(t *testing.T) {
	code, out, errOut := run("demo")
	require.Equal(t, 0, code, "stderr: %s", errOut)
	assert.Contains(t, out, "valid=true")
	assert.Contains(t, out, string(ledger.ReasonHashMismatch))
	assert.Contains(t, out, "denied and recorded")
}

func TestVerifyRejectsBadConfig(t *testing.T) {
	t.Setenv("AUDIT_DB_DRIVER", "oracle")
	t.Setenv("AUDIT_HASH_KEY", hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	t.Setenv("AUDIT_SIGN_KEY", hex.EncodeToString([]byte("fedcba9876543210fedcba9876543210")))

	code, _, errOut := run("verify")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "unsupported database driver")
}

// seedArchive populates a SQLite mirror with a short valid chain and
// points the AUDIT_* environment at it.
func seedArchive(t *testing.T) *ledger.Ledger {
	t.Helper()

	dbURL := "file:" + filepath.Join(t.TempDir(), "audit.db")
	t.Setenv("AUDIT_DB_DRIVER", "sqlite")
	t.Setenv("AUDIT_DB_URL", dbURL)
	t.Setenv("AUDIT_HASH_KEY", hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef")))
	t.Setenv("AUDIT_SIGN_KEY", hex.EncodeToString([]byte("fedcba9876543210fedcba9876543210")))

	keys, err := ledger.NewKeyring(
		[]byte("0123456789abcdef0123456789abcdef"),
		[]byte("fedcba9876543210fedcba9876543210"),
	)
	require.NoError(t, err)

	db, err := sql.Open("sqlite", dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := archive.New(db)
	require.NoError(t, store.Init(context.Background()))

	l := ledger.New(keys)
	store.Attach(l)
	for i := 0; i < 4; i++ {
		_, err := l.Append(ledger.Record{
			ActorID:      "user-1",
			Action:       "UPDATE",
			ResourceType: "control",
			ResourceID:   fmt.Sprintf("control-%d", i),
		})
		require.NoError(t, err)
	}
	return l
}

func TestVerifyHealthyArchive(t *testing.T) {
	l := seedArchive(t)

	code, out, errOut := run("verify", "--json")
	require.Equal(t, 0, code, "stderr: %s", errOut)

	var report verifyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, 4, report.Entries)
	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, l.Head(), report.TailHash)
}

func TestVerifyTamperedArchive(t *testing.T) {
	seedArchive(t)

	db, err := openArchive(loadMust(t))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	_, err = db.Exec(`UPDATE audit_entries SET actor_id = 'mallory' WHERE seq = 1`)
	require.NoError(t, err)

	code, out, _ := run("verify", "--json")
	require.Equal(t, 1, code)

	var report verifyReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Valid)
	assert.Equal(t, 1, report.BrokenAt)
	assert.Equal(t, string(ledger.ReasonHashMismatch), report.Reason)
	assert.Equal(t, 4, report.Entries, "full replayed size, not the examined prefix")
	assert.Equal(t, 1, report.Checked)
}

func TestSummaryFromArchive(t *testing.T) {
	seedArchive(t)

	code, out, errOut := run("summary")
	require.Equal(t, 0, code, "stderr: %s", errOut)

	var summary ledger.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 4, summary.Total)
}

func TestSummaryRefusesTamperedArchive(t *testing.T) {
	seedArchive(t)

	db, err := openArchive(loadMust(t))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	_, err = db.Exec(`UPDATE audit_entries SET action = 'DELETE' WHERE seq = 2`)
	require.NoError(t, err)

	code, _, errOut := run("summary")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "failed verification")
}

func loadMust(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := loadConfig("")
	require.NoError(t, err)
	return cfg
}
