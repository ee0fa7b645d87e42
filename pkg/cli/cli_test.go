package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/mcauth/pkg/accounts"
	"github.com/telekom/mcauth/pkg/autherr"
	"github.com/telekom/mcauth/pkg/output"
)

const profileID = "069a79f444e94726a5befca90e38aaf5"

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

// fakeServices answers every endpoint of the sign-in chain.
type fakeServices struct {
	mu           sync.Mutex
	pendingPolls int
	refreshes    int
	owned        bool
	refreshError string
}

func (f *fakeServices) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/devicecode", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"device_code":      "dev-1",
			"user_code":        "ABCD-EFGH",
			"verification_uri": "https://microsoft.com/link",
			"expires_in":       900,
			"interval":         5,
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.PostForm.Get("grant_type") {
		case "urn:ietf:params:oauth:grant-type:device_code":
			if f.pendingPolls > 0 {
				f.pendingPolls--
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "authorization_pending"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "msa-1", "refresh_token": "refresh-1", "token_type": "Bearer", "expires_in": 3600})
		case "refresh_token":
			if f.refreshError != "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": f.refreshError})
				return
			}
			f.refreshes++
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  "msa-2",
				"refresh_token": fmt.Sprintf("refresh-%d", f.refreshes+1),
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		}
	})
	xboxToken := func(token string) map[string]any {
		return map[string]any{
			"IssueInstant":  now.Format(time.RFC3339),
			"NotAfter":      now.Add(24 * time.Hour).Format(time.RFC3339),
			"Token":         token,
			"DisplayClaims": map[string]any{"xui": []map[string]string{{"uhs": "uhs-1"}}},
		}
	}
	mux.HandleFunc("/user/authenticate", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, xboxToken("xbl-1"))
	})
	mux.HandleFunc("/xsts/authorize", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, xboxToken("xsts-1"))
	})
	mux.HandleFunc("/authentication/login_with_xbox", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		n := f.refreshes
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"access_token": fmt.Sprintf("mc-bearer-%d", n), "expires_in": 86400})
	})
	mux.HandleFunc("/minecraft/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": profileID, "name": "Notch"})
	})
	mux.HandleFunc("/entitlements/mcstore", func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]string{}
		if f.owned {
			items = append(items, map[string]string{"name": "product_minecraft"}, map[string]string{"name": "game_minecraft"})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type testEnv struct {
	configPath   string
	accountsPath string
	services     *fakeServices
	opened       []string
	slept        []time.Duration
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{services: &fakeServices{owned: true, pendingPolls: 2}}
	server := httptest.NewServer(env.services.handler())
	t.Cleanup(server.Close)

	dir := t.TempDir()
	env.configPath = filepath.Join(dir, "config.yaml")
	env.accountsPath = filepath.Join(dir, "accounts.json")
	content := fmt.Sprintf(`version: v1
client-id: test-client
endpoints:
  device-code: %[1]s/devicecode
  token: %[1]s/token
  xbl: %[1]s/user/authenticate
  xsts: %[1]s/xsts/authorize
  minecraft: %[1]s
storage:
  accounts-file: %[2]s
http:
  rate-limit: -1
`, server.URL, env.accountsPath)
	require.NoError(t, os.WriteFile(env.configPath, []byte(content), 0o600))
	return env
}

func (e *testEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	root := NewRootCommand(Config{
		ConfigPath:   e.configPath,
		OutputWriter: buf,
		OpenBrowser: func(url string) error {
			e.opened = append(e.opened, url)
			return nil
		},
		Sleeper: func(ctx context.Context, d time.Duration) error {
			e.slept = append(e.slept, d)
			return ctx.Err()
		},
		Now: func() time.Time { return now },
	})
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func (e *testEnv) store(t *testing.T) *accounts.Store {
	t.Helper()
	s, err := accounts.Open(&accounts.FileBackend{Path: e.accountsPath}, nil)
	require.NoError(t, err)
	return s
}

func TestLoginPersistsAccount(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.execute(t, "login")
	require.NoError(t, err)
	assert.Contains(t, out, "open https://microsoft.com/link and enter the code ABCD-EFGH")
	assert.Contains(t, out, "Signed in as Notch (069a79f4-44e9-4726-a5be-fca90e38aaf5)")
	assert.Equal(t, []string{"https://microsoft.com/link"}, env.opened)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, env.slept)

	list := env.store(t).List()
	require.Len(t, list, 1)
	assert.Equal(t, "Notch", list[0].Name)
	assert.Equal(t, "mc-bearer-0", list[0].AccessToken)
	assert.Equal(t, "refresh-1", list[0].RefreshToken)
	assert.False(t, list[0].ExpiresAt.IsZero())
}

func TestLoginNoBrowser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.execute(t, "login", "--no-browser")
	require.NoError(t, err)
	assert.Empty(t, env.opened)
}

func TestLoginWithoutEntitlementWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.services.owned = false

	_, err := env.execute(t, "login", "--no-browser")
	require.Error(t, err)
	assert.ErrorIs(t, err, autherr.ErrEntitlementMissing)
	assert.Contains(t, FormatError(err), "does not own Minecraft")

	_, statErr := os.Stat(env.accountsPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoginRequiresClientID(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.WriteFile(env.configPath, []byte("version: v1\n"), 0o600))
	t.Setenv("MCAUTH_CLIENT_ID", "")

	_, err := env.execute(t, "login")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client-id is required")
}

func TestAccountsListAndRemove(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.execute(t, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved accounts")

	_, err = env.execute(t, "login", "--no-browser")
	require.NoError(t, err)

	out, err = env.execute(t, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Notch")
	assert.Contains(t, out, output.StatusValid)
	assert.NotContains(t, out, "mc-bearer")

	out, err = env.execute(t, "accounts", "list", "-o", "json")
	require.NoError(t, err)
	var views []output.AccountView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "069a79f4-44e9-4726-a5be-fca90e38aaf5", views[0].UUID)

	_, err = env.execute(t, "accounts", "list", "-o", "xml")
	require.Error(t, err)

	out, err = env.execute(t, "accounts", "remove", views[0].UUID)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed account")
	assert.Empty(t, env.store(t).List())

	_, err = env.execute(t, "accounts", "remove", views[0].UUID)
	assert.ErrorIs(t, err, autherr.ErrAccountNotFound)

	_, err = env.execute(t, "accounts", "remove", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid account uuid")
}

func seedAccount(t *testing.T, env *testEnv, expiresAt time.Time) uuid.UUID {
	t.Helper()
	id := uuid.MustParse(profileID)
	require.NoError(t, env.store(t).AddOrUpdate(accounts.MicrosoftAccount{
		Name:            "Notch",
		UUID:            id,
		AccessToken:     "cached-bearer",
		RefreshToken:    "refresh-1",
		LastRefreshTime: now.Add(-time.Hour),
		ExpiresAt:       expiresAt,
	}))
	return id
}

func TestTokenFastPath(t *testing.T) {
	env := newTestEnv(t)
	id := seedAccount(t, env, now.Add(time.Hour))

	out, err := env.execute(t, "token", id.String())
	require.NoError(t, err)
	assert.Equal(t, "cached-bearer\n", out)
	assert.Zero(t, env.services.refreshes)
}

func TestTokenRefreshesExpiringAccount(t *testing.T) {
	env := newTestEnv(t)
	id := seedAccount(t, env, now.Add(time.Minute))

	out, err := env.execute(t, "token", id.String())
	require.NoError(t, err)
	assert.Equal(t, "mc-bearer-1\n", out)
	assert.Equal(t, 1, env.services.refreshes)

	stored, err := env.store(t).Get(id)
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", stored.RefreshToken)
	assert.Equal(t, "mc-bearer-1", stored.AccessToken)
}

func TestTokenRefreshRejected(t *testing.T) {
	env := newTestEnv(t)
	env.services.refreshError = "invalid_grant"
	id := seedAccount(t, env, now.Add(time.Minute))

	_, err := env.execute(t, "token", id.String())
	require.Error(t, err)
	assert.ErrorIs(t, err, autherr.ErrRefreshInvalid)
	assert.Contains(t, FormatError(err), "Log in again")

	stored, err := env.store(t).Get(id)
	require.NoError(t, err)
	assert.True(t, stored.NeedsRelogin)
}

func TestTokenUnknownAccount(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.execute(t, "token", uuid.NewString())
	assert.ErrorIs(t, err, autherr.ErrAccountNotFound)
}

func TestFlagOverrides(t *testing.T) {
	env := newTestEnv(t)
	other := filepath.Join(t.TempDir(), "other.json")

	_, err := env.execute(t, "--accounts-file", other, "login", "--no-browser")
	require.NoError(t, err)
	_, err = os.Stat(other)
	require.NoError(t, err)
	_, err = os.Stat(env.accountsPath)
	assert.True(t, os.IsNotExist(err))

	_, err = env.execute(t, "--token-storage", "cloud", "accounts", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.token-storage")
}

func TestVersionCommand(t *testing.T) {
	buf := &bytes.Buffer{}
	root := NewRootCommand(Config{ConfigPath: "/nonexistent/mcauth.yaml", OutputWriter: buf})
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "mcauth ")

	buf.Reset()
	root = NewRootCommand(Config{ConfigPath: "/nonexistent/mcauth.yaml", OutputWriter: buf})
	root.SetArgs([]string{"version", "-o", "json"})
	require.NoError(t, root.Execute())
	var info map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Contains(t, info, "version")
}

func TestCompletionCommand(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			buf := &bytes.Buffer{}
			root := NewRootCommand(Config{ConfigPath: "/nonexistent/mcauth.yaml", OutputWriter: buf})
			root.SetArgs([]string{"completion", shell})
			require.NoError(t, root.Execute())
			assert.NotEmpty(t, buf.String())
		})
	}

	root := NewRootCommand(Config{ConfigPath: "/nonexistent/mcauth.yaml", OutputWriter: &bytes.Buffer{}})
	root.SetArgs([]string{"completion", "tcsh"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported shell")
}

func TestFormatError(t *testing.T) {
	assert.Empty(t, FormatError(nil))
	assert.Equal(t, "Cancelled.", FormatError(context.Canceled))
	assert.Equal(t, "plain", FormatError(fmt.Errorf("plain")))
	msg := FormatError(&autherr.Error{Kind: autherr.KindXstsRejected, Op: "xsts.authorize", Reason: autherr.NoXboxAccount, XErr: 2148916233})
	assert.Contains(t, msg, "no Xbox profile")
	assert.Contains(t, msg, "XErr=2148916233")
}

func TestCompleteAccountIDs(t *testing.T) {
	env := newTestEnv(t)
	id := seedAccount(t, env, now.Add(time.Hour))

	buf := &bytes.Buffer{}
	root := NewRootCommand(Config{ConfigPath: env.configPath, OutputWriter: &bytes.Buffer{}})
	root.SetOut(buf)
	root.SetArgs([]string{cobra.ShellCompRequestCmd, "token", "069a"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), id.String()+"\tNotch")

	buf.Reset()
	root = NewRootCommand(Config{ConfigPath: env.configPath, OutputWriter: &bytes.Buffer{}})
	root.SetOut(buf)
	root.SetArgs([]string{cobra.ShellCompRequestCmd, "accounts", "remove", "ffff"})
	require.NoError(t, root.Execute())
	assert.NotContains(t, buf.String(), id.String())
}
