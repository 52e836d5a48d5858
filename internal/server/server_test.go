package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shadowdhcp/shadowdhcpd/internal/reservfile"
	"github.com/shadowdhcp/shadowdhcpd/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	idsJSON = `{"v4":"10.0.0.1","v6":"00:02:00:00:4a:01:02:03:04"}`

	configJSONTmpl = `{
		"dns_v4": ["8.8.8.8"],
		"subnets_v4": [{"cidr": "100.64.0.0/24", "gateway": "100.64.0.1"}],
		"bind_v4": %q,
		"bind_v6": %q,
		"mgmt_addr": %q,
		"log_level": "info"
	}`

	reservationsJSON = `[
		{
			"mac": "00-11-22-33-44-55",
			"ipv4": "100.64.0.50",
			"ipv6_na": "2001:db8::50",
			"ipv6_pd": "2001:db8:50::/56"
		}
	]`
)

// freeUDPAddr and freeTCPAddr reserve an ephemeral port and immediately
// free it, so the fixture config can name a concrete address before
// Server binds it for real.
func freeUDPAddr(t *testing.T) string {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	require.NoError(t, conn.Close())

	return addr
}

func freeTCPAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	return addr
}

// writeFixture lays out a config directory and returns it along with the
// mgmt address it named, so tests can dial it once Server is started.
func writeFixture(t *testing.T) (dir, mgmtAddr string) {
	t.Helper()

	dir = t.TempDir()

	bindV4 := freeUDPAddr(t)
	bindV6 := freeUDPAddr(t)
	mgmtAddr = freeTCPAddr(t)

	configJSON := fmt.Sprintf(configJSONTmpl, bindV4, bindV6, mgmtAddr)

	require.NoError(t, os.WriteFile(filepath.Join(dir, reservfile.IdsFile), []byte(idsJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, reservfile.ConfigFile), []byte(configJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, reservfile.ReservationsFile), []byte(reservationsJSON), 0o644))

	return dir, mgmtAddr
}

func dialMgmt(t *testing.T, addr string) net.Conn {
	t.Helper()

	for i := 0; i < 50; i++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("could not dial mgmt server")

	return nil
}

func mgmtRoundTrip(t *testing.T, conn net.Conn, req map[string]any) map[string]any {
	t.Helper()

	b, err := json.Marshal(req)
	require.NoError(t, err)

	_, err = conn.Write(append(b, '\n'))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(line, &resp))

	return resp
}

func TestNew_LoadsInitialSnapshot(t *testing.T) {
	dir, _ := writeFixture(t)

	s, err := server.New(dir, slog.Default())
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestServer_StartStatusReloadShutdown(t *testing.T) {
	dir, mgmtAddr := writeFixture(t)

	s, err := server.New(dir, slog.Default())
	require.NoError(t, err)

	require.NoError(t, s.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, s.Shutdown(ctx))
	}()

	conn := dialMgmt(t, mgmtAddr)
	defer conn.Close()

	resp := mgmtRoundTrip(t, conn, map[string]any{"command": "status"})
	assert.Equal(t, true, resp["success"])
	assert.EqualValues(t, 1, resp["reservation_count"])

	// Append a second reservation on disk, then reload over the mgmt
	// socket, and confirm the published count picks it up.
	updated := `[
		{
			"mac": "00-11-22-33-44-55",
			"ipv4": "100.64.0.50",
			"ipv6_na": "2001:db8::50",
			"ipv6_pd": "2001:db8:50::/56"
		},
		{
			"mac": "00-11-22-33-44-66",
			"ipv4": "100.64.0.51",
			"ipv6_na": "2001:db8::51",
			"ipv6_pd": "2001:db8:51::/56"
		}
	]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, reservfile.ReservationsFile), []byte(updated), 0o644))

	resp = mgmtRoundTrip(t, conn, map[string]any{"command": "reload"})
	assert.Equal(t, true, resp["success"])
	assert.EqualValues(t, 2, resp["reservation_count"])

	resp = mgmtRoundTrip(t, conn, map[string]any{"command": "status"})
	assert.EqualValues(t, 2, resp["reservation_count"])
}

func TestServer_Replace(t *testing.T) {
	dir, mgmtAddr := writeFixture(t)

	s, err := server.New(dir, slog.Default())
	require.NoError(t, err)

	require.NoError(t, s.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, s.Shutdown(ctx))
	}()

	conn := dialMgmt(t, mgmtAddr)
	defer conn.Close()

	req := map[string]any{
		"command": "replace",
		"reservations": json.RawMessage(`[
			{
				"mac": "00-aa-bb-cc-dd-ee",
				"ipv4": "100.64.0.99",
				"ipv6_na": "2001:db8::99",
				"ipv6_pd": "2001:db8:99::/56"
			}
		]`),
	}

	resp := mgmtRoundTrip(t, conn, req)
	assert.Equal(t, true, resp["success"])
	assert.EqualValues(t, 1, resp["reservation_count"])

	persisted, err := os.ReadFile(filepath.Join(dir, reservfile.ReservationsFile))
	require.NoError(t, err)
	assert.Contains(t, string(persisted), "100.64.0.99")
}
