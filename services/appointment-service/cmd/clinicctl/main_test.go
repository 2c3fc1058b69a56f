package main

import (
	"bytes"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandsRequireDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	for _, args := range [][]string{
		{"adjudicate", "a1"},
		{"force-status", "a1", "APPROVED"},
		{"suggest", "horizon"},
		{"suggest", "business-hours", "--date", "2025-06-10"},
		{"pending"},
		{"migrate", "up"},
	} {
		_, err := run(t, args...)
		require.Error(t, err, strings.Join(args, " "))
		assert.Contains(t, err.Error(), "DATABASE_URL is required", strings.Join(args, " "))
	}
}

func TestArgumentsValidatedBeforeConnecting(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://unused")
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"force-status", "a1", "CANCELLED"}, "unknown status"},
		{[]string{"suggest", "business-hours", "--date", "10/06/2025"}, "is not 2006-01-02"},
		{[]string{"suggest", "horizon", "--reference", "tomorrow"}, "is not RFC3339"},
		{[]string{"pending", "--limit", "0"}, "limit must be positive"},
		{[]string{"migrate", "force", "v3"}, `invalid version "v3"`},
		{[]string{"--timezone", "Not/AZone", "pending"}, "CLINIC_TIMEZONE must be an IANA time zone"},
	}
	for _, tc := range cases {
		_, err := run(t, tc.args...)
		require.Error(t, err, strings.Join(tc.args, " "))
		assert.Contains(t, err.Error(), tc.want, strings.Join(tc.args, " "))
	}
}

func TestBusinessHoursRequiresDate(t *testing.T) {
	_, err := run(t, "suggest", "business-hours")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"date" not set`)
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("4")
	require.NoError(t, err)
	assert.Equal(t, 4, v)

	v, err = parseVersion("-1")
	require.NoError(t, err)
	assert.Equal(t, -1, v)

	_, err = parseVersion("-2")
	assert.Error(t, err)
}

func startHealth(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	h := health.NewServer()
	h.SetServingStatus("appointment-service", status)
	healthpb.RegisterHealthServer(srv, h)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestHealthServing(t *testing.T) {
	addr := startHealth(t, healthpb.HealthCheckResponse_SERVING)
	out, err := run(t, "health", "--grpc-addr", addr)
	require.NoError(t, err)
	assert.Equal(t, "SERVING\n", out)
}

func TestHealthNotServing(t *testing.T) {
	addr := startHealth(t, healthpb.HealthCheckResponse_NOT_SERVING)
	out, err := run(t, "health", "--grpc-addr", addr)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(out, "NOT_SERVING\n"))
}
