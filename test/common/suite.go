package common

import (
	"os"
	"testing"
	"time"

	"appointments/pkg/client"
)

const ServerURLEnv = "TEST_SERVER_URL"

type IntegrationTestSuite struct {
	Client      *client.AppointmentsClient
	ServiceName string
}

// NewIntegrationTestSuite skips the calling test unless a running server is
// reachable at $TEST_SERVER_URL.
func NewIntegrationTestSuite(t *testing.T, serviceName string) *IntegrationTestSuite {
	t.Helper()

	serverURL := os.Getenv(ServerURLEnv)
	if serverURL == "" {
		t.Skipf("%s not set; skipping integration tests", ServerURLEnv)
	}

	return &IntegrationTestSuite{
		Client:      client.NewAppointmentsClient(serverURL, 10*time.Second),
		ServiceName: serviceName,
	}
}
