package emulators

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	testRabbitMQImage = "rabbitmq:3.13-alpine"
	testRabbitMQPort  = "5672"
)

// RabbitMQConfig configures the broker container for tests.
type RabbitMQConfig struct {
	Image    string
	Username string
	Password string
}

func GetDefaultRabbitMQConfig() RabbitMQConfig {
	return RabbitMQConfig{
		Image:    testRabbitMQImage,
		Username: "guest",
		Password: "guest",
	}
}

// SetupRabbitMQContainer starts a plaintext broker and returns its mapped
// host and port. Queues are declared by the test itself.
func SetupRabbitMQContainer(t *testing.T, ctx context.Context, cfg RabbitMQConfig) (host string, port int, cleanupFunc func()) {
	t.Helper()
	amqpPort := fmt.Sprintf("%s/tcp", testRabbitMQPort)
	req := testcontainers.ContainerRequest{
		Image:        cfg.Image,
		ExposedPorts: []string{amqpPort},
		Env: map[string]string{
			"RABBITMQ_DEFAULT_USER": cfg.Username,
			"RABBITMQ_DEFAULT_PASS": cfg.Password,
		},
		WaitingFor: wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, err = container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, nat.Port(amqpPort))
	require.NoError(t, err)

	return host, mappedPort.Int(), func() { require.NoError(t, container.Terminate(ctx)) }
}
