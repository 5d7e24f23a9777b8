package emulators

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"
)

const (
	testBigQueryEmulatorImage = "ghcr.io/goccy/bigquery-emulator:0.6.6"
	testBigQueryGRPCPort      = "9060"
	testBigQueryRestPort      = "9050"
)

// BigQueryConfig configures the BigQuery emulator container. Datasets are
// created up front; tables are left to the code under test, which is
// expected to auto-provision them.
type BigQueryConfig struct {
	ImageContainer
	ProjectID string
	Datasets  []string
}

func GetDefaultBigQueryConfig(projectID string, datasets ...string) BigQueryConfig {
	return BigQueryConfig{
		ImageContainer: ImageContainer{
			EmulatorImage:    testBigQueryEmulatorImage,
			EmulatorHTTPPort: testBigQueryRestPort,
			EmulatorGRPCPort: testBigQueryGRPCPort,
		},
		ProjectID: projectID,
		Datasets:  datasets,
	}
}

// SetupBigQueryEmulator starts the emulator, creates the configured
// datasets, and returns client options pointing at it.
func SetupBigQueryEmulator(t *testing.T, ctx context.Context, cfg BigQueryConfig) (opts []option.ClientOption, cleanupFunc func()) {
	t.Helper()
	httpPort := fmt.Sprintf("%s/tcp", cfg.EmulatorHTTPPort)
	grpcPort := fmt.Sprintf("%s/tcp", cfg.EmulatorGRPCPort)
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{httpPort, grpcPort},
		Cmd: []string{
			"--project=" + cfg.ProjectID,
			"--port=" + cfg.EmulatorHTTPPort,
			"--grpc-port=" + cfg.EmulatorGRPCPort,
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(nat.Port(httpPort)).WithStartupTimeout(60*time.Second),
			wait.ForListeningPort(nat.Port(grpcPort)).WithStartupTimeout(60*time.Second),
		),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedRestPort, err := container.MappedPort(ctx, nat.Port(httpPort))
	require.NoError(t, err)

	endpoint := fmt.Sprintf("http://%s:%s", host, mappedRestPort.Port())
	opts = []option.ClientOption{option.WithEndpoint(endpoint), option.WithoutAuthentication(), option.WithHTTPClient(&http.Client{})}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	require.NoError(t, err)
	defer client.Close()

	for _, dataset := range cfg.Datasets {
		err = client.Dataset(dataset).Create(ctx, &bigquery.DatasetMetadata{Name: dataset})
		if err != nil && !strings.Contains(err.Error(), "Already Exists") {
			require.NoError(t, err)
		}
	}

	return opts, func() { require.NoError(t, container.Terminate(ctx)) }
}
